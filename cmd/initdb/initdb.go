package initdb

import (
	"context"
	"fmt"
	"log"

	"noadproxy/internal/blocklist"
	"noadproxy/internal/conf"

	"github.com/spf13/cobra"
)

var (
	confPath string
	source   string
)

func init() {
	Cmd.Flags().StringVarP(&confPath, "config", "c", "config.yaml", "Path to the configuration file.")
	Cmd.Flags().StringVar(&source, "source", "", "Domain list to load. Overrides blocklist.source.")
}

var Cmd = &cobra.Command{
	Use:   "init",
	Short: "Recreates the blocklist and fills it from a domain list",
	Long: `The 'init' command drops the configured blocklist, recreates it and loads
one domain per line from the source file. Blank lines and lines starting with
'#' are skipped, so hosts-style lists such as the hagezi ones load as is.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := conf.LoadFromFile(confPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		if err := run(cmd.Context(), cfg); err != nil {
			log.Fatalf("%v", err)
		}
	},
}

func run(ctx context.Context, cfg *conf.Conf) error {
	path := source
	if path == "" {
		path = cfg.Blocklist.Source
	}
	if path == "" {
		return fmt.Errorf("no domain list: set blocklist.source or pass --source")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := blocklist.Open(&cfg.Blocklist)
	if err != nil {
		return fmt.Errorf("open blocklist %s: %w", cfg.Blocklist.Database, err)
	}
	defer store.Close()

	fmt.Printf("Recreating %s blocklist on %s\n", cfg.Blocklist.Driver, cfg.Blocklist.Database)
	n, err := blocklist.Populate(ctx, store, path)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d domains from %s\n", n, path)
	return nil
}
