package run

import (
	"io"
	"log"

	"noadproxy/internal/blocklist"
	"noadproxy/internal/conf"
	"noadproxy/internal/diag"
	"noadproxy/internal/flog"
	"noadproxy/internal/server"

	"github.com/spf13/cobra"
)

var confPath string

func init() {
	Cmd.Flags().StringVarP(&confPath, "config", "c", "config.yaml", "Path to the configuration file.")
}

var Cmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the proxy described by the config file.",
	Long: `The 'run' command reads the specified YAML configuration file, opens the
blocklist and serves CONNECT requests until interrupted. The instance connects
to targets itself when forward.addr equals listen.addr and relays through
forward.addr otherwise.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := conf.LoadFromFile(confPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		logFile := initialize(cfg)
		defer logFile.Close()

		store, err := blocklist.Open(&cfg.Blocklist)
		if err != nil {
			flog.Fatalf("Failed to open blocklist %s: %v", cfg.Blocklist.Database, err)
		}
		defer store.Close()

		srv, err := server.New(cfg, store)
		if err != nil {
			flog.Fatalf("Failed to initialize server: %v", err)
		}
		if err := srv.Start(); err != nil {
			flog.Fatalf("Server encountered an error: %v", err)
		}
	},
}

func initialize(cfg *conf.Conf) io.Closer {
	flog.SetLevel(cfg.Log.Level)
	logFile := flog.SetFile(flog.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	diag.Enable(cfg.Debug.Diag)
	if cfg.Debug.Diag {
		info := diag.ConfigInfo{
			ListenAddr:  cfg.Listen.Addr_,
			ForwardAddr: cfg.Forward.Addr_,
			Transport:   cfg.Forward.Transport,
			Terminal:    cfg.Terminal(),
			SOCKS5Addr:  cfg.Listen.SOCKS5_,
			Blocklist:   cfg.Blocklist.Driver,
			MaxConns:    cfg.Limits.MaxConns,
			Pprof:       cfg.Debug.Pprof,
		}
		if cfg.Listen.KCP != nil {
			info.KCPAddr = cfg.Listen.KCP.Addr_
		}
		diag.SetConfig(info)
	}
	startDebug(cfg.Debug.Pprof)
	return logFile
}
