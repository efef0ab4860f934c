package main

import (
	"os"

	"noadproxy/cmd/initdb"
	"noadproxy/cmd/run"
	"noadproxy/cmd/status"
	"noadproxy/cmd/version"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "noadproxy",
	Short: "HTTPS CONNECT proxy that refuses tunnels to blocklisted domains",
	Long: `noadproxy accepts HTTP CONNECT requests, drops the ones whose domain is on
the blocklist with a 400 and tunnels the rest, either straight to the target
or through another noadproxy instance.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(run.Cmd, initdb.Cmd, status.Cmd, version.Cmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
