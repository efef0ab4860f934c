package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set through -ldflags "-X noadproxy/cmd/version.Version=..." at build time.
var (
	Version   = "dev"
	GitTag    = ""
	GitCommit = ""
	BuildTime = ""
)

var Cmd = &cobra.Command{
	Use:   "version",
	Short: "Prints build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), String())
	},
}

func String() string {
	return fmt.Sprintf("noadproxy %s (tag=%s commit=%s built=%s %s/%s %s)",
		Version, GitTag, GitCommit, BuildTime, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
