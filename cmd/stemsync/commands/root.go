package commands

import (
	"context"
	"log/slog"
	"os"

	"stemsync/lib/telemetry"

	"github.com/spf13/cobra"
)

// set by the build with -ldflags "-X stemsync/cmd/stemsync/commands.version=..."
var version = "dev"

var (
	configPath string
	verbose    bool
	dumpHttp   string
)

var rootCmd = &cobra.Command{
	Use:          "stemsync",
	Short:        "Mirror the participants, lists and files of a STEM Wizard region.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		telemetry.InitSlog(verbose)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "stemwizardapi.yaml", "config file, a .local variant next to it overrides values")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log debug messages")
	flags.StringVar(&dumpHttp, "dump-http", "", "write every portal request and response into this directory")
}

// ExecuteContext runs the command line and exits non-zero on failure.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("stemsync failed", "err", err)
		os.Exit(1)
	}
}
