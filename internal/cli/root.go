package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var flagConfig string

// Version is stamped at build time via -ldflags "-X tickrun/internal/cli.Version=...".
var Version = "dev"

func defaultConfig() string {
	if p := os.Getenv("TICKRUN_CONFIG"); p != "" {
		return p
	}
	return ""
}

// NewRootCmd creates the root cobra command for the tickrun CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tickrun",
		Short:        "tickrun — cooperative fixed-priority task loop",
		Long:         "tickrun runs a fixed set of cooperative tasks on a millisecond tick,\ndispatching at most one task per scan in strict slot-priority order.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", defaultConfig(),
		"path to config file, yaml or json (or TICKRUN_CONFIG env); empty runs defaults")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newTraceCmd(),
		newVersionCmd(),
	)
	return root
}
