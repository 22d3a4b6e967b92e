package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string
	Dev      bool
}

// NewRootCommand creates the root command for envoyd.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "envoyd",
		Short: "Run the diplomacy bridge in-process",
		Long: `envoyd hosts a diplomacy bridge inside a Go process with a managed-side
dispatcher, an optional admin HTTP server and a soak generator that plays
the untrusted caller.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.Dev, "dev", false, "console log output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
