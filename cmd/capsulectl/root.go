package main

import (
	"github.com/spf13/cobra"

	"github.com/iliyamo/time-capsule/internal/config"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWith(nil)
}

// newRootCommandWith builds the command tree reading the environment
// through lookup (nil means the process environment).
func newRootCommandWith(lookup config.Lookup) *cobra.Command {
	var dbFlag string
	ctx := newCommandContext(&dbFlag, lookup)

	rootCmd := &cobra.Command{
		Use:           "capsulectl",
		Short:         "Time capsule operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database file (overrides DB_* settings)")

	rootCmd.AddCommand(newPendingCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))
	rootCmd.AddCommand(newHashPassphraseCommand(ctx))
	return rootCmd
}
