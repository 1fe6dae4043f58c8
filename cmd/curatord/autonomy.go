package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

func newAutonomyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autonomy <user>",
		Short: "Show a user's autonomy level",
		Long: `Show the autonomy level derived from how many of the user's
approval decisions were approvals. Levels range from 1 to 5.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			warn := zapcore.WarnLevel
			a, err := newApp(cmd.Context(), cfg, appOptions{logLevel: &warn})
			if err != nil {
				return err
			}
			defer a.Close()

			level, err := a.loader.CalculateAutonomyLevel(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("autonomy for %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: level %d\n", args[0], level)
			return nil
		},
	}
}
