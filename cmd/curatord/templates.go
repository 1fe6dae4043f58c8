package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List workflow templates",
		Long: `List the workflow templates the orchestrator selects from, including
any loaded from orchestrator.templates_dir. Phases marked * pause for
approval in conversational mode; phases marked ! abort the session when
they fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INTENT\tNAME\tEST.\tPHASES")
			for _, t := range a.catalog.Templates() {
				phases := make([]string, 0, len(t.Phases))
				for _, p := range t.Phases {
					id := p.ID
					if p.RequiresApproval {
						id += "*"
					}
					if p.Critical {
						id += "!"
					}
					phases = append(phases, id)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Intent, t.Name, t.EstimatedDuration(), strings.Join(phases, " → "))
			}
			return w.Flush()
		},
	}
}
