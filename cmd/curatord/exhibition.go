package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/curatord/internal/agent"
	"github.com/fyrsmithlabs/curatord/internal/agents"
	"github.com/fyrsmithlabs/curatord/internal/coordinator"
)

type exhibitionOptions struct {
	req        coordinator.ExhibitionRequest
	user       string
	ceiling    float64
	collection string
}

func newExhibitionCmd() *cobra.Command {
	opts := &exhibitionOptions{}
	cmd := &cobra.Command{
		Use:   "exhibition",
		Short: "Plan an exhibition with the concept, budget and archive agents",
		Long: `Run the coordinator's fixed exhibition workflow: a concept, then a
budget estimate when --budget is set, then related collection objects
when --collection points at a YAML list of objects. Prints the plan as
JSON.

Examples:
  curatord exhibition --title "Salt and Silver" --theme "early photography"
  curatord exhibition --theme "tidal ecology" --budget 40000 --currency EUR --collection objects.yaml`,
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

			deps := a.agentDeps
			if opts.collection != "" {
				items, err := loadCollection(opts.collection)
				if err != nil {
					return err
				}
				deps.Tools = []agent.Tool{agents.NewCollectionSearchTool(items)}
			}
			coord, err := coordinator.NewFromRegistry(a.registry, deps, a.logger.Underlying(),
				agents.NameConcept, agents.NameBudget, agents.NameArchive)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("budget") {
				opts.req.BudgetCeiling = &opts.ceiling
			}
			ec := a.loader.LoadContext(cmd.Context(), opts.user, "exhibition")
			plan, err := coord.CreateExhibitionWorkflow(cmd.Context(), opts.req, ec)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.req.Title, "title", "", "working title")
	f.StringVar(&opts.req.Theme, "theme", "", "exhibition theme")
	f.StringVar(&opts.req.Audience, "audience", "", "target audience")
	f.StringVar(&opts.req.Notes, "notes", "", "extra guidance for the agents")
	f.StringVar(&opts.req.Currency, "currency", "", "budget currency (default from the budget agent)")
	f.Float64Var(&opts.ceiling, "budget", 0, "budget ceiling; enables the budget step")
	f.StringVar(&opts.collection, "collection", "", "YAML file of collection objects for the archive step")
	f.StringVar(&opts.user, "user", "cli", "user whose history informs the agents")
	return cmd
}

// loadCollection reads a YAML list of archive items.
func loadCollection(path string) ([]agents.ArchiveItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading collection: %w", err)
	}
	var raw []map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing collection %s: %w", path, err)
	}
	// ArchiveItem carries json tags only; round-trip through JSON so YAML
	// keys match them.
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing collection %s: %w", path, err)
	}
	var items []agents.ArchiveItem
	if err := json.Unmarshal(buf, &items); err != nil {
		return nil, fmt.Errorf("parsing collection %s: %w", path, err)
	}
	return items, nil
}
