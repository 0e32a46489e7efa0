package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/output"
	"github.com/openfroyo/reconcile/pkg/stores"
	"github.com/openfroyo/reconcile/pkg/workspace"
)

func newHistoryCommand() *cobra.Command {
	var (
		command string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past executions of a flow",
		Long:  `List recorded executions of the selected flow, newest first.`,
		Example: `  # Last 20 executions
  reconcile history

  # Only ensure runs, as JSON
  reconcile history --command ensure --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			format, err := outputFormat()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			profile, err := engine.NewProfile(selectProfile(cfg))
			if err != nil {
				return err
			}
			flow, err := selectFlow(cfg)
			if err != nil {
				return err
			}

			fd := workspace.FlowDir{Profile: profile, Flow: flow}
			history, err := openHistory(ctx, workspace.New(osFs, cfg.WorkspaceDir()), fd)
			if err != nil {
				return err
			}
			defer history.Close()

			recs, err := history.ListExecutions(ctx, stores.ExecutionFilter{
				Profile: string(profile),
				Flow:    string(flow),
				Command: command,
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			records := make([]stores.ExecutionRecord, len(recs))
			for i, r := range recs {
				records[i] = *r
			}
			return output.RenderHistory(cmd.OutOrStdout(), format, records)
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "only list executions of this command")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of executions to list")

	return cmd
}
