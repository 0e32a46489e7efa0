package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile/pkg/items"
)

func newGraphCommand() *cobra.Command {
	var groups bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print a flow's item graph",
		Long: `Print the dependency graph of a flow in Graphviz DOT format, or the groups
of items that run concurrently.`,
		Example: `  # Render the graph
  reconcile graph | dot -Tsvg > flow.svg

  # Show the execution order
  reconcile graph --groups`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			flow, err := selectFlow(cfg)
			if err != nil {
				return err
			}
			graph, err := cfg.BuildGraph(flow, items.DefaultRegistry(), items.Env{Fs: osFs})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !groups {
				_, err = fmt.Fprint(out, graph.ToDOT())
				return err
			}
			for i, group := range graph.RankConcurrentGroups() {
				ids := make([]string, len(group))
				for j, id := range group {
					ids[j] = string(id)
				}
				fmt.Fprintf(out, "%d: %s\n", i, strings.Join(ids, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&groups, "groups", false, "print concurrency groups instead of DOT")

	return cmd
}
