package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile/pkg/config"
	"github.com/openfroyo/reconcile/pkg/items"
	"github.com/openfroyo/reconcile/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Validate the configuration without touching any item.

This command checks:
  - CUE syntax and schema conformance
  - Item kinds and parameters
  - Dependencies (unknown items, cycles)
  - Policy files compile`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig(ctx)
			if err != nil {
				var perr *config.ParseError
				if errors.As(err, &perr) {
					for _, ve := range perr.Errors {
						fmt.Fprintf(out, "✗ %s\n", ve)
					}
				}
				return err
			}

			reg := items.DefaultRegistry()
			total := 0
			var failed []error
			for _, flow := range cfg.FlowIDs() {
				graph, err := cfg.BuildGraph(flow, reg, items.Env{Fs: osFs})
				if err != nil {
					fmt.Fprintf(out, "✗ flow %s: %v\n", flow, err)
					failed = append(failed, err)
					continue
				}
				total += graph.Len()
				fmt.Fprintf(out, "✓ flow %s: %d items\n", flow, graph.Len())
			}

			tel := telemetry.Nop()
			pe, err := loadPolicies(ctx, cfg, tel)
			if err != nil {
				fmt.Fprintf(out, "✗ policies: %v\n", err)
				failed = append(failed, err)
			} else {
				fmt.Fprintf(out, "✓ policies: %d loaded\n", len(pe.List()))
			}

			if len(failed) > 0 {
				return fmt.Errorf("configuration is invalid: %w", errors.Join(failed...))
			}
			fmt.Fprintf(out, "\nConfiguration is valid: %d flows, %d items\n", len(cfg.Flows), total)
			return nil
		},
	}
}
