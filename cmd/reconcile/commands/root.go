package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// defaultConfigFile is read when --config is not given.
const defaultConfigFile = "reconcile.cue"

var (
	// Global flags
	configPath  string
	profileName string
	flowName    string
	outputName  string
	jsonOutput  bool
	verbose     bool
	events      bool
	metricsAddr string

	version = "dev"

	// interrupt is fired on the first SIGINT or SIGTERM.
	interrupt = engine.NewInterrupt()
)

// Execute runs the root command. intr is fired when the user asks the
// running command to stop.
func Execute(ctx context.Context, intr *engine.Interrupt, ver, commit, buildDate string) error {
	if intr != nil {
		interrupt = intr
	}
	version = ver
	return newRootCommand(ver, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(ver, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Declarative state reconciliation",
		Long: `reconcile moves a graph of managed items from their current state to their
goal state.

Each item knows how to discover its current and goal states, diff them and
apply the difference. Items run in dependency order, concurrently where the
graph allows, and report progress while they work.

Typical workflow:
  reconcile init          # write a starter reconcile.cue
  reconcile discover      # record current and goal states
  reconcile diff          # show what would change
  reconcile ensure        # apply the goal states
  reconcile clean         # remove everything the flow manages`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", ver, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file or directory (default "+defaultConfigFile+")")
	flags.StringVarP(&profileName, "profile", "p", "", "workspace profile (overrides workspace.profile)")
	flags.StringVarP(&flowName, "flow", "f", "", "flow to operate on (required when several are configured)")
	flags.StringVarP(&outputName, "output", "o", "text", "output format: text, yaml or json")
	flags.BoolVar(&jsonOutput, "json", false, "shorthand for --output json")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&events, "events", false, "stream progress and outcomes as JSON lines on stderr")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newDiscoverCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newEnsureCommand())
	rootCmd.AddCommand(newCleanCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
