package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile/pkg/blocks"
	"github.com/openfroyo/reconcile/pkg/cmds"
	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/output"
)

// runFn runs one command on a prepared environment.
type runFn func(ctx context.Context, e *env) (*engine.ExecutionOutcome, error)

// renderFn prints the results of a finished command.
type renderFn func(w io.Writer, e *env, o *engine.ExecutionOutcome) error

// runFlowCommand opens the environment, runs fn, prints its results and
// turns an unsuccessful outcome into an error.
func runFlowCommand(cmd *cobra.Command, command string, fn runFn, render renderFn) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	stop := e.serveMetrics(ctx)
	defer stop()

	e.tel.Logger.WithFlow(string(e.fd.Profile), string(e.fd.Flow)).
		WithField("command", command).Debug("Running command")

	outcome, err := fn(e.tel.WithContext(ctx), e)
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), e, command, outcome, render)
}

func report(w io.Writer, e *env, command string, outcome *engine.ExecutionOutcome, render renderFn) error {
	if render != nil {
		if err := render(w, e, outcome); err != nil {
			return err
		}
	}
	if e.format == output.FormatText {
		if err := output.RenderSummary(w, command, outcome); err != nil {
			return err
		}
	}
	if !outcome.State.IsSuccess() {
		return fmt.Errorf("%s finished with state %s", command, outcome.State)
	}
	return nil
}

// renderStates prints the states stored under key, if the command got far
// enough to produce them.
func renderStates[Ts engine.StatesTs](key engine.ResourceKey[engine.States[Ts]]) renderFn {
	return func(w io.Writer, e *env, o *engine.ExecutionOutcome) error {
		states, ok := engine.Get(o.Resources, key)
		if !ok {
			return nil
		}
		return output.RenderStates(w, e.format, e.graph, states)
	}
}

func renderDiffs(w io.Writer, e *env, o *engine.ExecutionOutcome) error {
	diffs, ok := engine.Get(o.Resources, blocks.StateDiffsKey)
	if !ok {
		return nil
	}
	return output.RenderDiffs(w, e.format, e.graph, diffs)
}

func newDiscoverCommand() *cobra.Command {
	var goal bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover and store current and goal states",
		Long: `Discover the current and goal state of every item in the flow and store them
in the workspace.

Ensure and clean refuse to run until the stored current states match what
is discovered, so run discover after changing managed items by hand.`,
		Example: `  # Discover states of the only configured flow
  reconcile discover

  # Show goal states instead of current states
  reconcile discover --goal --flow web`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			render := renderStates(blocks.StatesCurrentKey)
			if goal {
				render = renderStates(blocks.StatesGoalKey)
			}
			return runFlowCommand(cmd, cmds.CommandDiscover, func(ctx context.Context, e *env) (*engine.ExecutionOutcome, error) {
				return e.runner.Discover(ctx, interrupt)
			}, render)
		},
	}

	cmd.Flags().BoolVar(&goal, "goal", false, "print goal states instead of current states")

	return cmd
}

func newDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Show how current states differ from goal states",
		Long: `Discover current and goal states and print the difference per item.
Nothing is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlowCommand(cmd, cmds.CommandDiff, func(ctx context.Context, e *env) (*engine.ExecutionOutcome, error) {
				return e.runner.Diff(ctx, interrupt)
			}, renderDiffs)
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Diff the stored current and goal states",
		Long: `Print the difference between the states recorded by the last discover,
ensure or clean. Items are not contacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlowCommand(cmd, cmds.CommandStatus, func(ctx context.Context, e *env) (*engine.ExecutionOutcome, error) {
				return e.runner.Status(ctx, interrupt)
			}, renderDiffs)
		},
	}
}

func newEnsureCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Move every item to its goal state",
		Long: `Apply goal states in dependency order. Items whose current state already
matches the goal are left alone.

The stored states must be in sync with the discovered states; items that
changed since the last discover fail with STATES_OUT_OF_SYNC. Configured
policies are evaluated against every item's diff before anything is applied.`,
		Example: `  # Preview changes
  reconcile ensure --dry-run

  # Apply and print the resulting states as JSON
  reconcile ensure --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return runFlowCommand(cmd, cmds.CommandEnsureDry, func(ctx context.Context, e *env) (*engine.ExecutionOutcome, error) {
					return e.runner.EnsureDry(ctx, interrupt)
				}, renderStates(blocks.StatesEnsuredDryKey))
			}
			return runFlowCommand(cmd, cmds.CommandEnsure, func(ctx context.Context, e *env) (*engine.ExecutionOutcome, error) {
				return e.runner.Ensure(ctx, interrupt)
			}, renderStates(blocks.StatesEnsuredKey))
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without applying it")

	return cmd
}

func newCleanCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove every item, dependents first",
		Long: `Move every item to its clean state in reverse dependency order. An item is
only cleaned once everything depending on it has been cleaned.

Protected items (policies.protected_items) are refused by the built-in
policy unless --dry-run is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return runFlowCommand(cmd, cmds.CommandCleanDry, func(ctx context.Context, e *env) (*engine.ExecutionOutcome, error) {
					return e.runner.CleanDry(ctx, interrupt)
				}, renderStates(blocks.StatesCleanedDryKey))
			}
			return runFlowCommand(cmd, cmds.CommandClean, func(ctx context.Context, e *env) (*engine.ExecutionOutcome, error) {
				return e.runner.Clean(ctx, interrupt)
			}, renderStates(blocks.StatesCleanedKey))
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without removing it")

	return cmd
}
