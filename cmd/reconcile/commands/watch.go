package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile/pkg/blocks"
	"github.com/openfroyo/reconcile/pkg/cmds"
	"github.com/openfroyo/reconcile/pkg/policy"
)

// watchDelay debounces bursts of config writes into one run.
const watchDelay = 500 * time.Millisecond

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-run discover and ensure whenever the configuration changes",
		Long: `Run discover and ensure once, then again every time a configuration file
changes. Policy files are reloaded in place without a run.

Metrics stay served on --metrics-addr for as long as watch runs. The first
SIGINT stops after the current block; the second aborts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

// watchDirs returns the directories holding the configuration sources.
func watchDirs(sources []string) []string {
	var dirs []string
	for _, src := range sources {
		dir := filepath.Dir(src)
		if !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func isConfigEvent(ev fsnotify.Event) bool {
	return filepath.Ext(ev.Name) == ".cue" &&
		ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

func watch(ctx context.Context, out io.Writer) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	// The telemetry is shared by every reloaded environment and shut down
	// here.
	tel := e.tel
	e.ownsTel = false
	defer func() {
		_ = e.Close()
		_ = tel.Shutdown(context.Background())
	}()

	stopMetrics := e.serveMetrics(ctx)
	defer stopMetrics()

	logger := tel.Logger.NewComponentLogger("watch")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()
	for _, dir := range watchDirs(e.cfg.SourceFiles) {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	reloaded := make(chan []policy.Policy)
	loader := policy.NewLoader(osFs, tel.Logger.Zerolog())
	if paths := e.cfg.PolicyPaths(); len(paths) > 0 {
		err := loader.Watch(ctx, paths, func(ps []policy.Policy) error {
			select {
			case reloaded <- ps:
			case <-ctx.Done():
			}
			return nil
		})
		if err != nil {
			return err
		}
		defer loader.StopWatching()
	}

	reconcileOnce(ctx, out, e)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-interrupt.Done():
			logger.Info("Watch interrupted")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if isConfigEvent(ev) {
				logger.WithField("file", ev.Name).Debug("Configuration changed")
				pending = time.After(watchDelay)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Watcher error")

		case ps := <-reloaded:
			if err := e.policies.Replace(ctx, ps); err != nil {
				logger.WithError(err).Error("Failed to reload policies, keeping the previous set")
				continue
			}
			logger.WithField("count", len(ps)).Info("Policies reloaded")

		case <-pending:
			pending = nil
			next, err := openEnvWith(ctx, tel)
			if err != nil {
				logger.WithError(err).Error("Invalid configuration, keeping the previous one")
				continue
			}
			_ = e.Close()
			e = next
			logger.Info("Configuration reloaded")
			reconcileOnce(ctx, out, e)
		}
	}
}

// reconcileOnce runs discover then ensure. Failures are reported and
// logged; watching continues.
func reconcileOnce(ctx context.Context, out io.Writer, e *env) {
	logger := e.tel.Logger.NewComponentLogger("watch")
	ctx = e.tel.WithContext(ctx)

	outcome, err := e.runner.Discover(ctx, interrupt)
	if err == nil {
		err = report(out, e, cmds.CommandDiscover, outcome, nil)
	}
	if err != nil {
		logger.WithError(err).Error("Discover failed, skipping ensure")
		return
	}

	outcome, err = e.runner.Ensure(ctx, interrupt)
	if err == nil {
		err = report(out, e, cmds.CommandEnsure, outcome, renderStates(blocks.StatesEnsuredKey))
	}
	if err != nil {
		logger.WithError(err).Error("Ensure failed")
	}
}
