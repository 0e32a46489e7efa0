package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/openfroyo/reconcile/pkg/cmds"
	"github.com/openfroyo/reconcile/pkg/config"
	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/items"
	"github.com/openfroyo/reconcile/pkg/output"
	"github.com/openfroyo/reconcile/pkg/policy"
	"github.com/openfroyo/reconcile/pkg/stores"
	"github.com/openfroyo/reconcile/pkg/telemetry"
	"github.com/openfroyo/reconcile/pkg/workspace"
)

// osFs is the filesystem every command works on.
var osFs = afero.NewOsFs()

// env is everything a flow command needs. Close releases it.
type env struct {
	cfg      *config.File
	tel      *telemetry.Telemetry
	ws       *workspace.Workspace
	fd       workspace.FlowDir
	graph    *engine.ItemGraph
	policies *policy.Engine
	history  *stores.SQLiteStore
	runner   *cmds.Runner
	format   output.Format

	// ownsTel is false when the telemetry outlives the environment.
	ownsTel bool

	closers []io.Closer
}

func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i].Close())
	}
	if e.tel != nil && e.ownsTel {
		errs = append(errs, e.tel.Shutdown(context.Background()))
	}
	return errors.Join(errs...)
}

func configSource() string {
	if configPath != "" {
		return configPath
	}
	return defaultConfigFile
}

func loadConfig(ctx context.Context) (*config.File, error) {
	return config.NewParser(osFs).Parse(ctx, configSource())
}

func outputFormat() (output.Format, error) {
	if jsonOutput {
		return output.FormatJSON, nil
	}
	return output.ParseFormat(outputName)
}

// telemetryConfig maps the file's telemetry section and the global flags
// onto a telemetry configuration.
func telemetryConfig(cfg *config.File, profile string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Environment = profile

	tc.Logging.Level = cfg.Telemetry.Log.Level
	tc.Logging.Format = cfg.Telemetry.Log.Format
	if verbose {
		tc.Logging.Level = "debug"
	}

	t := cfg.Telemetry.Tracing
	tc.Tracing.Enabled = t.Enabled && t.Exporter != "none"
	tc.Tracing.Exporter = t.Exporter
	tc.Tracing.Endpoint = t.Endpoint
	tc.Tracing.SamplingRate = t.SamplingRate
	tc.Tracing.Insecure = t.Insecure

	tc.Metrics.ListenAddress = cfg.Telemetry.Metrics.Address
	if metricsAddr != "" {
		tc.Metrics.ListenAddress = metricsAddr
	}
	return tc
}

func selectProfile(cfg *config.File) string {
	if profileName != "" {
		return profileName
	}
	return cfg.Workspace.Profile
}

// selectFlow returns --flow, or the only configured flow.
func selectFlow(cfg *config.File) (engine.FlowID, error) {
	if flowName != "" {
		return engine.NewFlowID(flowName)
	}
	ids := cfg.FlowIDs()
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("no flows configured in %s", configSource())
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%d flows configured, choose one with --flow: %v", len(ids), ids)
	}
}

// loadPolicies builds the policy engine from the file's policies section.
func loadPolicies(ctx context.Context, cfg *config.File, tel *telemetry.Telemetry) (*policy.Engine, error) {
	logger := tel.Logger.Zerolog()
	pe, err := policy.NewEngine(ctx, logger, policy.Options{ProtectedItems: cfg.Policies.ProtectedItemIDs()})
	if err != nil {
		return nil, err
	}
	paths := cfg.PolicyPaths()
	if len(paths) == 0 {
		return pe, nil
	}
	loaded, err := policy.NewLoader(osFs, logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	if err := pe.Replace(ctx, loaded); err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}
	return pe, nil
}

// openHistory opens the execution history of fd, creating the database on
// first use.
func openHistory(ctx context.Context, ws *workspace.Workspace, fd workspace.FlowDir) (*stores.SQLiteStore, error) {
	path := ws.HistoryPath(fd)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return stores.OpenSQLiteStore(ctx, stores.SQLiteConfig{Path: path})
}

func presenter(tel *telemetry.Telemetry) engine.Presenter {
	if events {
		return output.NewJSONPresenter(os.Stderr)
	}
	return output.NewLogPresenter(tel.Logger.Zerolog())
}

// openEnv loads the configuration and prepares the selected flow.
func openEnv(ctx context.Context) (*env, error) {
	return openEnvWith(ctx, nil)
}

// openEnvWith is openEnv reusing tel when it is not nil.
func openEnvWith(ctx context.Context, tel *telemetry.Telemetry) (_ *env, err error) {
	e := &env{tel: tel}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	if e.format, err = outputFormat(); err != nil {
		return nil, err
	}
	if e.cfg, err = loadConfig(ctx); err != nil {
		return nil, err
	}

	profile := selectProfile(e.cfg)
	if e.tel == nil {
		if e.tel, err = telemetry.New(ctx, telemetryConfig(e.cfg, profile), os.Stderr); err != nil {
			return nil, err
		}
		e.ownsTel = true
	}

	flow, err := selectFlow(e.cfg)
	if err != nil {
		return nil, err
	}
	e.graph, err = e.cfg.BuildGraph(flow, items.DefaultRegistry(), items.Env{Fs: osFs})
	if err != nil {
		return nil, err
	}

	profileID, err := engine.NewProfile(profile)
	if err != nil {
		return nil, err
	}
	e.ws = workspace.New(osFs, e.cfg.WorkspaceDir())
	e.fd = workspace.FlowDir{Profile: profileID, Flow: flow}
	if err := e.ws.Init(e.fd); err != nil {
		return nil, err
	}

	storage, closer, err := stores.Open(ctx, e.cfg.StoreOptions(osFs, e.ws.StateDir()))
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	e.closers = append(e.closers, closer)

	if e.history, err = openHistory(ctx, e.ws, e.fd); err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	e.closers = append(e.closers, e.history)

	if e.policies, err = loadPolicies(ctx, e.cfg, e.tel); err != nil {
		return nil, err
	}

	cctx, err := workspace.NewCmdCtxBuilder(e.ws).
		WithProfile(profile).
		WithFlow(string(flow), e.graph).
		WithStorage(storage).
		WithLogger(e.tel.Logger.WithFlow(profile, string(flow)).Zerolog()).
		Build(ctx)
	if err != nil {
		return nil, err
	}

	e.runner = cmds.NewRunner(cctx, cmds.Options{
		Presenter:      presenter(e.tel),
		Telemetry:      e.tel,
		Policies:       e.policies,
		History:        e.history,
		MaxParallel:    e.cfg.Engine.MaxParallel,
		ProgressBuffer: e.cfg.Engine.ProgressBuffer,
	})
	return e, nil
}

// serveMetrics serves metrics until the returned stop function is called.
func (e *env) serveMetrics(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		if err := e.tel.Metrics.Serve(ctx, e.tel.Logger); err != nil {
			e.tel.Logger.WithError(err).Warn("Metrics server stopped")
		}
	}()
	return cancel
}
