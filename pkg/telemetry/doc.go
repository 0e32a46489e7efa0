// Package telemetry provides logging, tracing and metrics for reconcile
// commands.
//
// Logging uses zerolog. Logs go to stderr so that stdout stays free for
// command output such as rendered states or JSON progress:
//
//	tel, err := telemetry.New(ctx, telemetry.DefaultConfig(), os.Stderr)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.NewComponentLogger("cmd").WithFlow("default", "app")
//	logger.Info("Starting ensure")
//
// Tracing uses OpenTelemetry. With tracing disabled a no-op tracer is used
// and spans cost nothing. The otlp exporter sends spans over gRPC, the
// stdout exporter pretty-prints them.
//
// Metrics use Prometheus with a private registry. Serve exposes them over
// HTTP for the lifetime of a context, which is how the watch command keeps
// them available between runs.
//
// # Engine integration
//
// Observer implements engine.Observer. Pass it to a command execution and
// every execution, block and item gets a span, a duration observation and
// a status counter:
//
//	exec, err := engine.NewCmdExecutionBuilder(blocks...).
//		WithObserver(tel.Observer("ensure")).
//		WithLogger(tel.Logger.Zerolog()).
//		Build()
//
// Exported metrics (namespace "reconcile"):
//
//	executions_started_total{command}
//	executions_completed_total{command,state}
//	execution_duration_seconds{command}
//	active_executions
//	interrupts_total
//	blocks_total{block,state}
//	block_duration_seconds{block}
//	progress_updates_total{block}
//	items_total{block,status}
//	item_duration_seconds{block}
//	errors_by_class_total{class}
//	errors_by_code_total{code}
//	policy_violations_total{policy,severity}
package telemetry
