package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/stores"
)

// File is a fully parsed configuration.
type File struct {
	Workspace WorkspaceConfig       `json:"workspace"`
	Engine    EngineConfig          `json:"engine"`
	Storage   StorageConfig         `json:"storage"`
	Telemetry TelemetryConfig       `json:"telemetry"`
	Policies  PolicyConfig          `json:"policies"`
	Flows     map[string]FlowConfig `json:"flows" validate:"dive"`

	// BaseDir is the directory relative paths are resolved against.
	BaseDir string `json:"-"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"-"`
}

// WorkspaceConfig locates the workspace and selects the default profile.
type WorkspaceConfig struct {
	Dir     string `json:"dir" validate:"required"`
	Profile string `json:"profile" validate:"required"`
}

// EngineConfig tunes command execution.
type EngineConfig struct {
	// ProgressBuffer is the capacity of each block's progress channel.
	ProgressBuffer int `json:"progress_buffer" validate:"gte=1"`

	// MaxParallel bounds how many items of one group run at once.
	MaxParallel int `json:"max_parallel" validate:"gte=1"`
}

// StorageConfig selects where persisted states live.
type StorageConfig struct {
	Backend string        `json:"backend" validate:"oneof=file sqlite s3"`
	SQLite  *SQLiteConfig `json:"sqlite,omitempty"`
	S3      *S3Config     `json:"s3,omitempty"`
}

// SQLiteConfig configures the sqlite storage backend.
type SQLiteConfig struct {
	Path string `json:"path"`
}

// S3Config configures the s3 storage backend.
type S3Config struct {
	Bucket string `json:"bucket" validate:"required"`
	Prefix string `json:"prefix,omitempty"`
	Region string `json:"region,omitempty"`
}

// TelemetryConfig configures logging, tracing and metrics.
type TelemetryConfig struct {
	Log     LogConfig     `json:"log"`
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string `json:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" validate:"oneof=console json"`
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	Exporter     string  `json:"exporter" validate:"oneof=stdout otlp none"`
	Endpoint     string  `json:"endpoint,omitempty"`
	SamplingRate float64 `json:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `json:"insecure"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Address string `json:"address,omitempty"`
}

// PolicyConfig configures the apply policy gate.
type PolicyConfig struct {
	// Paths lists .rego files, JSON policy files or directories.
	Paths []string `json:"paths"`

	// ProtectedItems may not be cleaned.
	ProtectedItems []string `json:"protected_items"`
}

// ProtectedItemIDs returns ProtectedItems as item IDs.
func (p PolicyConfig) ProtectedItemIDs() []engine.ItemID {
	out := make([]engine.ItemID, len(p.ProtectedItems))
	for i, id := range p.ProtectedItems {
		out[i] = engine.ItemID(id)
	}
	return out
}

// FlowConfig lists the items of one flow.
type FlowConfig struct {
	Items []ItemConfig `json:"items" validate:"min=1,dive"`
}

// ItemConfig declares one item and the items it depends on.
type ItemConfig struct {
	ID        string         `json:"id" validate:"required"`
	Kind      string         `json:"kind" validate:"required"`
	Params    map[string]any `json:"params,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
}

// ResolvePath resolves p against BaseDir unless it is absolute.
func (f *File) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.BaseDir, p)
}

// WorkspaceDir returns the resolved workspace directory.
func (f *File) WorkspaceDir() string {
	return f.ResolvePath(f.Workspace.Dir)
}

// PolicyPaths returns the resolved policy paths.
func (f *File) PolicyPaths() []string {
	out := make([]string, len(f.Policies.Paths))
	for i, p := range f.Policies.Paths {
		out[i] = f.ResolvePath(p)
	}
	return out
}

// StoreOptions returns the storage options for the configured backend.
// stateDir holds file states and the default sqlite database.
func (f *File) StoreOptions(fs afero.Fs, stateDir string) stores.Options {
	opts := stores.Options{
		Backend: stores.Backend(f.Storage.Backend),
		Fs:      fs,
		Dir:     stateDir,
	}
	if opts.Backend == stores.BackendSQLite {
		path := filepath.Join(stateDir, "states.db")
		if f.Storage.SQLite != nil && f.Storage.SQLite.Path != "" {
			path = f.ResolvePath(f.Storage.SQLite.Path)
		}
		opts.SQLite = stores.SQLiteConfig{Path: path}
	}
	if f.Storage.S3 != nil {
		opts.S3 = stores.S3Config{
			Bucket: f.Storage.S3.Bucket,
			Prefix: f.Storage.S3.Prefix,
			Region: f.Storage.S3.Region,
		}
	}
	return opts
}

// ValidationError is one configuration problem with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the configuration path (e.g., "flows.deploy.items[0].id").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// String formats the error as file:line:col: path: message.
func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ParseError collects every problem found while loading a configuration.
type ParseError struct {
	Errors []ValidationError
}

func (e *ParseError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "invalid configuration"
	case 1:
		return "invalid configuration: " + e.Errors[0].String()
	default:
		return fmt.Sprintf("invalid configuration: %s (and %d more)", e.Errors[0].String(), len(e.Errors)-1)
	}
}
