// Package config defines conductor's configuration schema: pool sizing,
// per-session timeouts, the PTY worker command, oracle selection, tracing,
// and session storage. It is unmarshaled from YAML via viper, following
// the teacher's pattern of a typed Config struct plus free-standing
// Default*/Validate* helpers rather than struct methods for validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for the conductor orchestrator.
type Config struct {
	// WorkspaceRoot is the parent directory under which every worker
	// session gets its own <WorkspaceRoot>/<workerID> workspace. Relative
	// paths are resolved against the current working directory.
	WorkspaceRoot string `mapstructure:"workspace_root"`

	Pool    PoolConfig    `mapstructure:"pool"`
	Session SessionConfig `mapstructure:"session"`
	Oracle  OracleConfig  `mapstructure:"oracle"`

	Tracing        TracingConfig        `mapstructure:"tracing"`
	SessionStorage SessionStorageConfig `mapstructure:"session_storage"`
	Timeouts       TimeoutsConfig       `mapstructure:"timeouts"`
	Ledger         LedgerConfig         `mapstructure:"ledger"`
}

// LedgerConfig controls the optional SQLite-backed audit trail of every
// WorkerSession and Decision (internal/infrastructure/sqlite), queryable
// across orchestrator runs. Disabled by default: the Hybrid Decision
// Engine and Interactive Worker Session operate identically with or
// without a ledger, since persistence there is an audit log, not a
// resumable queue.
type LedgerConfig struct {
	// Enabled turns on sqlite persistence of worker sessions and decisions.
	// Default: false.
	Enabled bool `mapstructure:"enabled"`

	// Path is the sqlite database file. Default: ~/.conductor/ledger.db
	Path string `mapstructure:"path"`
}

// DefaultLedgerPath returns the default path for the decision ledger
// database. Returns "" if the home directory is unavailable.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".conductor", "ledger.db")
}

// PoolConfig controls the Worker Pool (C8)'s concurrency bound.
type PoolConfig struct {
	// MaxWorkers bounds the number of Interactive Worker Sessions run
	// concurrently. Default: 4.
	MaxWorkers int `mapstructure:"max_workers"`

	// Timeout bounds an entire pool Submit call; zero means no pool-level
	// deadline beyond each session's own SessionTimeout.
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig configures every Interactive Worker Session (C1/C7) the
// pool spawns.
type SessionConfig struct {
	// Command is the worker CLI to spawn under the PTY, e.g.
	// []string{"claude", "--dangerously-skip-permissions"}.
	Command []string `mapstructure:"command"`
	Env     []string `mapstructure:"env"`

	// MaxIterations bounds confirmation-handling loop iterations per
	// session. Default: 75 (spec.md §4.7's 50-100 guidance).
	MaxIterations int `mapstructure:"max_iterations"`

	// ExpectTimeout bounds each PTY read-and-match poll. Default: 3s
	// (spec.md §5 caps this at <=3s).
	ExpectTimeout time.Duration `mapstructure:"expect_timeout"`

	// SessionTimeout is the absolute wall-time budget per session.
	// Default: 10m.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// ClosingGrace is the grace period given to a worker process between
	// SIGTERM and SIGKILL. Default: 5s.
	ClosingGrace time.Duration `mapstructure:"closing_grace"`
}

// OracleConfig selects and configures the AI Arbiter's Oracle backend.
type OracleConfig struct {
	// Kind selects the Oracle implementation.
	// Options: "subprocess", "mock"
	// Default: "subprocess"
	Kind string `mapstructure:"kind"`

	// Command is the one-shot, non-interactive command the subprocess
	// Oracle spawns per confirmation, e.g. []string{"claude", "-p"}.
	Command []string `mapstructure:"command"`
	Env     []string `mapstructure:"env"`

	// Timeout bounds each AI Arbiter call. Default: 30s (spec.md §5:
	// "AI Arbiter calls (network-bounded timeout)").
	Timeout time.Duration `mapstructure:"timeout"`
}

// TracingConfig configures OpenTelemetry tracing across PTY spawn,
// confirmation handling, and arbiter requests.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	// Default: ~/.config/conductor/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// SessionStorageConfig controls where transcript/artifact directories
// (C9) are written.
type SessionStorageConfig struct {
	// BaseDir is the parent directory under which each worker session's
	// artifact directory is created.
	// Default: ~/.conductor/sessions
	BaseDir string `mapstructure:"base_dir"`

	// ApplicationName namespaces BaseDir when a single conductor instance
	// serves multiple projects. Derived from the working directory name
	// when empty.
	ApplicationName string `mapstructure:"application_name"`
}

// TimeoutsConfig bounds the coordination phases surrounding worker
// sessions: workspace setup before a session starts and teardown after.
type TimeoutsConfig struct {
	// WorkspaceSetup bounds preparing a worker's workspace directory
	// before its session starts. Default: 30s.
	WorkspaceSetup time.Duration `mapstructure:"workspace_setup"`

	// MaxTotal bounds an entire run (every task in a pool submission).
	// Zero means no aggregate bound beyond PoolConfig.Timeout.
	MaxTotal time.Duration `mapstructure:"max_total"`
}

// DefaultTimeoutsConfig returns the default timeout phases.
func DefaultTimeoutsConfig() TimeoutsConfig {
	return TimeoutsConfig{
		WorkspaceSetup: 30 * time.Second,
		MaxTotal:       0,
	}
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/conductor/traces/traces.jsonl, or "" if the home
// directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "conductor", "traces", "traces.jsonl")
}

// DefaultSessionStorageBaseDir returns the default path for session
// artifact storage. Returns ~/.conductor/sessions, or "" if the home
// directory is unavailable.
func DefaultSessionStorageBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".conductor", "sessions")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		WorkspaceRoot: ".conductor/workspaces",
		Pool: PoolConfig{
			MaxWorkers: 4,
		},
		Session: SessionConfig{
			Command:        []string{"claude", "--dangerously-skip-permissions"},
			MaxIterations:  75,
			ExpectTimeout:  3 * time.Second,
			SessionTimeout: 10 * time.Minute,
			ClosingGrace:   5 * time.Second,
		},
		Oracle: OracleConfig{
			Kind:    "subprocess",
			Command: []string{"claude", "-p"},
			Timeout: 30 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		SessionStorage: SessionStorageConfig{
			BaseDir:         DefaultSessionStorageBaseDir(),
			ApplicationName: "", // Derived from working directory name
		},
		Timeouts: DefaultTimeoutsConfig(),
		Ledger: LedgerConfig{
			Enabled: false,
			Path:    DefaultLedgerPath(),
		},
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with
// comments, written out the first time conductor runs without a config
// file.
func DefaultConfigTemplate() string {
	return `# conductor configuration

# Parent directory under which each worker session gets its own workspace.
workspace_root: .conductor/workspaces

# Worker pool concurrency.
pool:
  max_workers: 4
  # timeout: 30m   # bounds an entire pool submission; unset = no bound

# Interactive Worker Session settings.
session:
  command: ["claude", "--dangerously-skip-permissions"]
  max_iterations: 75
  expect_timeout: 3s
  session_timeout: 10m
  closing_grace: 5s

# AI Arbiter oracle.
oracle:
  kind: subprocess   # "subprocess" or "mock"
  command: ["claude", "-p"]
  timeout: 30s

# Distributed tracing (spans for PTY spawn, confirmations, arbiter calls).
tracing:
  enabled: false
  exporter: file       # "none", "file", "stdout", or "otlp"
  # file_path: ~/.config/conductor/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0

# Where transcript/artifact directories are written.
session_storage:
  base_dir: ~/.conductor/sessions
  # application_name: myproject

# Coordination-phase timeouts surrounding worker sessions.
timeouts:
  workspace_setup: 30s
  # max_total: 1h

# Durable audit trail of every worker session and decision (sqlite).
ledger:
  enabled: false
  # path: ~/.conductor/ledger.db
`
}

// WriteDefaultConfig writes the default config template to path, creating
// any parent directories as needed.
func WriteDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return os.WriteFile(path, []byte(DefaultConfigTemplate()), 0o644)
}

// ValidatePool checks pool configuration for errors.
func ValidatePool(pool PoolConfig) error {
	if pool.MaxWorkers < 0 {
		return fmt.Errorf("pool.max_workers must be >= 0, got %d", pool.MaxWorkers)
	}
	return nil
}

// ValidateSession checks session configuration for errors.
func ValidateSession(session SessionConfig) error {
	if len(session.Command) == 0 {
		return fmt.Errorf("session.command must not be empty")
	}
	if session.ExpectTimeout < 0 || session.ExpectTimeout > 3*time.Second {
		return fmt.Errorf("session.expect_timeout must be between 0 and 3s, got %v", session.ExpectTimeout)
	}
	return nil
}

// ValidateOracle checks oracle configuration for errors.
func ValidateOracle(oracle OracleConfig) error {
	switch oracle.Kind {
	case "subprocess", "mock":
	default:
		return fmt.Errorf(`oracle.kind must be "subprocess" or "mock", got %q`, oracle.Kind)
	}
	if oracle.Kind == "subprocess" && len(oracle.Command) == 0 {
		return fmt.Errorf("oracle.command is required when oracle.kind is \"subprocess\"")
	}
	return nil
}

// ValidateSessionStorage checks session storage configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateSessionStorage(storage SessionStorageConfig) error {
	if storage.BaseDir != "" && !filepath.IsAbs(storage.BaseDir) && storage.BaseDir[0] != '~' {
		return fmt.Errorf("session_storage.base_dir must be an absolute path, got %q", storage.BaseDir)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf(`tracing.file_path is required when exporter is "file"`)
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf(`tracing.otlp_endpoint is required when exporter is "otlp"`)
		}
	}

	return nil
}

// ValidateLedger checks ledger configuration for errors.
func ValidateLedger(ledger LedgerConfig) error {
	if ledger.Enabled && ledger.Path == "" {
		return fmt.Errorf("ledger.path is required when ledger.enabled is true")
	}
	return nil
}

// Validate runs every Validate* check against cfg in turn and returns the
// first failure.
func Validate(cfg Config) error {
	if err := ValidatePool(cfg.Pool); err != nil {
		return err
	}
	if err := ValidateSession(cfg.Session); err != nil {
		return err
	}
	if err := ValidateOracle(cfg.Oracle); err != nil {
		return err
	}
	if err := ValidateSessionStorage(cfg.SessionStorage); err != nil {
		return err
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	if err := ValidateLedger(cfg.Ledger); err != nil {
		return err
	}
	return nil
}
