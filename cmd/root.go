// Package cmd wires conductor's cobra CLI: configuration loading via a
// custom-delimiter viper instance, logging and tracing bootstrap, and the
// "run" command that submits tasks to the Worker Pool.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
	viperlib "github.com/spf13/viper"

	"github.com/foreflux/conductor/internal/config"
	"github.com/foreflux/conductor/internal/infrastructure/sqlite"
	"github.com/foreflux/conductor/internal/log"
	"github.com/foreflux/conductor/internal/orchestration/arbiter"
	"github.com/foreflux/conductor/internal/orchestration/decision"
	"github.com/foreflux/conductor/internal/orchestration/events"
	"github.com/foreflux/conductor/internal/orchestration/oracle"
	"github.com/foreflux/conductor/internal/orchestration/pool"
	"github.com/foreflux/conductor/internal/orchestration/rules"
	"github.com/foreflux/conductor/internal/orchestration/status"
	"github.com/foreflux/conductor/internal/orchestration/tracing"
	"github.com/foreflux/conductor/internal/orchestration/worker"
	"github.com/foreflux/conductor/internal/watcher"
)

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	debugFlag bool
	tasksFile string

	// viper is a custom viper instance with "::" as key delimiter instead
	// of ".". This allows command tokens containing dots (e.g. shell
	// invocations) to be used as literal scalar values without being
	// interpreted as nested paths.
	viper = viperlib.NewWithOptions(viperlib.KeyDelimiter("::"))
)

var rootCmd = &cobra.Command{
	Use:     "conductor",
	Short:   "Interactive worker orchestration and arbitration engine",
	Long:    `conductor supervises interactive AI coding agents under a pseudo-terminal, detects confirmation prompts, and arbitrates them via rules and an AI arbiter.`,
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Submit one or more tasks to the worker pool and wait for results",
	RunE:  runRun,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .conductor/config.yaml if present, else ~/.config/conductor/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also: CONDUCTOR_DEBUG=1)")

	runCmd.Flags().StringVar(&tasksFile, "tasks-file", "",
		"YAML file of tasks ([]{name, prompt}); each positional argument becomes an additional single task")
	runCmd.Flags().IntVar(&maxWorkersFlag, "max-workers", 0,
		"override pool.max_workers (0 = use config)")
	runCmd.Flags().BoolVar(&watchFlag, "watch", false,
		"tail each worker's transcript directory via fsnotify and print activity as an external tailer would see it")

	rootCmd.AddCommand(runCmd)
}

var (
	maxWorkersFlag int
	watchFlag      bool
)

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("workspace_root", defaults.WorkspaceRoot)
	viper.SetDefault("pool::max_workers", defaults.Pool.MaxWorkers)
	viper.SetDefault("session::command", defaults.Session.Command)
	viper.SetDefault("session::max_iterations", defaults.Session.MaxIterations)
	viper.SetDefault("session::expect_timeout", defaults.Session.ExpectTimeout)
	viper.SetDefault("session::session_timeout", defaults.Session.SessionTimeout)
	viper.SetDefault("session::closing_grace", defaults.Session.ClosingGrace)
	viper.SetDefault("oracle::kind", defaults.Oracle.Kind)
	viper.SetDefault("oracle::command", defaults.Oracle.Command)
	viper.SetDefault("oracle::timeout", defaults.Oracle.Timeout)
	viper.SetDefault("tracing::enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing::exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing::otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing::sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("session_storage::base_dir", defaults.SessionStorage.BaseDir)
	viper.SetDefault("timeouts::workspace_setup", defaults.Timeouts.WorkspaceSetup)
	viper.SetDefault("ledger::enabled", defaults.Ledger.Enabled)
	viper.SetDefault("ledger::path", defaults.Ledger.Path)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if _, err := os.Stat(".conductor/config.yaml"); err == nil {
			viper.SetConfigFile(".conductor/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "conductor"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viperlib.ConfigFileNotFoundError
		if errors.As(err, &configNotFound) {
			defaultPath := ".conductor/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// taskSpec is one entry of a --tasks-file YAML document.
type taskSpec struct {
	Name   string   `yaml:"name"`
	Prompt string   `yaml:"prompt"`
	Needs  []string `yaml:"needs"`
}

func loadTasks(args []string) ([]worker.Task, error) {
	var tasks []worker.Task

	if tasksFile != "" {
		raw, err := os.ReadFile(tasksFile)
		if err != nil {
			return nil, fmt.Errorf("reading tasks file: %w", err)
		}
		var specs []taskSpec
		if err := yaml.Unmarshal(raw, &specs); err != nil {
			return nil, fmt.Errorf("parsing tasks file: %w", err)
		}
		for i, s := range specs {
			if s.Name == "" {
				s.Name = fmt.Sprintf("task-%d", i+1)
			}
			var deps map[string]struct{}
			if len(s.Needs) > 0 {
				deps = make(map[string]struct{}, len(s.Needs))
				for _, d := range s.Needs {
					deps[d] = struct{}{}
				}
			}
			tasks = append(tasks, worker.Task{ID: s.Name, Name: s.Name, Prompt: s.Prompt, Dependencies: deps})
		}
	}

	for i, prompt := range args {
		name := fmt.Sprintf("task-%d", len(tasks)+i+1)
		tasks = append(tasks, worker.Task{ID: name, Name: name, Prompt: prompt})
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks given: pass prompts as arguments or --tasks-file")
	}
	return tasks, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	debug := os.Getenv("CONDUCTOR_DEBUG") != "" || debugFlag
	if debug {
		logPath := os.Getenv("CONDUCTOR_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		defer cleanup()
		log.SetMinLevel(log.LevelDebug)
		log.Info(log.CatConfig, "conductor starting", "version", version, "debug", true)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tasks, err := loadTasks(args)
	if err != nil {
		return err
	}

	workspaceRoot := cfg.WorkspaceRoot
	if workspaceRoot == "" {
		workDir, wdErr := os.Getwd()
		if wdErr != nil {
			return fmt.Errorf("getting current directory: %w", wdErr)
		}
		workspaceRoot = workDir
	}
	if !filepath.IsAbs(workspaceRoot) {
		workDir, wdErr := os.Getwd()
		if wdErr != nil {
			return fmt.Errorf("getting current directory: %w", wdErr)
		}
		workspaceRoot = filepath.Join(workDir, workspaceRoot)
	}

	tracingCfg := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  "conductor-orchestrator",
	}
	if tracingCfg.Enabled && tracingCfg.Exporter == "file" && tracingCfg.FilePath == "" {
		tracingCfg.FilePath = config.DefaultTracesFilePath()
	}
	provider, err := tracing.NewProvider(tracingCfg)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}()

	var arb decision.Arbiter
	switch cfg.Oracle.Kind {
	case "mock":
		arb = arbiter.New(oracle.NewMockOracle(), cfg.Oracle.Timeout)
	default:
		arb = arbiter.New(oracle.NewSubprocessOracle(cfg.Oracle.Command, cfg.Oracle.Env), cfg.Oracle.Timeout)
	}

	statusMonitor := status.New()
	publisher := events.NewPublisher(30 * time.Second)
	defer publisher.Close()

	sessionCfg := worker.Config{
		Command:        cfg.Session.Command,
		Env:            cfg.Session.Env,
		WorkspaceRoot:  workspaceRoot,
		MaxIterations:  cfg.Session.MaxIterations,
		ExpectTimeout:  cfg.Session.ExpectTimeout,
		SessionTimeout: cfg.Session.SessionTimeout,
		ClosingGrace:   cfg.Session.ClosingGrace,
	}

	if cfg.Ledger.Enabled {
		ledgerDB, err := sqlite.NewDB(cfg.Ledger.Path)
		if err != nil {
			return fmt.Errorf("opening decision ledger: %w", err)
		}
		defer func() { _ = ledgerDB.Close() }()
		sessionCfg.SessionRepo = ledgerDB.SessionRepository()
		sessionCfg.DecisionRepo = ledgerDB.DecisionRepository()
	}

	maxWorkers := cfg.Pool.MaxWorkers
	if maxWorkersFlag > 0 {
		maxWorkers = maxWorkersFlag
	}

	p := pool.New(pool.Config{
		MaxWorkers:     maxWorkers,
		SessionConfig:  sessionCfg,
		DecisionEngine: decision.NewEngine(rules.NewEngine(), arb),
		StatusMonitor:  statusMonitor,
		Publisher:      publisher,
		Timeout:        cfg.Pool.Timeout,
	})

	var stopTail func()
	if watchFlag {
		stopTail = tailWorkspaces(workspaceRoot, tasks)
	}

	results := p.Submit(cmd.Context(), tasks)

	if stopTail != nil {
		stopTail()
	}

	failures := 0
	for _, r := range results {
		if r.Success {
			fmt.Printf("OK   %s (trace %s)\n", r.WorkerID, r.TraceID)
		} else {
			failures++
			fmt.Printf("FAIL %s: %s (trace %s)\n", r.WorkerID, r.ErrorMessage, r.TraceID)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d tasks failed", failures, len(results))
	}
	return nil
}

// tailWorkspaces starts one transcript watcher per task, printing a line
// to stdout whenever a worker's raw_terminal.log or
// dialogue_transcript.jsonl changes. This exercises internal/watcher the
// way an external tailer (e.g. the out-of-scope HTTP/WebSocket surface)
// would: following artifacts on disk instead of subscribing to the
// in-process Event Publisher. It returns a func that stops every watcher;
// callers must call it once the pool submission returns.
func tailWorkspaces(workspaceRoot string, tasks []worker.Task) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for _, t := range tasks {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			dir := filepath.Join(workspaceRoot, workerID)

			var w *watcher.Watcher
			for {
				if _, err := os.Stat(dir); err == nil {
					var werr error
					w, werr = watcher.New(watcher.DefaultConfig(dir))
					if werr == nil {
						break
					}
				}
				select {
				case <-stop:
					return
				case <-time.After(100 * time.Millisecond):
				}
			}

			onChange, err := w.Start()
			if err != nil {
				return
			}
			defer func() { _ = w.Stop() }()

			for {
				select {
				case <-onChange:
					fmt.Printf("tail %s: transcript updated\n", workerID)
				case <-stop:
					return
				}
			}
		}(t.ID)
	}

	return func() {
		close(stop)
		wg.Wait()
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
