package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/trigdb/internal/config"
	"github.com/roach88/trigdb/internal/journal"
	"github.com/roach88/trigdb/internal/logging"
	"github.com/roach88/trigdb/internal/runtime"
	"github.com/roach88/trigdb/internal/trigger"
)

// RunOptions holds flags for the run command. Flags left unset keep the
// value from the config file or environment.
type RunOptions struct {
	*RootOptions
	Config   string
	Manifest string
	Scripts  string
	Journal  string
	Ticks    int
	Watch    bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scripted world",
		Long: `Apply a trigger manifest, spawn one object per Lua script and run the
update loop until interrupted or the tick limit is reached.

Settings come from the optional --config TOML file, then TRIGDB_*
environment variables, then flags.

Example:
  trigdb run --manifest ./manifest --scripts ./scripts
  trigdb run --config trigdb.toml --journal ./trigdb.db --ticks 600
  trigdb run --scripts ./scripts --watch --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorld(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to TOML config file")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "directory holding the CUE trigger manifest")
	cmd.Flags().StringVar(&opts.Scripts, "scripts", "", "directory of Lua object scripts")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (disabled when empty)")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 0, "stop after this many ticks (0 = run until interrupted)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "respawn objects when their script changes")

	return cmd
}

// resolveConfig loads the config file and environment, then applies the
// flags the user set explicitly.
func resolveConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("manifest") {
		cfg.ManifestDir = opts.Manifest
	}
	if flags.Changed("scripts") {
		cfg.ScriptDir = opts.Scripts
	}
	if flags.Changed("journal") {
		cfg.JournalPath = opts.Journal
	}
	if flags.Changed("watch") {
		cfg.Watch = opts.Watch
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	if cfg.ManifestDir == "" && cfg.ScriptDir == "" {
		return config.Config{}, errors.New("nothing to run: set --manifest or --scripts")
	}
	return cfg, nil
}

func runWorld(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := resolveConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logCfg := cfg.Logging()
	logCfg.Output = cmd.ErrOrStderr()
	logger, err := logging.New(logCfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	dbOpts := []trigger.Option{
		trigger.WithLogger(logger.Named("trigger")),
		trigger.WithMaxDepth(cfg.MaxDepth),
	}
	if cfg.JournalPath != "" {
		logger.Info("opening journal", zap.String("path", cfg.JournalPath))
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Error("error closing journal", zap.Error(err))
			}
		}()
		last, err := j.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		dbOpts = append(dbOpts,
			trigger.WithRecorder(j),
			trigger.WithSequencer(trigger.NewSequencerAt(last)),
		)
	}
	db := trigger.New(dbOpts...)

	if cfg.ManifestDir != "" {
		m, err := LoadManifest(cfg.ManifestDir)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load manifest", err)
		}
		if err := m.Apply(db); err != nil {
			return WrapExitError(ExitCommandError, "failed to apply manifest", err)
		}
		logger.Info("manifest applied",
			zap.String("dir", cfg.ManifestDir),
			zap.Int("namespaces", len(m.Namespaces)),
			zap.Int("triggers", m.TriggerCount()),
		)
	}

	world := runtime.NewWorld(db, runtime.WithWorldLogger(logger.Named("world")))
	if cfg.ScriptDir != "" {
		objs, err := world.SpawnDir(cfg.ScriptDir)
		if err != nil {
			// Scripts that loaded keep running.
			logger.Error("some scripts failed to spawn", zap.Error(err))
		}
		logger.Info("objects spawned", zap.Int("count", len(objs)))
	}

	rt := runtime.New(world,
		runtime.WithTickInterval(cfg.TickInterval.Duration),
		runtime.WithMaxTicks(opts.Ticks),
		runtime.WithLogger(logger.Named("runtime")),
	)
	if cfg.Watch && cfg.ScriptDir != "" {
		if err := rt.Watch(cfg.ScriptDir, 0); err != nil {
			_ = world.Close()
			return WrapExitError(ExitCommandError, "failed to watch scripts", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "World running. Press Ctrl-C to stop.")
	err = rt.Run(ctx)
	db.Shutdown()
	if err != nil && !errors.Is(err, runtime.ErrStopped) &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "runtime error", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "World stopped after %d tick(s).\n", rt.Ticks())
	return nil
}
