package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/oracle"
	"github.com/Iron-Ham/relay/internal/oracle/anthropic"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/session"
	"github.com/Iron-Ham/relay/internal/tracing"
	"github.com/Iron-Ham/relay/internal/worker"
	"github.com/Iron-Ham/relay/internal/worker/browser"
	"github.com/Iron-Ham/relay/internal/worker/coder"
	"github.com/Iron-Ham/relay/internal/worker/executor"
	"github.com/Iron-Ham/relay/internal/worker/files"
)

// runtime bundles everything a command needs to run sessions.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger
	tracer *tracing.Provider
	bus    *event.Bus
	orch   *orchestrator.Orchestrator
	store  *session.Store // nil when persistence is off
}

// newRuntime builds the logger, oracle, worker roster and orchestrator from cfg.
func newRuntime(cfg *config.Config, opts ...orchestrator.Option) (*runtime, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger}
	rt.tracer = tracing.New(cfg.Tracing, logger)
	rt.bus = event.NewBus(logger)

	client, err := anthropic.NewFromConfig(cfg.Oracle, logger)
	if err != nil {
		rt.close(context.Background())
		return nil, fmt.Errorf("failed to create oracle client: %w", err)
	}

	registry, err := buildRegistry(cfg, client, logger)
	if err != nil {
		rt.close(context.Background())
		return nil, err
	}

	if cfg.Sessions.Persist {
		store, err := session.NewStore(cfg.SessionDir())
		if err != nil {
			rt.close(context.Background())
			return nil, err
		}
		rt.store = store
	}

	base := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(rt.tracer.Tracer()),
		orchestrator.WithEventBus(rt.bus),
	}
	rt.orch, err = orchestrator.NewFromConfig(cfg, client, registry, append(base, opts...)...)
	if err != nil {
		rt.close(context.Background())
		return nil, err
	}
	return rt, nil
}

// buildRegistry registers every enabled worker.
func buildRegistry(cfg *config.Config, gen oracle.CodeGenerator, logger *logging.Logger) (*worker.Registry, error) {
	registry, err := worker.NewRegistry()
	if err != nil {
		return nil, err
	}

	wc := cfg.Workers
	if wc.Coder.Enabled {
		if err := registry.Register(coder.New(gen, logger)); err != nil {
			return nil, err
		}
	}
	if wc.Executor.Enabled {
		ecfg := wc.Executor
		ecfg.WorkDir = cfg.ExecutorDir()
		ex, err := executor.NewFromConfig(ecfg, cfg.Paths.ResolveDataDir(), logger)
		if err != nil {
			return nil, errors.Wrap(err, "executor worker")
		}
		if err := registry.Register(ex); err != nil {
			return nil, err
		}
	}
	if wc.Files.Enabled {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		surfer, err := files.NewFromConfig(wc.Files, cwd, logger)
		if err != nil {
			return nil, errors.Wrap(err, "file surfer worker")
		}
		if err := registry.Register(surfer); err != nil {
			return nil, err
		}
	}
	if wc.Browser.Enabled {
		if err := registry.Register(browser.NewFromConfig(wc.Browser, logger)); err != nil {
			return nil, err
		}
	}

	if registry.Len() == 0 {
		return nil, errors.NewValidationError("no workers enabled").WithField("workers")
	}
	return registry, nil
}

// newLogger returns a rotating file logger under the data dir, or a no-op
// logger when logging is disabled.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	rotation := logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   true,
	}
	logger, err := logging.NewLoggerWithRotation(cfg.LogDir(), cfg.Logging.Level, rotation)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log: %w", err)
	}
	return logger, nil
}

// save persists res when a store is configured. Failures are logged and
// reported but never change the session outcome.
func (rt *runtime) save(ctx context.Context, res *orchestrator.Result) error {
	if rt.store == nil || res == nil {
		return nil
	}
	if err := rt.store.Save(ctx, res); err != nil {
		rt.logger.Warn("failed to save session", "session_id", res.SessionID, "error", err)
		return err
	}
	return nil
}

func (rt *runtime) close(ctx context.Context) {
	if rt.tracer != nil {
		if err := rt.tracer.Shutdown(ctx); err != nil {
			rt.logger.Warn("tracer shutdown failed", "error", err)
		}
	}
	_ = rt.logger.Close()
}
