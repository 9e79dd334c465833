package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/upgrader/internal/adapters/manager"
	"github.com/hugo-lorenzo-mato/upgrader/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/upgrader/internal/config"
	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/events"
	"github.com/hugo-lorenzo-mato/upgrader/internal/logging"
	"github.com/hugo-lorenzo-mato/upgrader/internal/service/update"
	"github.com/hugo-lorenzo-mato/upgrader/internal/tui"
)

// newLogger builds the process logger. Logs go to stderr so the timeline
// on stdout stays readable.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

// newRenderer returns a timeline renderer honoring --no-color.
func newRenderer() *tui.Renderer {
	d := tui.NewDetector().NoColor(noColor)
	return tui.NewRenderer(d.ShouldUseColor(), tui.TerminalWidth())
}

// openStore creates the configured state store.
func openStore(cfg *config.Config) (core.StateStore, error) {
	store, err := state.NewStore(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	return store, nil
}

// lockPath places the process lock next to the state.
func lockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.State.Path), "upgrader.lock")
}

// runtimeDeps bundles what run and serve share: one store, one lock, one
// event bus and one engine.
type runtimeDeps struct {
	logger *logging.Logger
	store  core.StateStore
	lock   *state.FileLock
	bus    *events.EventBus
	engine *update.Engine
}

// setupRuntime wires the engine to the manager API and the state store. The
// lock keeps two processes from driving the same installation.
func setupRuntime(cfg *config.Config, logger *logging.Logger) (*runtimeDeps, error) {
	api, err := manager.New(manager.Options{
		BaseURL:   cfg.Manager.URL,
		Token:     cfg.Manager.Token,
		Timeout:   cfg.Manager.Timeout,
		UserAgent: "upgrader/" + appVersion,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	lock := state.NewFileLock(lockPath(cfg), cfg.State.LockTTL)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	bus := events.New(100)
	engine, err := update.NewEngine(api,
		update.WithStore(store),
		update.WithEventBus(bus),
		update.WithLogger(logger),
		update.WithPolling(update.PollSettings{
			Interval:    cfg.Polling.Interval,
			MaxDuration: cfg.Polling.MaxDuration,
		}),
		update.WithClearRetry(update.ClearSettings{
			Attempts: cfg.Clear.Attempts,
			Delay:    cfg.Clear.Delay,
			MaxDelay: cfg.Clear.MaxDelay,
		}),
		update.WithTimelineMode(update.TimelineMode(cfg.Workflow.MigrationTimeline)),
	)
	if err != nil {
		bus.Close()
		_ = state.CloseStore(store)
		_ = lock.Release()
		return nil, err
	}

	return &runtimeDeps{logger: logger, store: store, lock: lock, bus: bus, engine: engine}, nil
}

// Close stops the engine and releases everything in reverse order.
func (d *runtimeDeps) Close() {
	_ = d.engine.Close()
	d.bus.Close()
	if err := state.CloseStore(d.store); err != nil {
		d.logger.Warn("failed to close state store", "error", err)
	}
	if err := d.lock.Release(); err != nil {
		d.logger.Warn("failed to release lock", "error", err)
	}
}

// loadOrInit restores the active run or initializes a fresh one.
func (d *runtimeDeps) loadOrInit(ctx context.Context, resume bool, wf core.WorkflowConfig) error {
	if resume {
		found, err := d.engine.Restore(ctx)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		d.logger.Info("no stored workflow, starting a new one")
	}
	return d.engine.Initialize(wf)
}
