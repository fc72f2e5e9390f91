// Package engine orchestrates a mirror run: preflight validation, the
// destination lock, the initial reconciliation pass, and the live watch
// phase.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pixelgardenlabs.io/pgl-mirror/pkg/buildinfo"
	"pixelgardenlabs.io/pgl-mirror/pkg/config"
	"pixelgardenlabs.io/pgl-mirror/pkg/lockfile"
	"pixelgardenlabs.io/pgl-mirror/pkg/pathlive"
	"pixelgardenlabs.io/pgl-mirror/pkg/pathmirror"
	"pixelgardenlabs.io/pgl-mirror/pkg/pathwatch"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/pool"
	"pixelgardenlabs.io/pgl-mirror/pkg/preflight"
	"pixelgardenlabs.io/pgl-mirror/pkg/stash"
)

// Engine runs one mirror according to its configuration.
type Engine struct {
	cfg config.Config

	mu      sync.Mutex
	initial *pathmirror.InitialSync
	session pathwatch.Session
}

// New creates an engine for the given configuration. The configuration must
// already be validated.
func New(cfg config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Abort requests cooperative shutdown of whatever phase is active: the
// initial pass stops at its next boundary, a live session stops delivering
// events. Safe to call from any goroutine, repeatedly.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initial != nil {
		e.initial.Abort()
	}
	if e.session != nil {
		e.session.Close()
	}
}

func (e *Engine) setInitial(s *pathmirror.InitialSync) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initial = s
}

func (e *Engine) setSession(s pathwatch.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = s
}

// Execute performs the mirror run. It returns nil on graceful shutdown
// through context cancellation during the live phase.
func (e *Engine) Execute(ctx context.Context) error {
	cfg := e.cfg

	if err := preflight.CheckSourceAccessible(cfg.SourcePath); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}
	if err := preflight.CheckPathNesting(cfg.SourcePath, cfg.TargetPath); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}
	if err := preflight.CheckTargetUsable(cfg.TargetPath); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	lock, err := lockfile.Acquire(cfg.TargetPath, buildinfo.Name)
	if err != nil {
		return err
	}
	defer lock.Release()

	// Cancellation maps onto the cooperative abort of the active phase.
	stopAbort := context.AfterFunc(ctx, e.Abort)
	defer stopAbort()

	metrics := pathmirror.NewMirrorMetrics()
	mirrorer := pathmirror.NewMirrorer(pathmirror.Options{
		ModTimeWindow: time.Duration(cfg.ModTimeWindowSec) * time.Second,
		Verify:        cfg.Verify,
		DryRun:        cfg.DryRun,
		BufferPool:    pool.NewFixedBuffer(int64(cfg.BufferSizeKB) * 1024),
		Metrics:       metrics,
	})
	mapping := pathmirror.NewMapping(cfg.SourcePath, cfg.TargetPath)

	if err := e.runInitial(ctx, mirrorer, mapping, metrics); err != nil {
		return err
	}

	if cfg.Once {
		plog.Info("Initial reconciliation complete, exiting", "target", cfg.TargetPath)
		return nil
	}
	return e.runLive(ctx, mirrorer, mapping, metrics)
}

// runInitial performs the full reconciliation pass, stashing doomed
// destination entries first when configured.
func (e *Engine) runInitial(ctx context.Context, mirrorer *pathmirror.Mirrorer, mapping pathmirror.Mapping, metrics *pathmirror.MirrorMetrics) error {
	var stasher pathmirror.Stasher
	var stashWriter *stash.Writer
	if e.cfg.StashDeleted {
		stashWriter = stash.NewWriter(e.cfg.TargetPath, e.cfg.StashFormat)
		stasher = stashWriter
	}

	keepNames := []string{config.ConfigFileName, lockfile.LockFileName, stash.DirName}
	initial := pathmirror.NewInitialSync(mirrorer, mapping, stasher, keepNames)
	e.setInitial(initial)
	defer e.setInitial(nil)

	plog.Info("Starting initial reconciliation", "source", e.cfg.SourcePath, "target", e.cfg.TargetPath)
	err := initial.Run(ctx)
	if stashWriter != nil {
		if closeErr := stashWriter.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	metrics.LogSummary("initial")
	return err
}

// runLive consumes filesystem events until the context ends.
func (e *Engine) runLive(ctx context.Context, mirrorer *pathmirror.Mirrorer, mapping pathmirror.Mapping, metrics *pathmirror.MirrorMetrics) error {
	session, err := pathwatch.Open(e.cfg.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to start watch session: %w", err)
	}
	e.setSession(session)
	defer func() {
		e.setSession(nil)
		session.Close()
	}()

	handler := pathlive.NewHandler(pathlive.Options{
		Mirrorer:    mirrorer,
		Mapping:     mapping,
		Metrics:     metrics,
		MaxInFlight: e.cfg.EventWorkers,
	})

	plog.Info("Entering live mirror phase", "source", e.cfg.SourcePath)
	err = handler.Run(ctx, session)
	metrics.LogSummary("live")
	if errors.Is(err, context.Canceled) {
		plog.Info("Live mirror phase stopped")
		return nil
	}
	return err
}
