// Package pathlive applies watch session events to the destination tree
// after the initial reconciliation. The live phase is intentionally lossy at
// the edges: a source entry that disappears or turns unreadable between the
// notification and the copy is dropped, and the next event for it wins.
package pathlive

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"pixelgardenlabs.io/pgl-mirror/pkg/pathmirror"
	"pixelgardenlabs.io/pgl-mirror/pkg/pathwatch"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/sharded"
)

const (
	defaultMaxInFlight = 4
	lockShards         = 32
)

// Options configures a Handler.
type Options struct {
	Mirrorer *pathmirror.Mirrorer
	Mapping  pathmirror.Mapping
	// Metrics counts dropped events. Defaults to NoopMetrics.
	Metrics pathmirror.Metrics
	// MaxInFlight bounds the number of events applied concurrently.
	// Defaults to 4.
	MaxInFlight int
}

// Handler consumes a watch session and mirrors each event. Events for
// different paths are applied concurrently up to the configured bound;
// events for the same relative path are serialized through a per-key lock so
// a copy and a delete for one file can never interleave.
type Handler struct {
	mirrorer *pathmirror.Mirrorer
	mapping  pathmirror.Mapping
	metrics  pathmirror.Metrics
	locks    *sharded.LockSet
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
}

// NewHandler creates a live event handler, filling option defaults.
func NewHandler(opts Options) *Handler {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.Metrics == nil {
		opts.Metrics = pathmirror.NoopMetrics{}
	}
	return &Handler{
		mirrorer: opts.Mirrorer,
		mapping:  opts.Mapping,
		metrics:  opts.Metrics,
		locks:    sharded.NewLockSet(lockShards),
		sem:      semaphore.NewWeighted(int64(opts.MaxInFlight)),
	}
}

// Run consumes the session until its event stream closes or the context
// ends. Events arriving before the session's Ready marker describe state the
// initial reconciliation already covered and are discarded. Run waits for
// in-flight applications before returning.
func (h *Handler) Run(ctx context.Context, session pathwatch.Session) error {
	defer h.wg.Wait()

	events := session.Events()
	errs := session.Errors()
	ready := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			plog.Warn("Watch session reported an error", "error", err)

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == pathwatch.Ready {
				ready = true
				plog.Info("Watch session ready, applying live changes")
				continue
			}
			if !ready {
				plog.Debug("Discarding pre-ready event", "type", ev.Type.String(), "path", ev.Path)
				continue
			}

			if err := h.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			h.wg.Add(1)
			go func(ev pathwatch.Event) {
				defer h.wg.Done()
				defer h.sem.Release(1)
				h.apply(ev)
			}(ev)
		}
	}
}

// apply mirrors a single event while holding the per-path lock. Failures are
// logged and dropped; the live phase never terminates the process over one
// entry.
func (h *Handler) apply(ev pathwatch.Event) {
	key := h.mapping.SourceRel(ev.Path)
	h.locks.Lock(key)
	defer h.locks.Unlock(key)

	dstPath := h.mapping.ToTarget(ev.Path)

	switch ev.Type {
	case pathwatch.Added, pathwatch.Changed:
		if !pathmirror.CanRead(ev.Path) {
			plog.Debug("Source entry unreadable, dropping event", "path", key)
			h.metrics.AddFilesSkipped(1)
			return
		}
		outcome, err := h.mirrorer.CopyFile(ev.Path, dstPath)
		if err != nil {
			plog.Warn("Failed to mirror changed file", "path", key, "error", err)
			return
		}
		plog.Debug("Applied live change", "path", key, "outcome", outcome.String())

	case pathwatch.AddedDir:
		if !pathmirror.CanRead(ev.Path) {
			plog.Debug("Source directory unreadable, dropping event", "path", key)
			h.metrics.AddFilesSkipped(1)
			return
		}
		if err := h.mirrorer.CopyDir(ev.Path, dstPath); err != nil {
			plog.Warn("Failed to mirror new directory", "path", key, "error", err)
		}

	case pathwatch.Removed, pathwatch.RemovedDir:
		if !pathmirror.Exists(dstPath) {
			return
		}
		if !pathmirror.CanWrite(dstPath) {
			plog.Debug("Destination entry not writable, leaving in place", "path", key)
			return
		}
		if _, err := h.mirrorer.DeletePath(dstPath); err != nil {
			plog.Warn("Failed to delete mirrored entry", "path", key, "error", err)
		}
	}
}
