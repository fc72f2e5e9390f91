package pathmirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// Stasher receives destination entries the cleanup phase is about to delete,
// so they can be archived before they disappear. Implementations are called
// with the absolute path and the destination-relative key of the doomed entry.
type Stasher interface {
	Stash(absPath, relKey string) error
}

// InitialSync performs the full reconciliation pass that brings the
// destination in line with the source before live watching begins.
//
// It runs in two strictly ordered phases: first the whole destination tree
// is swept and every entry without a source counterpart is deleted, then the
// source's top-level entries are copied over. Cleanup completes entirely
// before the first copy starts, so freed space is available for incoming
// content.
type InitialSync struct {
	mirrorer  *Mirrorer
	mapping   Mapping
	stasher   Stasher
	keepNames map[string]struct{}
	aborted   atomic.Bool
}

// NewInitialSync creates a reconciliation pass over the given mapping.
// stasher may be nil. keepNames lists destination root entries that belong
// to this tool rather than the mirror (config, lock, stash directory) and
// must survive cleanup.
func NewInitialSync(mirrorer *Mirrorer, mapping Mapping, stasher Stasher, keepNames []string) *InitialSync {
	keep := make(map[string]struct{}, len(keepNames))
	for _, name := range keepNames {
		keep[name] = struct{}{}
	}
	return &InitialSync{
		mirrorer:  mirrorer,
		mapping:   mapping,
		stasher:   stasher,
		keepNames: keep,
	}
}

// Abort requests cooperative termination. The request is advisory: it is
// honored between the two phases and between top-level copy entries, never
// inside a running recursion. Safe to call from any goroutine, repeatedly.
func (s *InitialSync) Abort() {
	s.aborted.Store(true)
}

// checkInterrupted reports whether the pass should stop at this boundary,
// either because Abort was called or the context ended.
func (s *InitialSync) checkInterrupted(ctx context.Context) error {
	if s.aborted.Load() {
		return fmt.Errorf("initial sync aborted")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("initial sync canceled: %w", err)
	}
	return nil
}

// Run executes the reconciliation. The first deep failure in either phase
// propagates and terminates the pass.
func (s *InitialSync) Run(ctx context.Context) error {
	if err := s.checkInterrupted(ctx); err != nil {
		return err
	}

	plog.Info("Starting cleanup phase", "dst", s.mapping.DstRoot)
	if err := s.cleanup(s.mapping.DstRoot); err != nil {
		return fmt.Errorf("cleanup phase failed: %w", err)
	}

	if err := s.checkInterrupted(ctx); err != nil {
		return err
	}

	plog.Info("Starting copy phase", "src", s.mapping.SrcRoot)
	if err := s.copyAll(ctx); err != nil {
		return fmt.Errorf("copy phase failed: %w", err)
	}

	return nil
}

// cleanup walks the destination tree and deletes every entry whose source
// counterpart does not exist. The counterpart check is a pure existence
// probe: an entry whose counterpart exists is kept even when the two have
// different types, and a kept directory is descended into so stale content
// deeper down is still pruned.
func (s *InitialSync) cleanup(absDstDir string) error {
	entries, err := os.ReadDir(absDstDir)
	if err != nil {
		return fmt.Errorf("failed to read destination directory %s: %w", absDstDir, err)
	}

	atRoot := absDstDir == s.mapping.DstRoot
	for _, entry := range entries {
		if atRoot {
			if _, ok := s.keepNames[entry.Name()]; ok {
				continue
			}
		}

		absDst := filepath.Join(absDstDir, entry.Name())
		if Exists(s.mapping.ToSource(absDst)) {
			if entry.IsDir() {
				if err := s.cleanup(absDst); err != nil {
					return err
				}
			}
			continue
		}

		if s.stasher != nil && !s.mirrorer.dryRun {
			if err := s.stasher.Stash(absDst, s.mapping.TargetRel(absDst)); err != nil {
				return fmt.Errorf("failed to stash %s before deletion: %w", absDst, err)
			}
		}
		if _, err := s.mirrorer.DeletePath(absDst); err != nil {
			return err
		}
	}
	return nil
}

// copyAll mirrors the source's top-level entries into the destination.
// Abort and cancellation are honored between entries only.
func (s *InitialSync) copyAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.mapping.SrcRoot)
	if err != nil {
		return fmt.Errorf("failed to read source directory %s: %w", s.mapping.SrcRoot, err)
	}

	for _, entry := range entries {
		if err := s.checkInterrupted(ctx); err != nil {
			return err
		}

		absSrc := filepath.Join(s.mapping.SrcRoot, entry.Name())
		absDst := s.mapping.ToTarget(absSrc)
		switch {
		case entry.IsDir():
			if err := s.mirrorer.CopyDir(absSrc, absDst); err != nil {
				return err
			}
		case entry.Type().IsRegular():
			if _, err := s.mirrorer.CopyFile(absSrc, absDst); err != nil {
				return err
			}
		default:
			plog.Debug("Skipping unsupported source entry", "path", absSrc, "mode", entry.Type().String())
			s.mirrorer.metrics.AddFilesSkipped(1)
		}
	}
	return nil
}
