package pathmirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// recordingStasher captures stash calls, optionally running a hook per call.
type recordingStasher struct {
	calls []string
	hook  func(absPath, relKey string)
}

func (r *recordingStasher) Stash(absPath, relKey string) error {
	r.calls = append(r.calls, relKey)
	if r.hook != nil {
		r.hook(absPath, relKey)
	}
	return nil
}

func newInitialSync(src, dst string, stasher Stasher) *InitialSync {
	return NewInitialSync(NewMirrorer(Options{}), NewMapping(src, dst), stasher, nil)
}

func TestInitialSync(t *testing.T) {
	baseTime := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)

	t.Run("MirrorsTreeAndPrunesStaleEntries", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src")
		dst := filepath.Join(dir, "dst")
		createFile(t, filepath.Join(src, "a.txt"), "a", baseTime)
		createFile(t, filepath.Join(src, "sub", "b.txt"), "b", baseTime)
		createFile(t, filepath.Join(dst, "stale.txt"), "gone", baseTime)
		createFile(t, filepath.Join(dst, "staleDir", "old.txt"), "gone", baseTime)
		createFile(t, filepath.Join(dst, "sub", "stale.txt"), "gone", baseTime)

		if err := newInitialSync(src, dst, nil).Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if got := readFile(t, filepath.Join(dst, "a.txt")); got != "a" {
			t.Errorf("a.txt content = %q", got)
		}
		if got := readFile(t, filepath.Join(dst, "sub", "b.txt")); got != "b" {
			t.Errorf("sub/b.txt content = %q", got)
		}
		for _, stale := range []string{"stale.txt", "staleDir", filepath.Join("sub", "stale.txt")} {
			if Exists(filepath.Join(dst, stale)) {
				t.Errorf("stale destination entry %s survived the cleanup phase", stale)
			}
		}
	})

	t.Run("SecondRunIsIdempotent", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src")
		dst := filepath.Join(dir, "dst")
		createFile(t, filepath.Join(src, "a.txt"), "a", baseTime)
		createFile(t, filepath.Join(src, "sub", "b.txt"), "b", baseTime)

		if err := newInitialSync(src, dst, nil).Run(context.Background()); err != nil {
			t.Fatalf("first Run failed: %v", err)
		}
		firstModTime := modTimeOf(t, filepath.Join(dst, "a.txt"))

		metrics := NewMirrorMetrics()
		second := NewInitialSync(NewMirrorer(Options{Metrics: metrics}), NewMapping(src, dst), nil, nil)
		if err := second.Run(context.Background()); err != nil {
			t.Fatalf("second Run failed: %v", err)
		}

		if got := metrics.FilesCopied(); got != 0 {
			t.Errorf("second run copied %d files, want 0", got)
		}
		if !modTimeOf(t, filepath.Join(dst, "a.txt")).Equal(firstModTime) {
			t.Error("second run changed destination timestamps")
		}
	})

	t.Run("CleanupCompletesBeforeCopyStarts", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src")
		dst := filepath.Join(dir, "dst")
		createFile(t, filepath.Join(src, "incoming.txt"), "new", baseTime)
		createFile(t, filepath.Join(dst, "stale.txt"), "old", baseTime)

		// The stasher runs while cleanup is deleting; nothing from the copy
		// phase may exist at the destination yet.
		stasher := &recordingStasher{hook: func(string, string) {
			if Exists(filepath.Join(dst, "incoming.txt")) {
				t.Error("copy phase output observed during cleanup phase")
			}
		}}
		if err := newInitialSync(src, dst, stasher).Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(stasher.calls) != 1 || stasher.calls[0] != "stale.txt" {
			t.Errorf("stash calls = %v, want [stale.txt]", stasher.calls)
		}
		if !Exists(filepath.Join(dst, "incoming.txt")) {
			t.Error("incoming.txt was not copied")
		}
	})

	t.Run("KeepsSystemEntriesAtRoot", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src")
		dst := filepath.Join(dir, "dst")
		createDir(t, src)
		createFile(t, filepath.Join(dst, "tool.config.json"), "{}", baseTime)
		createFile(t, filepath.Join(dst, "stale.txt"), "x", baseTime)

		s := NewInitialSync(NewMirrorer(Options{}), NewMapping(src, dst), nil, []string{"tool.config.json"})
		if err := s.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !Exists(filepath.Join(dst, "tool.config.json")) {
			t.Error("system entry was deleted by cleanup")
		}
		if Exists(filepath.Join(dst, "stale.txt")) {
			t.Error("stale entry survived cleanup")
		}
	})

	t.Run("AbortBeforeStartCopiesNothing", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src")
		dst := filepath.Join(dir, "dst")
		createFile(t, filepath.Join(src, "a.txt"), "a", baseTime)
		createDir(t, dst)

		s := newInitialSync(src, dst, nil)
		s.Abort()
		if err := s.Run(context.Background()); err == nil {
			t.Fatal("expected error from aborted run")
		}
		if Exists(filepath.Join(dst, "a.txt")) {
			t.Error("aborted run still copied files")
		}
	})

	t.Run("CanceledContextStopsBetweenPhases", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "src")
		dst := filepath.Join(dir, "dst")
		createFile(t, filepath.Join(src, "a.txt"), "a", baseTime)
		createDir(t, dst)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := newInitialSync(src, dst, nil).Run(ctx); err == nil {
			t.Fatal("expected error from canceled run")
		}
	})
}

// The counterpart check during cleanup probes existence only. A destination
// file whose source counterpart has since become a directory is therefore
// kept by cleanup, and the mismatch surfaces later as a copy phase error.
func TestCleanupRetainsFileWhenSourceBecameDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	createFile(t, filepath.Join(src, "item", "child.txt"), "x", time.Time{})
	createFile(t, filepath.Join(dst, "item"), "was a file", time.Time{})

	s := newInitialSync(src, dst, nil)
	if err := s.cleanup(dst); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	info, err := os.Lstat(filepath.Join(dst, "item"))
	if err != nil {
		t.Fatalf("destination entry is gone: %v", err)
	}
	if info.IsDir() {
		t.Fatal("destination entry was replaced by a directory during cleanup")
	}
	if got := readFile(t, filepath.Join(dst, "item")); got != "was a file" {
		t.Errorf("retained file content = %q", got)
	}

	// The retained file then blocks the copy phase for that subtree.
	if err := s.Run(context.Background()); err == nil {
		t.Error("expected the copy phase to fail on the type mismatch")
	}
}
