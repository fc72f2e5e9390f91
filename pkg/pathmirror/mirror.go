// Package pathmirror implements one-directional mirror synchronization of a
// directory tree: primitive copy/delete operations, the path mapping between
// the two roots, and the initial full reconciliation pass.
package pathmirror

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/pool"
	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// Outcome describes what a mirror primitive actually did, so callers can
// count and log without re-deriving it from filesystem state.
type Outcome int

const (
	// OutcomeCopied means the destination was (re)written from the source.
	OutcomeCopied Outcome = iota
	// OutcomeUpToDate means the destination already matched and was left alone.
	OutcomeUpToDate
	// OutcomeSkipped means the entry was dropped without touching the destination.
	OutcomeSkipped
	// OutcomeDeleted means the destination entry was removed.
	OutcomeDeleted
	// OutcomeAbsent means there was nothing at the destination to act on.
	OutcomeAbsent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCopied:
		return "copied"
	case OutcomeUpToDate:
		return "upToDate"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Options configures a Mirrorer. Zero values select the defaults applied by
// NewMirrorer.
type Options struct {
	// ModTimeWindow is the granularity used when comparing modification
	// times. Timestamps within the same window count as equal, which keeps
	// the change check stable across filesystems with coarser timestamp
	// resolution. Defaults to one second.
	ModTimeWindow time.Duration
	// Verify re-reads every written file and compares an xxHash checksum
	// against the source stream before the copy counts as done.
	Verify bool
	// DryRun logs every mutating operation instead of performing it.
	DryRun bool
	// BufferPool supplies copy buffers. Defaults to a shared 1 MiB pool.
	BufferPool *pool.FixedBufferPool
	// Metrics receives operation counters. Defaults to NoopMetrics.
	Metrics Metrics
}

// Mirrorer performs the primitive mirror operations. It is stateless apart
// from its configuration and safe for concurrent use.
type Mirrorer struct {
	modTimeWindow time.Duration
	verify        bool
	dryRun        bool
	bufferPool    *pool.FixedBufferPool
	metrics       Metrics
}

const defaultCopyBufferSize = 1024 * 1024

// NewMirrorer creates a Mirrorer from the given options, filling defaults.
func NewMirrorer(opts Options) *Mirrorer {
	if opts.ModTimeWindow <= 0 {
		opts.ModTimeWindow = time.Second
	}
	if opts.BufferPool == nil {
		opts.BufferPool = pool.NewFixedBuffer(defaultCopyBufferSize)
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	return &Mirrorer{
		modTimeWindow: opts.ModTimeWindow,
		verify:        opts.Verify,
		dryRun:        opts.DryRun,
		bufferPool:    opts.BufferPool,
		metrics:       opts.Metrics,
	}
}

// modTimeEqual reports whether two timestamps fall into the same window.
// Content is never compared; this is the sole change oracle.
func (m *Mirrorer) modTimeEqual(a, b time.Time) bool {
	return a.Truncate(m.modTimeWindow).Equal(b.Truncate(m.modTimeWindow))
}

// CopyFile mirrors a single regular file from srcPath to dstPath.
//
// If a destination entry exists and its modification time matches the source
// within the configured window, nothing is written. Otherwise the content is
// copied through a temporary file in the destination directory and renamed
// into place, and the destination timestamps are stamped to the source's
// modification time so the next comparison sees them as equal.
func (m *Mirrorer) CopyFile(srcPath, dstPath string) (Outcome, error) {
	srcInfo, err := os.Lstat(srcPath)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to stat source file %s: %w", srcPath, err)
	}
	if !srcInfo.Mode().IsRegular() {
		plog.Debug("Skipping unsupported source entry", "path", srcPath, "mode", srcInfo.Mode().String())
		m.metrics.AddFilesSkipped(1)
		return OutcomeSkipped, nil
	}

	if dstInfo, err := os.Lstat(dstPath); err == nil {
		if m.modTimeEqual(srcInfo.ModTime(), dstInfo.ModTime()) {
			m.metrics.AddFilesUpToDate(1)
			return OutcomeUpToDate, nil
		}
	}

	if m.dryRun {
		plog.Info("[DRY RUN] Would copy file", "src", srcPath, "dst", dstPath)
		m.metrics.AddFilesCopied(1)
		return OutcomeCopied, nil
	}

	if err := m.ensureDir(filepath.Dir(dstPath), util.UserWritableDirPerms); err != nil {
		return OutcomeSkipped, err
	}

	written, err := m.copyFileContents(srcPath, dstPath, srcInfo)
	if err != nil {
		return OutcomeSkipped, err
	}

	m.metrics.AddFilesCopied(1)
	m.metrics.AddBytesCopied(uint64(written))
	plog.Debug("Copied file", "dst", dstPath, "bytes", written)
	return OutcomeCopied, nil
}

// copyFileContents writes srcPath's content to dstPath atomically: the data
// goes to a temp file next to the destination, gets the source's permissions
// and timestamps, and is renamed over the final path only when complete.
func (m *Mirrorer) copyFileContents(srcPath, dstPath string, srcInfo os.FileInfo) (int64, error) {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file %s: %w", srcPath, err)
	}
	defer srcFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dstPath), ".pgl-mirror-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file for %s: %w", dstPath, err)
	}
	tempPath := tmpFile.Name()
	// Cleared after a successful rename so the deferred remove becomes a no-op.
	defer func() {
		if tempPath != "" {
			os.Remove(tempPath)
		}
	}()

	bufPtr := m.bufferPool.Get()
	defer m.bufferPool.Put(bufPtr)
	buf := *bufPtr

	var srcSum *xxhash.Digest
	reader := io.Reader(srcFile)
	if m.verify {
		srcSum = xxhash.New()
		reader = io.TeeReader(srcFile, srcSum)
	}

	written, err := io.CopyBuffer(tmpFile, reader, buf)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to copy contents of %s: %w", srcPath, err)
	}

	if err := tmpFile.Chmod(srcInfo.Mode().Perm()); err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to set permissions on temp file for %s: %w", dstPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file for %s: %w", dstPath, err)
	}

	if m.verify {
		if err := m.verifyWritten(tempPath, srcSum.Sum64(), buf); err != nil {
			return 0, fmt.Errorf("verification of %s failed: %w", dstPath, err)
		}
	}

	// Stamp the source's times onto the copy so the mod time comparison
	// recognizes it as current on the next pass.
	if err := os.Chtimes(tempPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return 0, fmt.Errorf("failed to set timestamps on temp file for %s: %w", dstPath, err)
	}

	if err := os.Rename(tempPath, dstPath); err != nil {
		return 0, fmt.Errorf("failed to move temp file into place at %s: %w", dstPath, err)
	}
	tempPath = ""
	return written, nil
}

// verifyWritten re-reads the freshly written file from disk and compares its
// checksum against the one computed from the source stream.
func (m *Mirrorer) verifyWritten(path string, want uint64, buf []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to reopen written file: %w", err)
	}
	defer f.Close()

	sum := xxhash.New()
	if _, err := io.CopyBuffer(sum, f, buf); err != nil {
		return fmt.Errorf("failed to read back written file: %w", err)
	}
	if got := sum.Sum64(); got != want {
		return fmt.Errorf("checksum mismatch: source %016x, written %016x", want, got)
	}
	return nil
}

// CopyDir mirrors a directory tree from srcPath to dstPath, depth-first and
// sequential. Regular files are copied through CopyFile with its up-to-date
// check; other entry types are skipped. The first failure aborts the whole
// recursion and propagates to the caller.
func (m *Mirrorer) CopyDir(srcPath, dstPath string) error {
	srcInfo, err := os.Lstat(srcPath)
	if err != nil {
		return fmt.Errorf("failed to stat source directory %s: %w", srcPath, err)
	}
	if err := m.ensureDir(dstPath, srcInfo.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read source directory %s: %w", srcPath, err)
	}

	for _, entry := range entries {
		entrySrc := filepath.Join(srcPath, entry.Name())
		entryDst := filepath.Join(dstPath, entry.Name())
		switch {
		case entry.IsDir():
			if err := m.CopyDir(entrySrc, entryDst); err != nil {
				return err
			}
		case entry.Type().IsRegular():
			if _, err := m.CopyFile(entrySrc, entryDst); err != nil {
				return err
			}
		default:
			plog.Debug("Skipping unsupported source entry", "path", entrySrc, "mode", entry.Type().String())
			m.metrics.AddFilesSkipped(1)
		}
	}
	return nil
}

// ensureDir makes sure dstPath exists. The probe is existence only; a
// non-directory occupant is left in place and surfaces as an error from the
// operations beneath it.
func (m *Mirrorer) ensureDir(dstPath string, perm os.FileMode) error {
	if Exists(dstPath) {
		return nil
	}
	if m.dryRun {
		plog.Info("[DRY RUN] Would create directory", "dst", dstPath)
		m.metrics.AddDirsCreated(1)
		return nil
	}
	if err := os.MkdirAll(dstPath, util.WithUserWritePermission(perm)); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", dstPath, err)
	}
	m.metrics.AddDirsCreated(1)
	return nil
}

// DeletePath removes a destination entry, recursively for directories.
// A path that is already gone reports OutcomeAbsent without error.
func (m *Mirrorer) DeletePath(dstPath string) (Outcome, error) {
	info, err := os.Lstat(dstPath)
	if err != nil {
		if os.IsNotExist(err) {
			return OutcomeAbsent, nil
		}
		return OutcomeSkipped, fmt.Errorf("failed to stat destination entry %s: %w", dstPath, err)
	}

	if m.dryRun {
		plog.Info("[DRY RUN] Would delete destination entry", "dst", dstPath)
		return OutcomeDeleted, nil
	}

	if info.IsDir() {
		if err := os.RemoveAll(dstPath); err != nil {
			return OutcomeSkipped, fmt.Errorf("failed to delete destination directory %s: %w", dstPath, err)
		}
		m.metrics.AddDirsDeleted(1)
	} else {
		if err := os.Remove(dstPath); err != nil {
			return OutcomeSkipped, fmt.Errorf("failed to delete destination file %s: %w", dstPath, err)
		}
		m.metrics.AddFilesDeleted(1)
	}
	plog.Debug("Deleted destination entry", "dst", dstPath)
	return OutcomeDeleted, nil
}
