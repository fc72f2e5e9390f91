// Package stash archives destination entries into a compressed tarball right
// before the cleanup phase deletes them, so a mirror run that prunes stale
// content leaves a recoverable trace instead of destroying the only copy.
package stash

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// DirName is the directory under the destination root that holds stash
// archives. It is excluded from mirror cleanup.
const DirName = ".pgl-mirror.stash"

// Writer collects doomed destination entries into one archive per mirror
// run. The archive file is created lazily on the first entry, so runs with
// nothing to prune leave no empty tarballs behind. Not safe for concurrent
// use; the cleanup phase is sequential.
type Writer struct {
	stashDir string
	format   Format

	file        *os.File
	compressor  io.WriteCloser
	tw          *tar.Writer
	archivePath string
	added       int
}

// NewWriter prepares a stash writer for the given destination root. Nothing
// touches the disk until the first Stash call.
func NewWriter(dstRoot string, format Format) *Writer {
	return &Writer{
		stashDir: filepath.Join(dstRoot, DirName),
		format:   format,
	}
}

// ArchivePath returns the path of the archive created by this writer, or the
// empty string when no entry was stashed.
func (w *Writer) ArchivePath() string {
	return w.archivePath
}

func (w *Writer) open() error {
	if err := os.MkdirAll(w.stashDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create stash directory %s: %w", w.stashDir, err)
	}

	name := "stale-" + time.Now().UTC().Format("2006-01-02T15-04-05Z") + w.format.Extension()
	path := filepath.Join(w.stashDir, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, util.UserWritableFilePerms)
	if err != nil {
		return fmt.Errorf("failed to create stash archive %s: %w", path, err)
	}

	var compressor io.WriteCloser
	switch w.format {
	case FormatZstd:
		enc, err := zstd.NewWriter(file)
		if err != nil {
			file.Close()
			os.Remove(path)
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressor = enc
	default:
		compressor = pgzip.NewWriter(file)
	}

	w.file = file
	w.compressor = compressor
	w.tw = tar.NewWriter(compressor)
	w.archivePath = path
	plog.Debug("Opened stash archive", "path", path)
	return nil
}

// Stash adds the entry at absPath to the archive under the given
// destination-relative key, recursing into directories. Entries that are
// neither regular files nor directories are not archivable and are skipped.
func (w *Writer) Stash(absPath, relKey string) error {
	if w.tw == nil {
		if err := w.open(); err != nil {
			return err
		}
	}

	return filepath.WalkDir(absPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := relKey
		if path != absPath {
			rel, err := filepath.Rel(absPath, path)
			if err != nil {
				return err
			}
			name = relKey + "/" + util.NormalizePath(rel)
		}

		switch {
		case d.IsDir():
			return w.writeHeader(path, name+"/", d)
		case d.Type().IsRegular():
			if err := w.writeHeader(path, name, d); err != nil {
				return err
			}
			return w.writeContents(path)
		default:
			plog.Debug("Skipping unarchivable entry", "path", path, "mode", d.Type().String())
			return nil
		}
	})
}

func (w *Writer) writeHeader(path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return fmt.Errorf("failed to stat %s for stashing: %w", path, err)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", path, err)
	}
	hdr.Name = name
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", path, err)
	}
	w.added++
	return nil
}

func (w *Writer) writeContents(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for stashing: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(w.tw, f); err != nil {
		return fmt.Errorf("failed to archive contents of %s: %w", path, err)
	}
	return nil
}

// Close finalizes the archive. When nothing was stashed there is nothing to
// close and no file on disk.
func (w *Writer) Close() error {
	if w.tw == nil {
		return nil
	}

	var firstErr error
	if err := w.tw.Close(); err != nil {
		firstErr = fmt.Errorf("failed to finalize stash tar stream: %w", err)
	}
	if err := w.compressor.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to finalize stash compressor: %w", err)
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close stash archive: %w", err)
	}

	if firstErr == nil {
		plog.Info("Stashed stale destination entries", "archive", w.archivePath, "entries", w.added)
	}
	return firstErr
}
