// Package preflight provides validation checks that run before mirroring
// begins. Failures are categorized into distinct, stable error kinds so the
// caller boundary can react to (and tests can assert on) the specific
// condition rather than a formatted message.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// Stable error kinds surfaced by the checks in this package.
// Matched with errors.Is; the wrapping error carries the offending path.
var (
	// ErrSourceMissing indicates the source directory does not exist.
	ErrSourceMissing = errors.New("source directory does not exist")
	// ErrSourceNotDir indicates the source path exists but is not a directory.
	ErrSourceNotDir = errors.New("source path is not a directory")
	// ErrSourceUnreadable indicates the source directory cannot be read.
	ErrSourceUnreadable = errors.New("source directory is not readable")
	// ErrTargetNotDir indicates the destination path exists but is not a directory.
	ErrTargetNotDir = errors.New("destination path exists but is not a directory")
	// ErrTargetUncreatable indicates the destination directory could not be created.
	ErrTargetUncreatable = errors.New("destination directory could not be created")
	// ErrTargetUnwritable indicates the destination directory is not writable.
	ErrTargetUnwritable = errors.New("destination directory is not writable")
	// ErrPathNesting indicates source and destination overlap.
	ErrPathNesting = errors.New("source and destination paths must not nest")
)

// CheckSourceAccessible validates that the source path exists, is a
// directory, and can be listed.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("%w: %s", ErrSourceNotDir, srcPath)
	}

	// A directory we cannot list is useless as a mirror source.
	if f, err := os.Open(srcPath); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, srcPath, err)
	} else {
		f.Close()
	}

	return nil
}

// CheckTargetUsable ensures the destination either is a directory or can be
// created as one, and that it is writable. The destination is created if
// absent; the write check creates and deletes a probe file.
func CheckTargetUsable(targetPath string) error {
	info, err := os.Stat(targetPath)
	if err == nil && !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrTargetNotDir, targetPath)
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot access destination path %s: %w", targetPath, err)
	}

	if err := os.MkdirAll(targetPath, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTargetUncreatable, targetPath, err)
	}

	// Perform a thorough write check by creating and deleting a temporary file.
	tempFile := filepath.Join(targetPath, ".pgl-mirror-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTargetUnwritable, targetPath, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}

// CheckPathNesting rejects configurations where one tree contains the other.
// Mirroring a tree into itself recurses forever; mirroring a parent into a
// child deletes the source. Both paths must already be absolute.
func CheckPathNesting(srcPath, targetPath string) error {
	src := filepath.Clean(srcPath)
	trg := filepath.Clean(targetPath)

	if src == trg {
		return fmt.Errorf("%w: both are %s", ErrPathNesting, src)
	}
	sep := string(filepath.Separator)
	if strings.HasPrefix(trg, src+sep) || strings.HasPrefix(src, trg+sep) {
		return fmt.Errorf("%w: %s and %s", ErrPathNesting, src, trg)
	}
	return nil
}
