package pathmirror

import (
	"path/filepath"
	"strings"

	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// Mapping is the prefix-substitution bijection between a path under the
// source root and its counterpart under the destination root.
//
// Translation is unconditional and unchecked: every path handed to a Mapping
// must begin exactly with the corresponding configured root. Paths reached
// via a different resolution (e.g., symlink-normalized) are a programming
// error, not a runtime-handled case.
type Mapping struct {
	SrcRoot string
	DstRoot string
}

// NewMapping creates a Mapping between two absolute root paths.
func NewMapping(srcRoot, dstRoot string) Mapping {
	return Mapping{
		SrcRoot: filepath.Clean(srcRoot),
		DstRoot: filepath.Clean(dstRoot),
	}
}

// ToTarget maps an absolute source path to its destination counterpart.
func (m Mapping) ToTarget(absSrcPath string) string {
	return filepath.Join(m.DstRoot, m.relFrom(m.SrcRoot, absSrcPath))
}

// ToSource maps an absolute destination path back to its source counterpart.
func (m Mapping) ToSource(absDstPath string) string {
	return filepath.Join(m.SrcRoot, m.relFrom(m.DstRoot, absDstPath))
}

// SourceRel returns the normalized relative path key for an absolute source
// path, suitable for logging and per-path lock keys.
func (m Mapping) SourceRel(absSrcPath string) string {
	return util.NormalizePath(m.relFrom(m.SrcRoot, absSrcPath))
}

// TargetRel returns the normalized relative path key for an absolute
// destination path.
func (m Mapping) TargetRel(absDstPath string) string {
	return util.NormalizePath(m.relFrom(m.DstRoot, absDstPath))
}

// relFrom strips the root prefix from an absolute path. The root itself maps
// to ".".
func (m Mapping) relFrom(root, absPath string) string {
	absPath = filepath.Clean(absPath)
	if absPath == root {
		return "."
	}
	return strings.TrimPrefix(absPath, root+string(filepath.Separator))
}
