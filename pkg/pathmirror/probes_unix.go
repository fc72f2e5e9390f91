//go:build !windows

package pathmirror

import "golang.org/x/sys/unix"

// Exists reports whether a path exists. A pure probe with no side effects.
func Exists(path string) bool {
	return unix.Access(path, unix.F_OK) == nil
}

// CanRead reports whether the current user may read the path.
func CanRead(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}

// CanWrite reports whether the current user may write the path.
func CanWrite(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
