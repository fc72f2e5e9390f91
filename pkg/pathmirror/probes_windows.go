//go:build windows

package pathmirror

import "os"

// Exists reports whether a path exists. A pure probe with no side effects.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// CanRead reports whether the current user may read the path.
// Windows has no access(2); opening for read is the closest cheap probe.
func CanRead(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// CanWrite reports whether the current user may write the path.
// Approximated via the read-only attribute, which is what the mirror
// deletion path actually trips over on Windows.
func CanWrite(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0200 != 0
}
