//go:build windows

package maintenance

// syncDir is a no-op on Windows: directory handles don't support the
// fsync semantics the unix path relies on, and NTFS metadata journaling
// covers the rename.
func syncDir(string) {}
