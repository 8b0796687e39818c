//go:build !windows

package maintenance

import "golang.org/x/sys/unix"

// syncDir flushes directory metadata after a rename so the backup's
// directory entry survives a crash. Best-effort: a filesystem that
// rejects fsync on directories doesn't fail the backup.
func syncDir(dir string) {
	fd, err := unix.Open(dir, unix.O_RDONLY, 0)
	if err != nil {
		return
	}
	_ = unix.Fsync(fd)
	_ = unix.Close(fd)
}
