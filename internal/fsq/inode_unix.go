//go:build unix

package fsq

import (
	"os"

	"golang.org/x/sys/unix"
)

// Inode returns the inode number of path without following symlinks.
func Inode(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return uint64(st.Ino), nil
}
