package fsq

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// RenameNoReplace moves src to dst, failing with an error matching
// fs.ErrExist when dst already exists. Unlike os.Rename it never replaces an
// existing file, which is what makes the unique-name retry loops safe against
// concurrent writers.
func RenameNoReplace(src, dst string) error {
	return renameNoReplace(src, dst)
}

// linkRename emulates a non-replacing rename with link(2) + unlink(2).
func linkRename(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		// No hard links on this filesystem (vfat, some network mounts).
		// Fall back to a racy existence check followed by a plain rename.
		if _, serr := os.Lstat(dst); serr == nil {
			return &os.LinkError{Op: "rename", Old: src, New: dst, Err: syscall.EEXIST}
		}
		return os.Rename(src, dst)
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
