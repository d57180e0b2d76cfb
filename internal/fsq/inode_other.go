//go:build !unix

package fsq

import "os"

// Inode reports 0 on platforms without inode numbers; ordering by inode then
// degrades to directory order.
func Inode(path string) (uint64, error) {
	if _, err := os.Lstat(path); err != nil {
		return 0, err
	}
	return 0, nil
}
