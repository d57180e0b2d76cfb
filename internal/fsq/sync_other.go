//go:build !unix

package fsq

// SyncDir does nothing where directories cannot be opened for fsync.
func SyncDir(string) error {
	return nil
}
