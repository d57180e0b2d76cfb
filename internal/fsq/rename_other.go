//go:build !linux

package fsq

func renameNoReplace(src, dst string) error {
	return linkRename(src, dst)
}
