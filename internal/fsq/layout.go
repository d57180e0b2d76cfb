package fsq

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Standard Maildir subdirectories.
const (
	BoxNew = "new"
	BoxCur = "cur"
	BoxTmp = "tmp"
)

// SequencesFile is the MH side-car file recording named message ranges.
const SequencesFile = ".mh_sequences"

// Path helpers for mailbox directories.

func NewDir(root string) string {
	return filepath.Join(root, BoxNew)
}

func CurDir(root string) string {
	return filepath.Join(root, BoxCur)
}

func TmpDir(root string) string {
	return filepath.Join(root, BoxTmp)
}

func SequencesPath(root string) string {
	return filepath.Join(root, SequencesFile)
}

// EnsureMaildirDirs creates root and its new, cur and tmp subdirectories.
func EnsureMaildirDirs(root string, perm os.FileMode) error {
	for _, dir := range []string{NewDir(root), CurDir(root), TmpDir(root)} {
		if err := os.MkdirAll(dir, perm); err != nil {
			return err
		}
	}
	return nil
}

// EnsureMHDirs creates an MH folder with an empty sequences file.
func EnsureMHDirs(root string, perm os.FileMode) error {
	if err := os.MkdirAll(root, perm); err != nil {
		return err
	}
	if _, err := os.Stat(SequencesPath(root)); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	_, err := WriteFileAtomic(root, SequencesFile, nil, perm&0o666)
	return err
}

// ValidateMessageName rejects names that could escape the mailbox directory.
func ValidateMessageName(name string) error {
	if name == "" || strings.TrimSpace(name) == "" {
		return fmt.Errorf("message name is empty")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\") || filepath.Base(name) != name {
		return fmt.Errorf("message name contains path traversal: %q", name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("message name must not start with a dot: %q", name)
	}
	return nil
}
