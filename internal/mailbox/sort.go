package mailbox

import (
	"cmp"
	"slices"
	"strings"
)

// sortByInode orders entries for delayed parsing so files are read in
// roughly on-disk order.
func sortByInode(entries []*ScanEntry) {
	slices.SortStableFunc(entries, func(a, b *ScanEntry) int {
		return cmp.Compare(a.Inode, b.Inode)
	})
}

// sortByPath is the MH natural order. Numbers compare as strings, so "10"
// sorts before "9".
func sortByPath(entries []*ScanEntry) {
	slices.SortStableFunc(entries, func(a, b *ScanEntry) int {
		return strings.Compare(entryPath(a), entryPath(b))
	})
}

func entryPath(e *ScanEntry) string {
	if e.Message != nil {
		return e.Message.Path
	}
	return e.Canonical
}
