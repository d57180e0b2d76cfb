package fsq

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FindStaleTmpFiles lists staging files under a mailbox root that were last
// modified before cutoff: Maildir tmp/ entries, MH "tmp.*" staging files and
// leftovers of WriteFileAtomic (".name.tmp-N").
func FindStaleTmpFiles(root string, cutoff time.Time) ([]string, error) {
	matches := []string{}
	seen := make(map[string]struct{})
	addMatch := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		matches = append(matches, path)
	}
	scanDir := func(dir string, match func(name string) bool) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() || !match(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue // skip unreadable files instead of failing entire scan
			}
			if info.ModTime().Before(cutoff) {
				addMatch(filepath.Join(dir, entry.Name()))
			}
		}
		return nil
	}

	if err := scanDir(TmpDir(root), func(string) bool { return true }); err != nil {
		return nil, err
	}
	if err := scanDir(root, isStagingName); err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func isStagingName(name string) bool {
	if strings.HasPrefix(name, "tmp.") {
		return true
	}
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}
