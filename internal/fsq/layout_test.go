package fsq

import (
	"os"
	"strings"
	"testing"
)

func TestValidateMessageName(t *testing.T) {
	tests := []struct {
		name   string
		ok     bool
		errStr string
	}{
		{"1700000000.R1.host", true, ""},
		{"1700000000.R1.host:2,FS", true, ""},
		{"42", true, ""},
		{"", false, "empty"},
		{"  ", false, "empty"},
		{"..", false, "path traversal"},
		{"../etc", false, "path traversal"},
		{"cur/foo", false, "path traversal"},
		{".mh_sequences", false, "dot"},
	}
	for _, tc := range tests {
		err := ValidateMessageName(tc.name)
		if tc.ok && err != nil {
			t.Errorf("ValidateMessageName(%q) = %v, want nil", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("ValidateMessageName(%q) = nil, want error containing %q", tc.name, tc.errStr)
			} else if !strings.Contains(err.Error(), tc.errStr) {
				t.Errorf("ValidateMessageName(%q) = %v, want error containing %q", tc.name, err, tc.errStr)
			}
		}
	}
}

func TestEnsureMHDirsKeepsSequences(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(SequencesPath(root), []byte("unseen: 1\n"), 0o600); err != nil {
		t.Fatalf("write sequences: %v", err)
	}
	if err := EnsureMHDirs(root, 0o700); err != nil {
		t.Fatalf("EnsureMHDirs: %v", err)
	}
	data, err := os.ReadFile(SequencesPath(root))
	if err != nil {
		t.Fatalf("read sequences: %v", err)
	}
	if string(data) != "unseen: 1\n" {
		t.Fatalf("sequences overwritten: %q", data)
	}
}

func TestEnsureMaildirDirs(t *testing.T) {
	root := t.TempDir()
	if err := EnsureMaildirDirs(root, 0o700); err != nil {
		t.Fatalf("EnsureMaildirDirs: %v", err)
	}
	for _, dir := range []string{NewDir(root), CurDir(root), TmpDir(root)} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
