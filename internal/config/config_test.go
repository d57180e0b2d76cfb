package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigWriteRead(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "mailsync", "config.json")
	cfg := Default()
	cfg.MaildirTrash = true
	cfg.HeaderCache = "/var/cache/mailsync.db"
	if err := WriteConfig(path, cfg, false); err != nil {
		t.Fatalf("WriteConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("loaded = %+v, want %+v", loaded, cfg)
	}
	if err := WriteConfig(path, cfg, false); err == nil {
		t.Fatalf("expected error on overwrite without force")
	}
	if err := WriteConfig(path, cfg, true); err != nil {
		t.Fatalf("WriteConfig with force: %v", err)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"flag_safe": true, "mark_old": false}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.FlagSafe || cfg.MarkOld || !cfg.CheckNew || cfg.Delimiter != ":" || cfg.SeqUnseen != "unseen" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	if _, err := LoadConfig(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadConfig missing: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("Load missing = %+v", cfg)
	}
}

func TestDefaultPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfig, "/tmp/custom.json")
	if got := DefaultPath(); got != "/tmp/custom.json" {
		t.Fatalf("DefaultPath = %q", got)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MAILSYNC_DELIMITER":     "!",
		"MAILSYNC_FLAG_SAFE":     "true",
		"MAILSYNC_MARK_OLD":      "0",
		"MAILSYNC_HEADER_CACHE":  "/tmp/h.db",
		"MAILSYNC_LOG_LEVEL":     "debug",
		"MAILSYNC_MAILDIR_TRASH": "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Delimiter != "!" || !cfg.FlagSafe || cfg.MarkOld || cfg.HeaderCache != "/tmp/h.db" || cfg.MaildirTrash {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Fatalf("Level = %v", cfg.Level())
	}

	env["MAILSYNC_CHECK_NEW"] = "maybe"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Fatalf("expected error for invalid boolean")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MAILSYNC_TEST_ENVFILE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("MAILSYNC_TEST_ENVFILE") })
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("MAILSYNC_TEST_ENVFILE"); got != "from-file" {
		t.Fatalf("env = %q", got)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty delimiter", func(c *Config) { c.Delimiter = "" }},
		{"long delimiter", func(c *Config) { c.Delimiter = "::" }},
		{"slash delimiter", func(c *Config) { c.Delimiter = "/" }},
		{"digit delimiter", func(c *Config) { c.Delimiter = "7" }},
		{"letter delimiter", func(c *Config) { c.Delimiter = "R" }},
		{"dash delimiter", func(c *Config) { c.Delimiter = "-" }},
		{"underscore delimiter", func(c *Config) { c.Delimiter = "_" }},
		{"backslash delimiter", func(c *Config) { c.Delimiter = "\\" }},
		{"sequence with colon", func(c *Config) { c.SeqUnseen = "un:seen" }},
		{"duplicate sequences", func(c *Config) { c.SeqFlagged = c.SeqReplied }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
