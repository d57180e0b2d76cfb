// Package config loads mailsync settings from a JSON file, the environment
// and optional env files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/avivsinai/mailsync/internal/codec"
)

const (
	CurrentVersion = 1

	// EnvConfig overrides the config file location.
	EnvConfig = "MAILSYNC_CONFIG"
	envPrefix = "MAILSYNC_"
)

// Config mirrors config.json.
type Config struct {
	Version      int    `json:"version"`
	Delimiter    string `json:"delimiter"`
	FlagSafe     bool   `json:"flag_safe"`
	MarkOld      bool   `json:"mark_old"`
	CheckNew     bool   `json:"check_new"`
	MaildirTrash bool   `json:"maildir_trash"`
	MhPurge      bool   `json:"mh_purge"`
	NaturalSort  bool   `json:"natural_sort"`
	VerifyCache  bool   `json:"verify_cache"`
	HeaderCache  string `json:"header_cache,omitempty"`
	SeqUnseen    string `json:"seq_unseen"`
	SeqFlagged   string `json:"seq_flagged"`
	SeqReplied   string `json:"seq_replied"`
	LogLevel     string `json:"log_level"`
}

// Default returns the settings used when no file exists.
func Default() Config {
	return Config{
		Version:     CurrentVersion,
		Delimiter:   ":",
		MarkOld:     true,
		CheckNew:    true,
		NaturalSort: true,
		VerifyCache: true,
		SeqUnseen:   "unseen",
		SeqFlagged:  "flagged",
		SeqReplied:  "replied",
		LogLevel:    "warn",
	}
}

// DefaultPath is $MAILSYNC_CONFIG, else config.json under the user config dir.
func DefaultPath() string {
	if env := strings.TrimSpace(os.Getenv(EnvConfig)); env != "" {
		return env
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".mailsync", "config.json")
	}
	return filepath.Join(dir, "mailsync", "config.json")
}

func WriteConfig(path string, cfg Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// LoadConfig reads path over the defaults. Fields missing from the file keep
// their default values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load is LoadConfig that treats a missing file as the defaults.
func Load(path string) (Config, error) {
	cfg, err := LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadEnvFile adds the variables of an env file to the process environment.
// Variables already set are not overridden.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from MAILSYNC_* variables found through lookup,
// usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(envPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("DELIMITER", &c.Delimiter)
	str("HEADER_CACHE", &c.HeaderCache)
	str("SEQ_UNSEEN", &c.SeqUnseen)
	str("SEQ_FLAGGED", &c.SeqFlagged)
	str("SEQ_REPLIED", &c.SeqReplied)
	str("LOG_LEVEL", &c.LogLevel)
	return errors.Join(
		boolean("FLAG_SAFE", &c.FlagSafe),
		boolean("MARK_OLD", &c.MarkOld),
		boolean("CHECK_NEW", &c.CheckNew),
		boolean("MAILDIR_TRASH", &c.MaildirTrash),
		boolean("MH_PURGE", &c.MhPurge),
		boolean("NATURAL_SORT", &c.NaturalSort),
		boolean("VERIFY_CACHE", &c.VerifyCache),
	)
}

// Validate checks values that would corrupt file names or sequences.
func (c Config) Validate() error {
	if len(c.Delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single byte, got %q", c.Delimiter)
	}
	if err := codec.ValidDelimiter(c.Delimiter[0]); err != nil {
		return fmt.Errorf("delimiter: %w", err)
	}
	for name, tag := range map[string]string{
		"seq_unseen":  c.SeqUnseen,
		"seq_flagged": c.SeqFlagged,
		"seq_replied": c.SeqReplied,
	} {
		if tag == "" || strings.ContainsAny(tag, ": \t\n") {
			return fmt.Errorf("%s: invalid sequence name %q", name, tag)
		}
	}
	if c.SeqUnseen == c.SeqFlagged || c.SeqUnseen == c.SeqReplied || c.SeqFlagged == c.SeqReplied {
		return errors.New("sequence names must be distinct")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level, warn when unparseable.
func (c Config) Level() slog.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return l
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelWarn, nil
	}
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
