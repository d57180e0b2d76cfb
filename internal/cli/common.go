package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/avivsinai/mailsync/internal/config"
)

type commonFlags struct {
	Mailbox  string
	Config   string
	EnvFile  string
	LogLevel string
	JSON     bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	flags := &commonFlags{}
	fs.StringVar(&flags.Mailbox, "mailbox", defaultMailbox(), "Mailbox directory (or MAILSYNC_MAILBOX)")
	fs.StringVar(&flags.Config, "config", "", "Config file (default $MAILSYNC_CONFIG or the user config dir)")
	fs.StringVar(&flags.EnvFile, "env-file", "", "Load MAILSYNC_* variables from this file")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&flags.JSON, "json", false, "Emit JSON output")
	return flags
}

func defaultMailbox() string {
	return strings.TrimSpace(os.Getenv(envMailbox))
}

// resolveMailbox cleans raw and makes it absolute. Empty stays empty.
func resolveMailbox(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	cleaned := filepath.Clean(raw)
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return cleaned
	}
	return abs
}

func (c *commonFlags) requireMailbox() (string, error) {
	root := resolveMailbox(c.Mailbox)
	if root == "" {
		return "", UsageError("--mailbox is required (or set %s)", envMailbox)
	}
	return root, nil
}

// loadConfig merges, in increasing precedence: defaults, the config file,
// the env file, the process environment and --log-level.
func (c *commonFlags) loadConfig() (config.Config, error) {
	if c.EnvFile != "" {
		if err := config.LoadEnvFile(c.EnvFile); err != nil {
			return config.Config{}, err
		}
	}
	path := c.Config
	if path == "" {
		path = config.DefaultPath()
	}
	var (
		cfg config.Config
		err error
	)
	if c.Config != "" {
		cfg, err = config.LoadConfig(path)
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return config.Config{}, err
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, UsageError("config: %v", err)
	}
	return cfg, nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func isHelp(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	default:
		return false
	}
}

func parseFlags(fs *flag.FlagSet, args []string, usage func()) (bool, error) {
	fs.SetOutput(io.Discard)
	if usage != nil {
		fs.Usage = usage
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return false, UsageError("%v", err)
	}
	if fs.NArg() > 0 {
		return false, UsageError("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return false, nil
}

func usageWithFlags(fs *flag.FlagSet, usage string, notes ...string) func() {
	return func() {
		_ = writeStdoutLine("Usage:")
		_ = writeStdoutLine("  " + usage)
		if len(notes) > 0 {
			_ = writeStdoutLine("")
			for _, note := range notes {
				_ = writeStdoutLine(note)
			}
		}
		_ = writeStdoutLine("")
		_ = writeStdoutLine("Options:")
		_ = writeFlagDefaults(fs)
	}
}

func writeFlagDefaults(fs *flag.FlagSet) error {
	var buf bytes.Buffer
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(io.Discard)
	if buf.Len() == 0 {
		return nil
	}
	return writeStdout("%s", buf.String())
}

func confirmPrompt(prompt string) (bool, error) {
	if err := writeStdout("%s [y/N]: ", prompt); err != nil {
		return false, err
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes", nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeStdout(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeStdoutLine(args ...any) error {
	_, err := fmt.Fprintln(os.Stdout, args...)
	return err
}

func writeStderr(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stderr, format, args...)
	return err
}
