package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	common := addCommonFlags(fs)
	allFlag := fs.Bool("all", false, "Include messages marked deleted")
	unreadFlag := fs.Bool("unread", false, "Only list unread messages")
	limitFlag := fs.Int("limit", 0, "Limit number of messages (0 = no limit)")

	usage := usageWithFlags(fs, "mailsync list --mailbox <path> [--all] [--unread] [options]")
	if handled, err := parseFlags(fs, args, usage); err != nil {
		return err
	} else if handled {
		return nil
	}
	if *limitFlag < 0 {
		return UsageError("--limit must be >= 0")
	}

	s, err := openMailbox(context.Background(), common)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	items := make([]messageInfo, 0, len(s.mb.Messages()))
	for _, m := range s.mb.Messages() {
		if m.Purge || (m.Deleted && !*allFlag) || (m.Read && *unreadFlag) {
			continue
		}
		items = append(items, describe(s.mb, m))
		if *limitFlag > 0 && len(items) == *limitFlag {
			break
		}
	}

	if common.JSON {
		return writeJSON(os.Stdout, map[string]any{
			"mailbox":  s.mb.Root(),
			"flavor":   s.mb.Flavor().String(),
			"stats":    s.mb.Stats(),
			"skipped":  s.mb.Skipped(),
			"messages": items,
		})
	}

	if len(items) == 0 {
		return writeStdoutLine("No messages.")
	}
	width := 0
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
	}
	for _, item := range items {
		if err := writeStdoutLine(truncate(formatListLine(item), width)); err != nil {
			return err
		}
	}
	return nil
}

func formatListLine(item messageInfo) string {
	subject := strings.TrimSpace(item.Subject)
	if subject == "" {
		subject = "(no subject)"
	}
	date := item.Date
	if len(date) >= len("2006-01-02") {
		date = date[:len("2006-01-02")]
	}
	return fmt.Sprintf("%s %-10s  %-24s  %-20s  %s", item.Status, date, item.ID, truncate(item.From, 20), subject)
}

// truncate cuts s to width runes; width <= 0 means no limit.
func truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width])
}
