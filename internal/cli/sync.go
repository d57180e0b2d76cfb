package cli

import (
	"context"
	"flag"
	"os"
	"os/signal"
)

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	common := addCommonFlags(fs)

	usage := usageWithFlags(fs, "mailsync sync --mailbox <path> [options]",
		"Writes pending flag changes and removes messages marked deleted",
		"(kept with a T flag when maildir_trash is set).")
	if handled, err := parseFlags(fs, args, usage); err != nil {
		return err
	} else if handled {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := openMailbox(ctx, common)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	before := s.mb.Stats()
	st, err := s.sync(ctx)
	if err != nil {
		return err
	}
	after := s.mb.Stats()

	if common.JSON {
		return writeJSON(os.Stdout, map[string]any{
			"mailbox": s.mb.Root(),
			"check":   st.String(),
			"before":  before,
			"after":   after,
			"skipped": s.mb.Skipped(),
		})
	}
	return writeStdout("%s: %d messages (%d unread, %d flagged), %d removed, check %s\n",
		s.mb.Root(), after.Total, after.Unread, after.Flagged, max(before.Total-after.Total, 0), st)
}
