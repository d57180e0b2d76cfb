package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/avivsinai/mailsync/internal/mailbox"
)

func runDeliver(args []string) error {
	fs := flag.NewFlagSet("deliver", flag.ContinueOnError)
	common := addCommonFlags(fs)
	flagsFlag := fs.String("flags", "", "Maildir flag letters to deliver with (F, R, S, T)")
	receivedFlag := fs.String("received", "", "Received time (RFC3339); sets the file mtime")

	usage := usageWithFlags(fs, "mailsync deliver --mailbox <path> [--flags FRST] [--received <time>] < message",
		"The message is read from stdin and committed under a unique name.")
	if handled, err := parseFlags(fs, args, usage); err != nil {
		return err
	} else if handled {
		return nil
	}

	msg := &mailbox.Message{}
	if err := applyLetters(msg, *flagsFlag, true); err != nil {
		return err
	}
	if *receivedFlag != "" {
		ts, err := time.Parse(time.RFC3339, *receivedFlag)
		if err != nil {
			return UsageError("--received: %v", err)
		}
		msg.Received = ts
	}

	ctx := context.Background()
	s, err := openMailbox(ctx, common)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if term.IsTerminal(int(os.Stdin.Fd())) {
		_ = writeStderr("Reading message from stdin; end with Ctrl-D.\n")
	}
	nm, err := s.mb.OpenNewMessage(msg)
	if err != nil {
		return err
	}
	n, err := io.Copy(nm, os.Stdin)
	if err != nil {
		return fmt.Errorf("read message: %w", joinAbort(err, nm))
	}
	if n == 0 {
		if err := nm.Abort(); err != nil {
			return err
		}
		return UsageError("empty message on stdin")
	}
	rel, err := nm.Commit()
	if err != nil {
		return err
	}

	if common.JSON {
		return writeJSON(os.Stdout, map[string]any{
			"path":  rel,
			"id":    messageID(s.mb, msg),
			"bytes": n,
		})
	}
	return writeStdout("Delivered %s\n", rel)
}

func joinAbort(err error, nm *mailbox.NewMessage) error {
	if aerr := nm.Abort(); aerr != nil {
		return fmt.Errorf("%w (abort: %v)", err, aerr)
	}
	return err
}

// validateLetters rejects anything but the Maildir info letters F, R, S and T.
func validateLetters(letters string) error {
	for _, c := range letters {
		if !strings.ContainsRune("FRST", c) {
			return UsageError("unknown flag letter %q (use F, R, S or T)", c)
		}
	}
	return nil
}

// applyLetters sets (on == true) or clears the flags named by Maildir info
// letters: F flagged, R replied, S seen, T trashed.
func applyLetters(msg *mailbox.Message, letters string, on bool) error {
	if err := validateLetters(letters); err != nil {
		return err
	}
	for _, c := range letters {
		switch c {
		case 'F':
			msg.Flagged = on
		case 'R':
			msg.Replied = on
		case 'S':
			msg.Read = on
		case 'T':
			msg.Deleted = on
		}
	}
	return nil
}
