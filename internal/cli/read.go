package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"strings"

	"github.com/avivsinai/mailsync/internal/mailbox"
)

func runRead(args []string) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	common := addCommonFlags(fs)
	idFlag := fs.String("id", "", "Message id (file name without flags, or MH number)")
	peekFlag := fs.Bool("peek", false, "Do not mark the message read")

	usage := usageWithFlags(fs, "mailsync read --mailbox <path> --id <id> [--peek] [options]")
	if handled, err := parseFlags(fs, args, usage); err != nil {
		return err
	} else if handled {
		return nil
	}

	ctx := context.Background()
	s, err := openMailbox(ctx, common)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	msg, err := s.lookup(*idFlag)
	if err != nil {
		return err
	}
	f, err := s.mb.OpenMessage(msg)
	if err != nil {
		return mailboxError(err)
	}
	body, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	if !*peekFlag && s.mb.SetFlag(msg, mailbox.FlagRead, true) {
		if _, err := s.sync(ctx); err != nil {
			return err
		}
	}

	if common.JSON {
		return writeJSON(os.Stdout, map[string]any{
			"message": describe(s.mb, msg),
			"body":    string(body[min(int(msg.HeaderSize), len(body)):]),
			"header":  strings.TrimRight(string(body[:min(int(msg.HeaderSize), len(body))]), "\r\n"),
		})
	}
	_, err = os.Stdout.Write(body)
	return err
}
