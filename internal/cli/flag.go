package cli

import (
	"context"
	"flag"
	"os"

	"github.com/avivsinai/mailsync/internal/mailbox"
)

func runFlag(args []string) error {
	fs := flag.NewFlagSet("flag", flag.ContinueOnError)
	common := addCommonFlags(fs)
	idFlag := fs.String("id", "", "Message id (file name without flags, or MH number)")
	setFlag := fs.String("set", "", "Flag letters to set (F, R, S, T)")
	clearFlag := fs.String("clear", "", "Flag letters to clear (F, R, S, T)")

	usage := usageWithFlags(fs, "mailsync flag --mailbox <path> --id <id> [--set FRST] [--clear FRST]",
		"F flagged, R replied, S seen, T deleted (trashed).")
	if handled, err := parseFlags(fs, args, usage); err != nil {
		return err
	} else if handled {
		return nil
	}
	if *setFlag == "" && *clearFlag == "" {
		return UsageError("one of --set or --clear is required")
	}
	if err := validateLetters(*setFlag + *clearFlag); err != nil {
		return err
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
	changed := 0
	for _, op := range []struct {
		letters string
		on      bool
	}{{*setFlag, true}, {*clearFlag, false}} {
		for _, c := range op.letters {
			if s.mb.SetFlag(msg, letterFlag(c), op.on) {
				changed++
			}
		}
	}

	st := mailbox.Unchanged
	if changed > 0 {
		if st, err = s.sync(ctx); err != nil {
			return err
		}
	}

	if common.JSON {
		return writeJSON(os.Stdout, map[string]any{
			"message": describe(s.mb, msg),
			"changed": changed,
			"check":   st.String(),
		})
	}
	if changed == 0 {
		return writeStdoutLine("No change.")
	}
	return writeStdout("%s -> %s\n", messageID(s.mb, msg), msg.Path)
}

func letterFlag(c rune) mailbox.Flag {
	switch c {
	case 'F':
		return mailbox.FlagFlagged
	case 'R':
		return mailbox.FlagReplied
	case 'S':
		return mailbox.FlagRead
	default: // 'T'
		return mailbox.FlagDeleted
	}
}
