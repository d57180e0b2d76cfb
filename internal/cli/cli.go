package cli

import "fmt"

const envMailbox = "MAILSYNC_MAILBOX"

func Run(args []string) error {
	if len(args) == 0 || isHelp(args[0]) {
		return printUsage()
	}

	switch args[0] {
	case "init":
		return runInit(args[1:])
	case "list":
		return runList(args[1:])
	case "read":
		return runRead(args[1:])
	case "deliver":
		return runDeliver(args[1:])
	case "flag":
		return runFlag(args[1:])
	case "sync":
		return runSync(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "cleanup":
		return runCleanup(args[1:])
	default:
		return UsageError("unknown command: %s", args[0])
	}
}

var usageLines = []string{
	"mailsync - keep Maildir and MH mailboxes in sync",
	"",
	"Usage:",
	"  mailsync <command> [options]",
	"",
	"Commands:",
	"  init      Create a Maildir (or MH folder with --mh)",
	"  list      List messages and their flags",
	"  read      Print a message and mark it read",
	"  deliver   Deliver a message read from stdin",
	"  flag      Set or clear flags on a message",
	"  sync      Write pending changes and expunge deleted messages",
	"  watch     Wait for changes made by other agents",
	"  cleanup   Remove stale staging files",
	"",
	"Environment:",
	"  MAILSYNC_MAILBOX  Default mailbox path",
	"  MAILSYNC_CONFIG   Config file path",
	"  MAILSYNC_*        Overrides for config fields (e.g. MAILSYNC_HEADER_CACHE)",
}

func printUsage() error {
	for _, line := range usageLines {
		if err := writeStdoutLine(line); err != nil {
			return fmt.Errorf("write usage: %w", err)
		}
	}
	return nil
}
