package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/avivsinai/mailsync/internal/metrics"
)

var errEmptyFile = errors.New("zero-length message file")

// delayedParse fills in the header fields of every unparsed entry, visiting
// them in inode order. Entries that cannot be read or parsed are dropped.
func (mb *Mailbox) delayedParse(ctx context.Context, entries []*ScanEntry) error {
	ordered := slices.Clone(entries)
	sortByInode(ordered)
	for _, e := range ordered {
		if e.Message == nil || e.HeaderParsed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrAborted, err)
		}
		mb.parseEntry(e)
		e.HeaderParsed = true
	}
	return nil
}

func (mb *Mailbox) parseEntry(e *ScanEntry) {
	scanned := e.Message
	full := filepath.Join(mb.root, scanned.Path)
	key := mb.cacheKey(scanned.Path)

	fi, err := os.Stat(full)
	if err != nil {
		mb.drop(e, err)
		return
	}

	if c := mb.opts.Cache; c != nil {
		cached, validity, ok := c.Fetch(key)
		switch {
		case !ok:
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		case mb.opts.VerifyCache && fi.ModTime().After(validity):
			metrics.CacheLookups.WithLabelValues("stale").Inc()
		default:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			mb.adopt(cached, scanned)
			e.Message = cached
			return
		}
	}

	if err := mb.parseFile(scanned, full, fi); err != nil {
		metrics.ParseErrors.Inc()
		mb.drop(e, err)
		return
	}
	if c := mb.opts.Cache; c != nil {
		if err := c.Store(key, scanned, time.Now()); err != nil {
			mb.log.Warn("header cache store failed", slog.String("path", scanned.Path), slog.Any("err", err))
		}
	}
}

func (mb *Mailbox) drop(e *ScanEntry, err error) {
	mb.skipped++
	mb.log.Debug("dropping message", slog.String("path", e.Message.Path), slog.Any("err", err))
	e.Message = nil
}

// adopt takes the header fields of a cached message and the flags of the
// scanned one. The cache is trusted for content, not for flags.
func (mb *Mailbox) adopt(cached, scanned *Message) {
	cached.Path = scanned.Path
	cached.Read = scanned.Read
	cached.Flagged = scanned.Flagged
	cached.Replied = scanned.Replied
	if mb.flavor == Maildir {
		cached.Old = scanned.Old
		cached.Deleted = scanned.Deleted
		cached.Trash = scanned.Trash
		cached.MaildirFlags = scanned.MaildirFlags
	}
	cached.Purge = false
	cached.Changed = false
	cached.Active = true
}

// parseFile reads the header of the file at full into msg.
func (mb *Mailbox) parseFile(msg *Message, full string, fi os.FileInfo) error {
	if fi.Size() == 0 {
		return errEmptyFile
	}
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	env, err := mb.opts.Parser.Parse(f)
	if err != nil {
		return err
	}
	msg.From = env.From
	msg.To = env.To
	msg.Subject = env.Subject
	msg.MessageID = env.MessageID
	msg.Date = env.Date
	msg.Received = env.Received
	if msg.Received.IsZero() {
		msg.Received = env.Date
	}
	msg.HeaderSize = env.HeaderSize
	msg.Length = fi.Size() - env.HeaderSize
	if msg.Length < 0 {
		msg.Length = 0
	}
	// Maildir flags live in the file name; the header only counts for MH,
	// whose read/flagged/replied state comes from .mh_sequences.
	if mb.flavor == MH {
		msg.Old = env.Old
	}
	return nil
}

func (mb *Mailbox) cacheKey(p string) string {
	return mb.canonical(p)
}
