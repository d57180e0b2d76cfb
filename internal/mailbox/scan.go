package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/avivsinai/mailsync/internal/codec"
	"github.com/avivsinai/mailsync/internal/fsq"
	"github.com/avivsinai/mailsync/internal/metrics"
)

// ScanEntry is one file found by a directory scan. Message moves into the
// mailbox when the entry is accepted; it is nil once the entry was dropped
// or merged into an existing message.
type ScanEntry struct {
	Message      *Message
	Canonical    string
	Inode        uint64
	HeaderParsed bool
}

// scan lists one Maildir subdirectory (BoxNew or BoxCur) or, for MH with an
// empty subdir, the folder itself.
func (mb *Mailbox) scan(ctx context.Context, subdir string) ([]*ScanEntry, error) {
	dir := mb.root
	if subdir != "" {
		dir = filepath.Join(mb.root, subdir)
	}
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScan, err)
	}

	isOld := subdir == fsq.BoxCur && mb.opts.MarkOld
	entries := make([]*ScanEntry, 0, len(dirents))
	for _, de := range dirents {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAborted, err)
		}
		name := de.Name()
		if de.IsDir() || !mb.validName(name) {
			continue
		}
		rel := name
		if subdir != "" {
			rel = subdir + "/" + name
		}
		ino, err := fsq.Inode(filepath.Join(dir, name))
		if err != nil {
			// Moved or removed by another agent since readdir.
			mb.skipped++
			mb.log.Debug("dropping vanished entry", slog.String("path", rel), slog.Any("err", err))
			continue
		}

		msg := &Message{Path: rel, Active: true}
		e := &ScanEntry{Message: msg, Inode: ino}
		if mb.flavor == Maildir {
			f := codec.DecodeMaildirFlags(name, mb.opts.Delimiter, mb.opts.FlagSafe)
			msg.Flagged = f.Flagged
			msg.Replied = f.Replied
			msg.Read = f.Seen
			msg.Deleted = f.Trashed
			msg.Trash = f.Trashed
			msg.MaildirFlags = f.Extra
			msg.Old = isOld
			e.Canonical = codec.StripFlags(name, mb.opts.Delimiter)
		} else {
			e.Canonical = name
		}
		entries = append(entries, e)
	}
	metrics.ScanEntries.WithLabelValues(mb.flavor.String()).Add(float64(len(entries)))
	return entries, nil
}

func (mb *Mailbox) validName(name string) bool {
	if name == "" || name[0] == '.' {
		return false
	}
	if mb.flavor == Maildir {
		return true
	}
	return isDigits(name)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// read fills an empty mailbox from disk.
func (mb *Mailbox) read(ctx context.Context) error {
	start := time.Now()
	mb.skipped = 0

	var entries []*ScanEntry
	switch mb.flavor {
	case Maildir:
		newFi, curFi, err := mb.statMaildir()
		if err != nil {
			return err
		}
		for _, sub := range []string{fsq.BoxNew, fsq.BoxCur} {
			got, err := mb.scan(ctx, sub)
			if err != nil {
				return err
			}
			entries = append(entries, got...)
		}
		mb.state.MtimeNew, mb.state.MtimeCur = newFi.ModTime(), curFi.ModTime()
	case MH:
		dirFi, seqFi, err := mb.statMH()
		if err != nil {
			return err
		}
		got, err := mb.scan(ctx, "")
		if err != nil {
			return err
		}
		if err := mb.applySequences(got); err != nil {
			return err
		}
		entries = got
		mb.state.MtimeNew, mb.state.MtimeCur = dirFi.ModTime(), seqFi.ModTime()
	default:
		return ErrUnknownFlavor
	}

	entries = dedupe(entries)
	if err := mb.delayedParse(ctx, entries); err != nil {
		return err
	}
	if mb.flavor == MH && mb.opts.NaturalSort {
		sortByPath(entries)
	}

	mb.msgs = mb.msgs[:0]
	for _, e := range entries {
		if e.Message != nil {
			mb.msgs = append(mb.msgs, e.Message)
			e.Message = nil
		}
	}
	mb.reindex()
	metrics.ScanDuration.WithLabelValues(mb.flavor.String()).Observe(time.Since(start).Seconds())
	mb.log.Debug("mailbox read", slog.Int("messages", len(mb.msgs)), slog.Int("skipped", mb.skipped))
	return nil
}

// dedupe drops later entries whose canonical name was already seen.
func dedupe(entries []*ScanEntry) []*ScanEntry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if _, dup := seen[e.Canonical]; dup {
			continue
		}
		seen[e.Canonical] = struct{}{}
		out = append(out, e)
	}
	return out
}

func (mb *Mailbox) statMaildir() (os.FileInfo, os.FileInfo, error) {
	newFi, err := os.Stat(fsq.NewDir(mb.root))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrScan, err)
	}
	curFi, err := os.Stat(fsq.CurDir(mb.root))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrScan, err)
	}
	return newFi, curFi, nil
}

// statMH stats the folder and its sequences file, creating an empty
// sequences file when it is missing.
func (mb *Mailbox) statMH() (os.FileInfo, os.FileInfo, error) {
	seqPath := fsq.SequencesPath(mb.root)
	seqFi, err := os.Stat(seqPath)
	if os.IsNotExist(err) {
		if _, werr := fsq.WriteFileAtomic(mb.root, fsq.SequencesFile, nil, mb.filePerm()); werr != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrScan, werr)
		}
		seqFi, err = os.Stat(seqPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrScan, err)
	}
	// Stat the folder last: creating the sequences file changes its mtime.
	dirFi, err := os.Stat(mb.root)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrScan, err)
	}
	return dirFi, seqFi, nil
}

// mhNumber parses the message number of an MH path.
func mhNumber(p string) (int, bool) {
	if !isDigits(p) {
		return 0, false
	}
	n, err := strconv.Atoi(p)
	return n, err == nil
}
