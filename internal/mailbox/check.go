package mailbox

import (
	"context"
	"log/slog"
	"strings"

	"github.com/avivsinai/mailsync/internal/fsq"
	"github.com/avivsinai/mailsync/internal/metrics"
)

// Status is the outcome of Check. Larger values take precedence.
type Status int

const (
	Unchanged Status = iota
	FlagsChanged
	NewMail
	// Reopened means messages vanished from disk; indexes must be rebuilt.
	Reopened
)

func (s Status) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case FlagsChanged:
		return "flags_changed"
	case NewMail:
		return "new_mail"
	case Reopened:
		return "reopened"
	}
	return "unknown"
}

// Check folds changes made on disk by other agents into the message set.
// Subdirectories whose mtime did not advance are not rescanned. On error the
// message set and recorded mtimes are left as they were.
func (mb *Mailbox) Check(ctx context.Context) (Status, error) {
	if !mb.opts.CheckNew {
		return Unchanged, nil
	}
	var (
		st  Status
		err error
	)
	switch mb.flavor {
	case Maildir:
		st, err = mb.checkMaildir(ctx)
	case MH:
		st, err = mb.checkMH(ctx)
	default:
		return Unchanged, ErrUnknownFlavor
	}
	if err != nil {
		return Unchanged, err
	}
	metrics.Checks.WithLabelValues(st.String()).Inc()
	return st, nil
}

func (mb *Mailbox) checkMaildir(ctx context.Context) (Status, error) {
	newFi, curFi, err := mb.statMaildir()
	if err != nil {
		return Unchanged, err
	}
	scanNew := newFi.ModTime().After(mb.state.MtimeNew)
	scanCur := curFi.ModTime().After(mb.state.MtimeCur)
	if !scanNew && !scanCur {
		return Unchanged, nil
	}

	mb.skipped = 0
	var entries []*ScanEntry
	for _, sub := range []struct {
		name string
		scan bool
	}{{fsq.BoxNew, scanNew}, {fsq.BoxCur, scanCur}} {
		if !sub.scan {
			continue
		}
		got, err := mb.scan(ctx, sub.name)
		if err != nil {
			return Unchanged, err
		}
		entries = append(entries, got...)
	}

	rescanned := func(p string) bool {
		return (scanNew && strings.HasPrefix(p, fsq.BoxNew+"/")) ||
			(scanCur && strings.HasPrefix(p, fsq.BoxCur+"/"))
	}
	st, err := mb.reconcile(ctx, entries, rescanned)
	if err != nil {
		return Unchanged, err
	}
	mb.state.MtimeNew, mb.state.MtimeCur = newFi.ModTime(), curFi.ModTime()
	return st, nil
}

// checkMH rescans the whole folder when either the folder or its sequences
// file changed.
func (mb *Mailbox) checkMH(ctx context.Context) (Status, error) {
	dirFi, seqFi, err := mb.statMH()
	if err != nil {
		return Unchanged, err
	}
	if !dirFi.ModTime().After(mb.state.MtimeNew) && !seqFi.ModTime().After(mb.state.MtimeCur) {
		return Unchanged, nil
	}

	mb.skipped = 0
	entries, err := mb.scan(ctx, "")
	if err != nil {
		return Unchanged, err
	}
	if err := mb.applySequences(entries); err != nil {
		return Unchanged, err
	}
	st, err := mb.reconcile(ctx, entries, func(string) bool { return true })
	if err != nil {
		return Unchanged, err
	}
	mb.state.MtimeNew, mb.state.MtimeCur = dirFi.ModTime(), seqFi.ModTime()
	return st, nil
}

// reconcile merges freshly scanned entries into the live set. rescanned
// reports whether a message path lies in a directory that was scanned this
// round, so a missing entry means the file is gone.
func (mb *Mailbox) reconcile(ctx context.Context, entries []*ScanEntry, rescanned func(string) bool) (Status, error) {
	byName := make(map[string]*ScanEntry, len(entries))
	for _, e := range entries {
		if _, dup := byName[e.Canonical]; dup {
			e.Message = nil
			continue
		}
		byName[e.Canonical] = e
	}

	// Parse new arrivals before touching the live set so an abort leaves it
	// unchanged.
	matched := make(map[*ScanEntry]bool, len(mb.msgs))
	for _, m := range mb.msgs {
		if m.Purge {
			continue
		}
		if e, ok := byName[mb.canonical(m.Path)]; ok && e.Message != nil {
			matched[e] = true
		}
	}
	var fresh []*ScanEntry
	for _, e := range entries {
		if e.Message != nil && !matched[e] {
			fresh = append(fresh, e)
		}
	}
	if err := mb.delayedParse(ctx, fresh); err != nil {
		return Unchanged, err
	}

	var occult, flagsChanged, newMail bool
	for _, m := range mb.msgs {
		if m.Purge {
			continue
		}
		m.Active = false
		e, ok := byName[mb.canonical(m.Path)]
		if !ok || !matched[e] {
			if rescanned(m.Path) {
				m.Deleted = true
				m.Purge = true
				occult = true
				metrics.Occult.Inc()
				mb.log.Debug("message removed externally", slog.String("path", m.Path))
			} else {
				m.Active = true
			}
			continue
		}

		sc := e.Message
		m.Active = true
		if m.Path != sc.Path {
			m.Path = sc.Path
		}
		if !m.Changed && mb.mergeFlags(m, sc) {
			flagsChanged = true
		}
		// Only adopt an on-disk delete if the user did not toggle deletion
		// since we last saw the file.
		if m.Deleted == m.Trash && m.Deleted != sc.Deleted {
			m.Deleted = sc.Deleted
			flagsChanged = true
		}
		m.Trash = sc.Trash
		if mb.flavor == Maildir {
			m.MaildirFlags = sc.MaildirFlags
		}
		e.Message = nil
	}

	for _, e := range fresh {
		if e.Message == nil {
			continue
		}
		e.Message.Index = len(mb.msgs)
		mb.msgs = append(mb.msgs, e.Message)
		e.Message = nil
		newMail = true
	}

	switch {
	case occult:
		return Reopened, nil
	case newMail:
		return NewMail, nil
	case flagsChanged:
		return FlagsChanged, nil
	}
	return Unchanged, nil
}

// mergeFlags copies the on-disk flags of sc into m one flag at a time, so
// every transition goes through SetFlag. The changes mirror the disk and are
// not pending writes: m.Changed and a clean mailbox stay clean.
func (mb *Mailbox) mergeFlags(m, sc *Message) bool {
	wasChanged := mb.changed
	mb.SetFlag(m, FlagFlagged, sc.Flagged)
	mb.SetFlag(m, FlagReplied, sc.Replied)
	mb.SetFlag(m, FlagRead, sc.Read)
	if mb.flavor == Maildir {
		mb.SetFlag(m, FlagOld, sc.Old)
	}
	changed := m.Changed
	m.Changed = false
	if !wasChanged {
		mb.changed = false
	}
	return changed
}
