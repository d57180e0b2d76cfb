package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/avivsinai/mailsync/internal/codec"
	"github.com/avivsinai/mailsync/internal/fsq"
)

// Sync writes local changes to disk. It checks first and merges whatever
// another agent changed; pending local changes survive the merge and are
// written on top of it. The returned status is the one Check reported.
func (mb *Mailbox) Sync(ctx context.Context) (Status, error) {
	st, err := mb.Check(ctx)
	if err != nil {
		return Unchanged, err
	}

	for _, m := range mb.msgs {
		if err := mb.syncMessage(m); err != nil {
			return st, err
		}
	}
	if mb.flavor == MH {
		mb.writeSequences()
	}
	if err := mb.recordMtimes(); err != nil {
		return st, err
	}

	mb.compact(func(m *Message) bool {
		return m.Purge || (m.Deleted && !mb.keepsDeleted())
	})
	mb.changed = false
	return st, nil
}

// Prune drops messages whose files another agent removed, along with their
// cache entries. Nothing else is written; pending changes stay pending.
// It reports how many messages were dropped.
func (mb *Mailbox) Prune() int {
	before := len(mb.msgs)
	mb.compact(func(m *Message) bool {
		if m.Purge {
			mb.deleteCached(m.Path)
		}
		return m.Purge
	})
	return before - len(mb.msgs)
}

func (mb *Mailbox) compact(drop func(*Message) bool) {
	keep := mb.msgs[:0]
	for _, m := range mb.msgs {
		if drop(m) {
			continue
		}
		keep = append(keep, m)
	}
	clear(mb.msgs[len(keep):])
	mb.msgs = keep
	mb.reindex()
}

// keepsDeleted reports whether deleted messages stay on disk with a T flag.
func (mb *Mailbox) keepsDeleted() bool {
	return mb.flavor == Maildir && mb.opts.MaildirTrash
}

func (mb *Mailbox) syncMessage(m *Message) error {
	if m.Purge {
		mb.deleteCached(m.Path)
		return nil
	}

	if m.Deleted && !mb.keepsDeleted() {
		full := filepath.Join(mb.root, m.Path)
		if mb.flavor == Maildir || mb.opts.MhPurge {
			mb.deleteCached(m.Path)
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", m.Path, err)
			}
			return nil
		}
		if err := os.Rename(full, filepath.Join(mb.root, ","+m.Path)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("move aside %s: %w", m.Path, err)
		}
		return nil
	}

	trashChanged := mb.flavor == Maildir && (mb.opts.MaildirTrash || m.Trash) && m.Deleted != m.Trash
	if mb.flavor == Maildir && (m.Changed || trashChanged) {
		if err := mb.renameFlags(m); err != nil {
			return err
		}
	}
	if m.Changed {
		if c := mb.opts.Cache; c != nil {
			if err := c.Store(mb.cacheKey(m.Path), m, time.Now()); err != nil {
				mb.log.Warn("header cache store failed", slog.String("path", m.Path), slog.Any("err", err))
			}
		}
		m.Changed = false
	}
	return nil
}

// renameFlags moves a Maildir message to the name its flags call for.
func (mb *Mailbox) renameFlags(m *Message) error {
	subdir := fsq.BoxNew
	if m.Read || m.Old {
		subdir = fsq.BoxCur
	}
	name := codec.CanonicalName(m.Path, mb.opts.Delimiter) +
		codec.EncodeMaildirFlags(mb.codecFlags(m), m.Old, mb.opts.Delimiter)
	rel := subdir + "/" + name
	if rel != m.Path {
		if err := os.Rename(filepath.Join(mb.root, m.Path), filepath.Join(mb.root, rel)); err != nil {
			return fmt.Errorf("rename %s: %w", m.Path, err)
		}
		m.Path = rel
	}
	m.Trash = m.Deleted
	return nil
}

func (mb *Mailbox) deleteCached(p string) {
	c := mb.opts.Cache
	if c == nil {
		return
	}
	if err := c.Delete(mb.cacheKey(p)); err != nil {
		mb.log.Warn("header cache delete failed", slog.String("path", p), slog.Any("err", err))
	}
}

// recordMtimes stores the current directory mtimes so that our own writes
// are not reported as external changes by the next Check.
func (mb *Mailbox) recordMtimes() error {
	switch mb.flavor {
	case Maildir:
		newFi, curFi, err := mb.statMaildir()
		if err != nil {
			return err
		}
		mb.state.MtimeNew, mb.state.MtimeCur = newFi.ModTime(), curFi.ModTime()
	case MH:
		dirFi, seqFi, err := mb.statMH()
		if err != nil {
			return err
		}
		mb.state.MtimeNew, mb.state.MtimeCur = dirFi.ModTime(), seqFi.ModTime()
	}
	return nil
}
