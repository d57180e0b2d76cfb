package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/avivsinai/mailsync/internal/codec"
	"github.com/avivsinai/mailsync/internal/fsq"
	"github.com/avivsinai/mailsync/internal/metrics"
)

// NewMessage is a message being written into a staging file. Write the full
// message, then Commit to move it into the mailbox or Abort to discard it.
type NewMessage struct {
	mb   *Mailbox
	msg  *Message
	f    *os.File
	path string
	done bool

	// rewrite commits without touching .mh_sequences; the number is only
	// temporary until RewriteMessage moves the file back.
	rewrite bool
}

// OpenNewMessage creates a staging file for a new message. msg, if not nil,
// supplies the flags and received time the committed file gets; Commit sets
// its Path.
func (mb *Mailbox) OpenNewMessage(msg *Message) (*NewMessage, error) {
	var (
		f    *os.File
		path string
		err  error
	)
	switch mb.flavor {
	case Maildir:
		f, path, err = mb.createMaildirTmp(msg)
	case MH:
		f, path, err = mb.createMHTmp()
	default:
		err = ErrUnknownFlavor
	}
	if err != nil {
		return nil, err
	}
	return &NewMessage{mb: mb, msg: msg, f: f, path: path}, nil
}

func (mb *Mailbox) createMaildirTmp(msg *Message) (*os.File, string, error) {
	suffix := ""
	if msg != nil {
		suffix = codec.EncodeMaildirFlags(mb.codecFlags(msg), false, mb.opts.Delimiter)
	}
	for {
		name := fmt.Sprintf("%d.%d_%d.%s%s", time.Now().Unix(), os.Getpid(), fsq.NextCounter(), fsq.Hostname(mb.opts.Delimiter), suffix)
		path := filepath.Join(fsq.TmpDir(mb.root), name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mb.filePerm())
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create staging file: %w", err)
		}
	}
}

func (mb *Mailbox) createMHTmp() (*os.File, string, error) {
	for {
		name := fmt.Sprintf("tmp.%s-%d-%d", fsq.Hostname(mb.opts.Delimiter), os.Getpid(), fsq.Rand64())
		path := filepath.Join(mb.root, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mb.filePerm())
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create staging file: %w", err)
		}
	}
}

func (n *NewMessage) Write(p []byte) (int, error) {
	return n.f.Write(p)
}

// Abort closes and removes the staging file.
func (n *NewMessage) Abort() error {
	if n.done {
		return nil
	}
	n.done = true
	cerr := n.f.Close()
	rerr := os.Remove(n.path)
	if rerr != nil && os.IsNotExist(rerr) {
		rerr = nil
	}
	return errors.Join(cerr, rerr)
}

// Commit flushes the staging file and moves it to a unique name in the
// mailbox. It returns the path relative to the mailbox root.
func (n *NewMessage) Commit() (string, error) {
	if n.done {
		return "", errors.New("message already committed or aborted")
	}
	n.done = true
	if err := n.f.Sync(); err != nil {
		_ = n.f.Close()
		return "", cleanupStaging(n.path, err)
	}
	if err := n.f.Close(); err != nil {
		return "", cleanupStaging(n.path, err)
	}

	var (
		rel string
		err error
	)
	switch n.mb.flavor {
	case Maildir:
		rel, err = n.mb.commitMaildir(n.path, n.msg)
	case MH:
		rel, err = n.mb.commitMH(n.path, n.msg, !n.rewrite)
	default:
		err = ErrUnknownFlavor
	}
	if err != nil {
		return "", cleanupStaging(n.path, err)
	}
	if n.msg != nil {
		n.msg.Path = rel
	}
	metrics.Commits.WithLabelValues(n.mb.flavor.String()).Inc()
	return rel, nil
}

func cleanupStaging(path string, primary error) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Join(primary, fmt.Errorf("cleanup staging file: %w", err))
	}
	return primary
}

func (mb *Mailbox) commitMaildir(tmp string, msg *Message) (string, error) {
	subdir := fsq.BoxNew
	suffix := ""
	if msg != nil {
		if msg.Read || msg.Old {
			subdir = fsq.BoxCur
		}
		suffix = codec.EncodeMaildirFlags(mb.codecFlags(msg), msg.Old, mb.opts.Delimiter)
	}

	var rel, full string
	for {
		name := fmt.Sprintf("%d.R%d.%s%s", time.Now().Unix(), fsq.Rand64(), fsq.Hostname(mb.opts.Delimiter), suffix)
		rel = subdir + "/" + name
		full = filepath.Join(mb.root, subdir, name)
		err := mb.rename(tmp, full)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("commit message: %w", err)
		}
		metrics.CommitCollisions.Inc()
	}
	mb.syncDir(filepath.Join(mb.root, subdir))
	mb.restoreReceived(full, msg)
	return rel, nil
}

func (mb *Mailbox) commitMH(tmp string, msg *Message, addSeq bool) (string, error) {
	hi, err := mb.highestMH()
	if err != nil {
		return "", fmt.Errorf("commit message: %w", err)
	}
	n := hi + 1
	for {
		err := mb.rename(tmp, filepath.Join(mb.root, strconv.Itoa(n)))
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("commit message: %w", err)
		}
		metrics.CommitCollisions.Inc()
		n++
	}
	rel := strconv.Itoa(n)
	mb.syncDir(mb.root)
	if addSeq {
		if err := codec.AddOne(mb.root, n, seqFlagsOf(msg), mb.opts.SeqNames, mb.filePerm()); err != nil {
			mb.log.Warn("updating mh sequences failed", slog.Int("number", n), slog.Any("err", err))
		}
	}
	mb.restoreReceived(filepath.Join(mb.root, rel), msg)
	return rel, nil
}

// syncDir makes a committed name durable. Failure leaves the message in place,
// so it is only logged.
func (mb *Mailbox) syncDir(dir string) {
	if err := fsq.SyncDir(dir); err != nil {
		mb.log.Warn("syncing mailbox directory failed", slog.String("dir", dir), slog.Any("err", err))
	}
}

// restoreReceived sets the file times to the received time of msg so that
// ordering by arrival survives copies between mailboxes.
func (mb *Mailbox) restoreReceived(full string, msg *Message) {
	if msg == nil || msg.Received.IsZero() {
		return
	}
	if err := os.Chtimes(full, msg.Received, msg.Received); err != nil {
		mb.log.Warn("restoring received time failed", slog.String("path", full), slog.Any("err", err))
	}
}

// RewriteMessage replaces the content of msg with what fn writes. fn gets the
// current content as src. The new file is committed under a fresh name and
// the old one removed. For MH the new file is then moved back onto the old
// number; if that fails the message keeps the new number.
func (mb *Mailbox) RewriteMessage(ctx context.Context, msg *Message, fn func(dst io.Writer, src io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	src, err := mb.OpenMessage(msg)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	nm, err := mb.OpenNewMessage(msg)
	if err != nil {
		return err
	}
	nm.rewrite = true
	if err := fn(nm, src); err != nil {
		return errors.Join(err, nm.Abort())
	}

	oldPath := msg.Path
	if _, err := nm.Commit(); err != nil {
		msg.Path = oldPath
		return err
	}
	if err := os.Remove(filepath.Join(mb.root, oldPath)); err != nil && !os.IsNotExist(err) {
		mb.log.Warn("removing rewritten message failed", slog.String("path", oldPath), slog.Any("err", err))
	}
	if c := mb.opts.Cache; c != nil {
		if err := c.Delete(mb.cacheKey(oldPath)); err != nil {
			mb.log.Warn("header cache delete failed", slog.String("path", oldPath), slog.Any("err", err))
		}
	}

	if mb.flavor == MH {
		err := fsq.RenameNoReplace(filepath.Join(mb.root, msg.Path), filepath.Join(mb.root, oldPath))
		if err == nil {
			msg.Path = oldPath
		} else {
			mb.log.Debug("mh message keeps new number", slog.String("old", oldPath), slog.String("new", msg.Path), slog.Any("err", err))
			mb.writeSequences()
		}
	}

	full := filepath.Join(mb.root, msg.Path)
	if fi, err := os.Stat(full); err == nil {
		if err := mb.parseFile(msg, full, fi); err != nil {
			mb.log.Debug("reparsing rewritten message failed", slog.String("path", msg.Path), slog.Any("err", err))
		} else if c := mb.opts.Cache; c != nil {
			if err := c.Store(mb.cacheKey(msg.Path), msg, time.Now()); err != nil {
				mb.log.Warn("header cache store failed", slog.String("path", msg.Path), slog.Any("err", err))
			}
		}
	}
	return nil
}
