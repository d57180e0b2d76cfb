// Package mailbox keeps an in-memory view of a Maildir or MH mailbox in step
// with the directory on disk. Other agents may deliver, move and re-flag
// messages at any time; Check folds their changes into the live message set
// and Sync writes local flag changes back using rename-only updates.
package mailbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/avivsinai/mailsync/internal/codec"
	"github.com/avivsinai/mailsync/internal/fsq"
	"github.com/avivsinai/mailsync/internal/parse"
)

// Flavor selects the on-disk format.
type Flavor int

const (
	Maildir Flavor = iota + 1
	MH
)

func (f Flavor) String() string {
	switch f {
	case Maildir:
		return "maildir"
	case MH:
		return "mh"
	default:
		return fmt.Sprintf("flavor(%d)", int(f))
	}
}

// Flag names one of the per-message booleans changed through SetFlag.
type Flag int

const (
	FlagRead Flag = iota
	FlagOld
	FlagFlagged
	FlagReplied
	FlagDeleted
)

func (f Flag) String() string {
	switch f {
	case FlagRead:
		return "read"
	case FlagOld:
		return "old"
	case FlagFlagged:
		return "flagged"
	case FlagReplied:
		return "replied"
	case FlagDeleted:
		return "deleted"
	}
	return "unknown"
}

// Flags is the user-visible state of a message.
type Flags struct {
	Read    bool `json:"read,omitempty"`
	Old     bool `json:"old,omitempty"`
	Flagged bool `json:"flagged,omitempty"`
	Replied bool `json:"replied,omitempty"`
	Deleted bool `json:"deleted,omitempty"`
}

// Message is one message of a mailbox.
type Message struct {
	// Path is relative to the mailbox root: "new/<name>" or "cur/<name>" for
	// Maildir, the bare message number for MH.
	Path string `json:"path"`
	Flags

	// Trash is the deleted state last seen on disk. It tells a local delete
	// apart from a T letter another agent already wrote.
	Trash bool `json:"trash,omitempty"`

	// MaildirFlags holds info letters we do not interpret, sorted.
	MaildirFlags string `json:"maildir_flags,omitempty"`

	// Purge marks a message whose file is already gone.
	Purge   bool `json:"-"`
	Changed bool `json:"-"`
	Active  bool `json:"-"`
	Index   int  `json:"-"`

	From       string    `json:"from,omitempty"`
	To         []string  `json:"to,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Date       time.Time `json:"date,omitempty"`
	Received   time.Time `json:"received,omitempty"`
	HeaderSize int64     `json:"header_size,omitempty"`
	Length     int64     `json:"length,omitempty"`
}

// Cache stores parsed messages keyed by a flag-independent name. A miss or a
// backend failure is reported as ok == false; the caller then parses the file.
type Cache interface {
	Fetch(key string) (msg *Message, validity time.Time, ok bool)
	Store(key string, msg *Message, validity time.Time) error
	Delete(key string) error
}

// HeaderParser reads the header block of a message.
type HeaderParser interface {
	Parse(r io.Reader) (*parse.Envelope, error)
}

// Options control scanning and syncing.
type Options struct {
	// Delimiter separates the unique name from the info field. Zero means ':'.
	Delimiter byte
	// FlagSafe ignores T on flagged Maildir messages.
	FlagSafe bool
	// MarkOld marks messages found in cur/ as old.
	MarkOld bool
	// CheckNew enables Check; when false Check always reports Unchanged.
	CheckNew bool
	// MaildirTrash keeps deleted Maildir messages and sets T instead.
	MaildirTrash bool
	// MhPurge unlinks deleted MH messages instead of renaming them to ",N".
	MhPurge bool
	// NaturalSort orders MH messages by path after scanning.
	NaturalSort bool
	// VerifyCache rejects cache entries older than the message file.
	VerifyCache bool

	SeqNames codec.SeqNames

	Cache  Cache
	Parser HeaderParser
	Logger *slog.Logger

	// OnFlagChange is called for every flag transition made through SetFlag.
	OnFlagChange func(msg *Message, flag Flag, on bool)
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		Delimiter:   codec.DefaultDelimiter,
		MarkOld:     true,
		CheckNew:    true,
		NaturalSort: true,
		VerifyCache: true,
		SeqNames:    codec.DefaultSeqNames(),
	}
}

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = codec.DefaultDelimiter
	}
	if o.SeqNames == (codec.SeqNames{}) {
		o.SeqNames = codec.DefaultSeqNames()
	}
	if o.Parser == nil {
		o.Parser = parse.Parser{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// SyncState is what the mailbox remembers about the directory between checks.
// For MH, MtimeNew is the folder mtime and MtimeCur the .mh_sequences mtime.
type SyncState struct {
	MtimeNew time.Time
	MtimeCur time.Time
	Umask    os.FileMode
}

// Stats counts the messages of a mailbox.
type Stats struct {
	Total   int `json:"total"`
	Unread  int `json:"unread"`
	Flagged int `json:"flagged"`
	Deleted int `json:"deleted"`
}

// Mailbox is an open mailbox. It is not safe for concurrent use; other
// processes may work on the same directory.
type Mailbox struct {
	root    string
	flavor  Flavor
	opts    Options
	log     *slog.Logger
	msgs    []*Message
	state   SyncState
	changed bool
	skipped int
	probe   probeStats

	// rename moves a staged message to its final name without replacing an
	// existing file.
	rename func(src, dst string) error
}

// Create makes an empty mailbox of the given flavor.
func Create(path string, flavor Flavor, perm os.FileMode) error {
	switch flavor {
	case Maildir:
		return fsq.EnsureMaildirDirs(path, perm)
	case MH:
		return fsq.EnsureMHDirs(path, perm)
	}
	return fmt.Errorf("create %s: %w", path, ErrUnknownFlavor)
}

var mhMarkers = []string{
	fsq.SequencesFile,
	".xmhcache",
	".mew_cache",
	".mew-cache",
	".sylpheed_cache",
	".overview",
}

// DetectFlavor reports whether path is a Maildir (has cur/) or an MH folder
// (has .mh_sequences or another MH agent's marker file).
func DetectFlavor(path string) (Flavor, error) {
	if fi, err := os.Stat(fsq.CurDir(path)); err == nil && fi.IsDir() {
		return Maildir, nil
	}
	for _, name := range mhMarkers {
		if _, err := os.Stat(filepath.Join(path, name)); err == nil {
			return MH, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", path, ErrUnknownFlavor)
}

// Open detects the mailbox flavor and reads every message.
func Open(ctx context.Context, path string, opts Options) (*Mailbox, error) {
	flavor, err := DetectFlavor(path)
	if err != nil {
		return nil, err
	}
	return OpenFlavor(ctx, path, flavor, opts)
}

// OpenFlavor opens path as the given flavor without probing the directory.
func OpenFlavor(ctx context.Context, path string, flavor Flavor, opts Options) (*Mailbox, error) {
	opts = opts.withDefaults()
	if err := codec.ValidDelimiter(opts.Delimiter); err != nil {
		return nil, err
	}
	mb := &Mailbox{
		root:   path,
		flavor: flavor,
		opts:   opts,
		log:    opts.Logger.With(slog.String("mailbox", path), slog.String("flavor", flavor.String())),
		rename: fsq.RenameNoReplace,
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScan, err)
	}
	mb.state.Umask = umaskOf(fi)
	if err := mb.read(ctx); err != nil {
		return nil, err
	}
	return mb, nil
}

func umaskOf(fi os.FileInfo) os.FileMode {
	return 0o777 &^ fi.Mode().Perm()
}

// filePerm is the mode for new message and sequences files.
func (mb *Mailbox) filePerm() os.FileMode {
	return 0o666 &^ mb.state.Umask
}

// Root returns the mailbox directory.
func (mb *Mailbox) Root() string { return mb.root }

// Flavor returns the on-disk format.
func (mb *Mailbox) Flavor() Flavor { return mb.flavor }

// Delimiter is the Maildir info delimiter in use.
func (mb *Mailbox) Delimiter() byte { return mb.opts.Delimiter }

// Messages returns the message set in index order, including messages marked
// for purge until the next Sync drops them.
func (mb *Mailbox) Messages() []*Message { return mb.msgs }

// State returns the recorded mtimes and umask.
func (mb *Mailbox) State() SyncState { return mb.state }

// Changed reports whether a flag was changed locally since the last Sync.
func (mb *Mailbox) Changed() bool { return mb.changed }

// Skipped returns the number of entries dropped by the last scan.
func (mb *Mailbox) Skipped() int { return mb.skipped }

// Stats counts the messages that are not purged.
func (mb *Mailbox) Stats() Stats {
	var s Stats
	for _, m := range mb.msgs {
		if m.Purge {
			continue
		}
		s.Total++
		if !m.Read {
			s.Unread++
		}
		if m.Flagged {
			s.Flagged++
		}
		if m.Deleted {
			s.Deleted++
		}
	}
	return s
}

// Lookup finds a live message by path or by canonical name.
func (mb *Mailbox) Lookup(id string) (*Message, error) {
	key := mb.canonical(id)
	for _, m := range mb.msgs {
		if m.Purge {
			continue
		}
		if m.Path == id || mb.canonical(m.Path) == key {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
}

// SetFlag changes one flag of msg and marks it and the mailbox changed. It
// reports whether the flag actually changed. Setting read clears old.
func (mb *Mailbox) SetFlag(msg *Message, flag Flag, on bool) bool {
	var cur *bool
	switch flag {
	case FlagRead:
		cur = &msg.Read
	case FlagOld:
		cur = &msg.Old
	case FlagFlagged:
		cur = &msg.Flagged
	case FlagReplied:
		cur = &msg.Replied
	case FlagDeleted:
		cur = &msg.Deleted
	default:
		return false
	}
	if *cur == on {
		return false
	}
	*cur = on
	if flag == FlagRead && on && msg.Old {
		msg.Old = false
		mb.notify(msg, FlagOld, false)
	}
	msg.Changed = true
	mb.changed = true
	mb.notify(msg, flag, on)
	return true
}

func (mb *Mailbox) notify(msg *Message, flag Flag, on bool) {
	if mb.opts.OnFlagChange != nil {
		mb.opts.OnFlagChange(msg, flag, on)
	}
}

// Close drops the in-memory state. Pending changes are not written.
func (mb *Mailbox) Close() error {
	mb.msgs = nil
	mb.state = SyncState{}
	return nil
}

// canonical returns the join key of a message path.
func (mb *Mailbox) canonical(p string) string {
	if mb.flavor == Maildir {
		return codec.CanonicalName(p, mb.opts.Delimiter)
	}
	return p
}

func (mb *Mailbox) codecFlags(m *Message) codec.Flags {
	return codec.Flags{
		Flagged: m.Flagged,
		Replied: m.Replied,
		Seen:    m.Read,
		Trashed: m.Deleted,
		Extra:   m.MaildirFlags,
	}
}

func (mb *Mailbox) reindex() {
	for i, m := range mb.msgs {
		m.Index = i
	}
}
