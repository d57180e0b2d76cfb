package cli

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/avivsinai/mailsync/internal/codec"
	"github.com/avivsinai/mailsync/internal/config"
	"github.com/avivsinai/mailsync/internal/hcache"
	"github.com/avivsinai/mailsync/internal/mailbox"
)

type session struct {
	mb    *mailbox.Mailbox
	cache *hcache.Bolt
	cfg   config.Config
	log   *slog.Logger
}

func mailboxOptions(cfg config.Config, logger *slog.Logger) mailbox.Options {
	return mailbox.Options{
		Delimiter:    cfg.Delimiter[0],
		FlagSafe:     cfg.FlagSafe,
		MarkOld:      cfg.MarkOld,
		CheckNew:     cfg.CheckNew,
		MaildirTrash: cfg.MaildirTrash,
		MhPurge:      cfg.MhPurge,
		NaturalSort:  cfg.NaturalSort,
		VerifyCache:  cfg.VerifyCache,
		SeqNames: codec.SeqNames{
			Unseen:  cfg.SeqUnseen,
			Flagged: cfg.SeqFlagged,
			Replied: cfg.SeqReplied,
		},
		Logger: logger,
	}
}

// openMailbox loads the configuration, opens the header cache if one is
// configured and scans the mailbox.
func openMailbox(ctx context.Context, common *commonFlags) (*session, error) {
	root, err := common.requireMailbox()
	if err != nil {
		return nil, err
	}
	if !dirExists(root) {
		return nil, NotFoundError("mailbox not found: %s", root)
	}
	cfg, err := common.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Level())
	opts := mailboxOptions(cfg, logger)

	s := &session{cfg: cfg, log: logger}
	if cfg.HeaderCache != "" {
		c, err := hcache.Open(cfg.HeaderCache, root, logger)
		if err != nil {
			return nil, err
		}
		s.cache = c
		opts.Cache = c
	}

	start := time.Now()
	mb, err := mailbox.Open(ctx, root, opts)
	if err != nil {
		_ = s.Close()
		return nil, mailboxError(err)
	}
	s.mb = mb
	logger.Debug("mailbox opened",
		slog.String("path", root),
		slog.String("flavor", mb.Flavor().String()),
		slog.Int("messages", len(mb.Messages())),
		slog.Duration("took", time.Since(start)))
	return s, nil
}

func (s *session) Close() error {
	var errs []error
	if s.mb != nil {
		errs = append(errs, s.mb.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	return errors.Join(errs...)
}

// sync writes pending changes on top of whatever another agent changed and
// returns the status Check reported.
func (s *session) sync(ctx context.Context) (mailbox.Status, error) {
	st, err := s.mb.Sync(ctx)
	if err != nil {
		return st, mailboxError(err)
	}
	if st != mailbox.Unchanged {
		s.log.Debug("mailbox changed before sync", slog.String("status", st.String()))
	}
	return st, nil
}

// lookup resolves a user-supplied message id: a relative path, a Maildir
// file name with or without flags, or an MH message number.
func (s *session) lookup(id string) (*mailbox.Message, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, UsageError("--id is required")
	}
	msg, err := s.mb.Lookup(id)
	if err != nil {
		return nil, mailboxError(err)
	}
	return msg, nil
}

// mailboxError attaches exit codes to mailbox sentinel errors.
func mailboxError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mailbox.ErrNotFound):
		return WithExitCode(ExitNotFound, err)
	case errors.Is(err, mailbox.ErrAborted), errors.Is(err, context.Canceled):
		return WithExitCode(ExitAborted, err)
	}
	return err
}

type messageInfo struct {
	ID       string        `json:"id"`
	Path     string        `json:"path"`
	Flags    mailbox.Flags `json:"flags"`
	Status   string        `json:"status"`
	From     string        `json:"from,omitempty"`
	Subject  string        `json:"subject,omitempty"`
	Date     string        `json:"date,omitempty"`
	Received string        `json:"received,omitempty"`
	Length   int64         `json:"length"`
}

func describe(mb *mailbox.Mailbox, m *mailbox.Message) messageInfo {
	info := messageInfo{
		ID:      messageID(mb, m),
		Path:    m.Path,
		Flags:   m.Flags,
		Status:  statusLetters(m),
		From:    m.From,
		Subject: m.Subject,
		Length:  m.Length,
	}
	if !m.Date.IsZero() {
		info.Date = m.Date.UTC().Format(time.RFC3339)
	}
	if !m.Received.IsZero() {
		info.Received = m.Received.UTC().Format(time.RFC3339)
	}
	return info
}

// messageID is the flag-independent name users pass to --id.
func messageID(mb *mailbox.Mailbox, m *mailbox.Message) string {
	if mb.Flavor() == mailbox.MH {
		return m.Path
	}
	return codec.CanonicalName(m.Path, mb.Delimiter())
}

// statusLetters renders flags the way mail clients show them in an index:
// N new, O old unread, r replied, ! flagged, D deleted.
func statusLetters(m *mailbox.Message) string {
	var b strings.Builder
	switch {
	case m.Deleted:
		b.WriteByte('D')
	case !m.Read && m.Old:
		b.WriteByte('O')
	case !m.Read:
		b.WriteByte('N')
	default:
		b.WriteByte(' ')
	}
	if m.Replied {
		b.WriteByte('r')
	} else {
		b.WriteByte(' ')
	}
	if m.Flagged {
		b.WriteByte('!')
	} else {
		b.WriteByte(' ')
	}
	return b.String()
}
