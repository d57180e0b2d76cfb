package mailbox

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/avivsinai/mailsync/internal/codec"
	"github.com/avivsinai/mailsync/internal/fsq"
)

// applySequences sets read, flagged and replied on freshly scanned MH
// entries from .mh_sequences.
func (mb *Mailbox) applySequences(entries []*ScanEntry) error {
	seqs, err := codec.ReadSequences(fsq.SequencesPath(mb.root), mb.opts.SeqNames)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScan, err)
	}
	for _, e := range entries {
		if e.Message == nil {
			continue
		}
		n, ok := mhNumber(e.Message.Path)
		if !ok {
			continue
		}
		f := seqs.Get(n)
		e.Message.Read = f&codec.SeqUnseen == 0
		e.Message.Flagged = f&codec.SeqFlagged != 0
		e.Message.Replied = f&codec.SeqReplied != 0
	}
	return nil
}

func seqFlagsOf(m *Message) codec.SeqFlags {
	var f codec.SeqFlags
	if m == nil || !m.Read {
		f |= codec.SeqUnseen
	}
	if m != nil && m.Flagged {
		f |= codec.SeqFlagged
	}
	if m != nil && m.Replied {
		f |= codec.SeqReplied
	}
	return f
}

// highestMH returns the largest message number in the folder, counting
// numbers already moved aside as ",N".
func (mb *Mailbox) highestMH() (int, error) {
	dirents, err := os.ReadDir(mb.root)
	if err != nil {
		return 0, err
	}
	hi := 0
	for _, de := range dirents {
		if n, ok := mhNumber(strings.TrimPrefix(de.Name(), ",")); ok && n > hi {
			hi = n
		}
	}
	return hi, nil
}

// writeSequences rewrites .mh_sequences from the live, undeleted messages.
// A failure leaves the old file in place and is only logged.
func (mb *Mailbox) writeSequences() {
	seqs := codec.NewSequences()
	for _, m := range mb.msgs {
		if m.Deleted || m.Purge {
			continue
		}
		n, ok := mhNumber(m.Path)
		if !ok {
			continue
		}
		seqs.Set(n, seqFlagsOf(m))
	}
	if err := codec.WriteSequences(mb.root, seqs, mb.opts.SeqNames, mb.filePerm()); err != nil {
		mb.log.Warn("writing mh sequences failed", slog.Any("err", err))
	}
}
