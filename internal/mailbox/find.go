package mailbox

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/avivsinai/mailsync/internal/codec"
	"github.com/avivsinai/mailsync/internal/fsq"
)

// probeStats remembers in which Maildir subdirectory moved messages were
// found, so FindMessage looks there first next time.
type probeStats struct {
	newHits uint32
	curHits uint32
}

func (p *probeStats) order() []string {
	if p.newHits > p.curHits {
		return []string{fsq.BoxNew, fsq.BoxCur}
	}
	return []string{fsq.BoxCur, fsq.BoxNew}
}

func (p *probeStats) hit(subdir string) {
	switch subdir {
	case fsq.BoxNew:
		if p.newHits < math.MaxUint32 {
			p.newHits++
		}
	case fsq.BoxCur:
		if p.curHits < math.MaxUint32 {
			p.curHits++
		}
	}
}

// FindMessage looks for a Maildir file with the given canonical name in new/
// and cur/ and returns its mailbox-relative path. For MH the name is the
// message number.
func (mb *Mailbox) FindMessage(canonical string) (string, error) {
	if err := fsq.ValidateMessageName(canonical); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if mb.flavor == MH {
		if _, err := os.Stat(filepath.Join(mb.root, canonical)); err != nil {
			return "", fmt.Errorf("%s: %w", canonical, ErrNotFound)
		}
		return canonical, nil
	}
	for _, sub := range mb.probe.order() {
		dirents, err := os.ReadDir(filepath.Join(mb.root, sub))
		if err != nil {
			continue
		}
		for _, de := range dirents {
			name := de.Name()
			if name == "" || name[0] == '.' {
				continue
			}
			if codec.StripFlags(name, mb.opts.Delimiter) == canonical {
				mb.probe.hit(sub)
				return sub + "/" + name, nil
			}
		}
	}
	return "", fmt.Errorf("%s: %w", canonical, ErrNotFound)
}

// OpenMessage opens the file of msg. If another agent renamed a Maildir
// message since the last scan, the file is looked up by canonical name and
// msg.Path updated.
func (mb *Mailbox) OpenMessage(msg *Message) (*os.File, error) {
	f, err := os.Open(filepath.Join(mb.root, msg.Path))
	if err == nil || !os.IsNotExist(err) || mb.flavor != Maildir {
		return f, err
	}
	p, ferr := mb.FindMessage(codec.CanonicalName(msg.Path, mb.opts.Delimiter))
	if ferr != nil {
		return nil, ferr
	}
	msg.Path = p
	return os.Open(filepath.Join(mb.root, p))
}
