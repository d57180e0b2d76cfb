// Package codec translates message flags to and from their on-disk encodings:
// the info suffix of Maildir file names and the MH .mh_sequences file.
package codec

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
)

// DefaultDelimiter separates the unique part of a Maildir file name from its
// info field.
const DefaultDelimiter = ':'

// ErrBadDelimiter reports a delimiter that can also occur inside a unique name.
var ErrBadDelimiter = errors.New("invalid maildir delimiter")

// ValidDelimiter checks that d never occurs in the unique part of a name this
// package or fsq generates: digits, letters, '.', '-', '_', escaped host names
// ('\'), path separators and the ',' of the "2," marker are refused, as are
// control and non-ASCII bytes.
func ValidDelimiter(d byte) error {
	switch {
	case d <= ' ' || d >= 0x7f,
		d >= '0' && d <= '9',
		d >= 'a' && d <= 'z',
		d >= 'A' && d <= 'Z',
		strings.IndexByte("/.,-_\\", d) >= 0:
		return fmt.Errorf("%w: %q", ErrBadDelimiter, d)
	}
	return nil
}

// Flags is the part of a message's state that has a Maildir info letter.
type Flags struct {
	Flagged bool // F
	Replied bool // R
	Seen    bool // S
	Trashed bool // T

	// Extra holds letters this codec does not interpret, sorted, so they
	// survive a rename unchanged.
	Extra string
}

// EncodeMaildirFlags returns the info suffix ("<delim>2,<letters>") for f.
// The suffix is empty when no flag is set, old is false and there are no extra
// letters. Messages destined for cur/ always carry a suffix: setting old
// forces it even without letters.
func EncodeMaildirFlags(f Flags, old bool, delim byte) string {
	if !f.Flagged && !f.Replied && !f.Seen && !f.Trashed && !old && f.Extra == "" {
		return ""
	}
	letters := make([]byte, 0, 4+len(f.Extra))
	if f.Flagged {
		letters = append(letters, 'F')
	}
	if f.Replied {
		letters = append(letters, 'R')
	}
	if f.Seen {
		letters = append(letters, 'S')
	}
	if f.Trashed {
		letters = append(letters, 'T')
	}
	letters = append(letters, f.Extra...)
	// Two agents must agree on the name of the same flag set.
	slices.Sort(letters)
	return string(delim) + "2," + string(letters)
}

// DecodeMaildirFlags parses the info suffix of a Maildir file name. Names
// without a "2," info field decode to the zero Flags. With safe set, a T on a
// flagged message is ignored so flagged mail cannot be trashed by clients that
// do not know about flagging.
func DecodeMaildirFlags(name string, delim byte, safe bool) Flags {
	info, ok := infoField(path.Base(name), delim)
	if !ok {
		return Flags{}
	}
	var f Flags
	var trash bool
	var extra []byte
	for i := 0; i < len(info); i++ {
		switch c := info[i]; c {
		case 'F':
			f.Flagged = true
		case 'R':
			f.Replied = true
		case 'S':
			f.Seen = true
		case 'T':
			trash = true
		default:
			extra = append(extra, c)
		}
	}
	if trash && !(safe && f.Flagged) {
		f.Trashed = true
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		f.Extra = string(extra)
	}
	return f
}

func infoField(name string, delim byte) (string, bool) {
	i := strings.LastIndexByte(name, delim)
	if i < 0 {
		return "", false
	}
	rest := name[i+1:]
	if !strings.HasPrefix(rest, "2,") {
		return "", false
	}
	return rest[2:], true
}

// CanonicalName strips the directory and the info field from a Maildir path.
// The result identifies a message regardless of its subdirectory or flags.
func CanonicalName(p string, delim byte) string {
	return StripFlags(path.Base(p), delim)
}

// StripFlags removes everything from the last delimiter on.
func StripFlags(name string, delim byte) string {
	if i := strings.LastIndexByte(name, delim); i >= 0 {
		return name[:i]
	}
	return name
}
