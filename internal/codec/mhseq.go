package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/avivsinai/mailsync/internal/fsq"
)

// SeqFlags is the set of tracked MH sequences a message belongs to.
type SeqFlags uint8

const (
	SeqUnseen SeqFlags = 1 << iota
	SeqFlagged
	SeqReplied
)

// SeqNames holds the sequence tags written to and read from .mh_sequences.
type SeqNames struct {
	Unseen  string
	Flagged string
	Replied string
}

// DefaultSeqNames returns the customary nmh sequence names.
func DefaultSeqNames() SeqNames {
	return SeqNames{Unseen: "unseen", Flagged: "flagged", Replied: "replied"}
}

func (n SeqNames) lookup(tag string) SeqFlags {
	switch tag {
	case n.Unseen:
		return SeqUnseen
	case n.Flagged:
		return SeqFlagged
	case n.Replied:
		return SeqReplied
	}
	return 0
}

// maxRangeSpan bounds a single "a-b" token; folders never get near it.
const maxRangeSpan = 1 << 24

// ErrBadSequence reports an unparseable range in a tracked sequence.
var ErrBadSequence = errors.New("malformed mh sequence")

// Sequences maps MH message numbers to the tracked sequences they belong to.
// Lines for sequences it does not track are kept verbatim.
type Sequences struct {
	flags map[int]SeqFlags
	other []string
}

// NewSequences returns an empty set.
func NewSequences() *Sequences {
	return &Sequences{flags: make(map[int]SeqFlags)}
}

// Get returns the sequences message n belongs to.
func (s *Sequences) Get(n int) SeqFlags {
	return s.flags[n]
}

// Set adds message n to the sequences in f.
func (s *Sequences) Set(n int, f SeqFlags) {
	if f == 0 {
		return
	}
	s.flags[n] |= f
}

// Max returns the highest message number present, or 0.
func (s *Sequences) Max() int {
	hi := 0
	for n := range s.flags {
		if n > hi {
			hi = n
		}
	}
	return hi
}

// Numbers returns the sorted message numbers belonging to sequence f.
func (s *Sequences) Numbers(f SeqFlags) []int {
	var out []int
	for n, v := range s.flags {
		if v&f != 0 {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// Other returns the preserved lines of untracked sequences.
func (s *Sequences) Other() []string {
	return s.other
}

// ReadSequences reads an .mh_sequences file. A missing file is not an error.
func ReadSequences(path string, names SeqNames) (*Sequences, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewSequences(), nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ParseSequences(f, names)
}

// ParseSequences parses "tag: n n-m ..." lines.
func ParseSequences(r io.Reader, names SeqNames) (*Sequences, error) {
	s := NewSequences()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tag, rest, ok := strings.Cut(line, ":")
		if !ok {
			if strings.TrimSpace(line) != "" {
				s.other = append(s.other, line)
			}
			continue
		}
		f := names.lookup(strings.TrimSpace(tag))
		if f == 0 {
			s.other = append(s.other, line)
			continue
		}
		for _, tok := range strings.Fields(rest) {
			first, last, err := parseRange(tok)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrBadSequence, tok, err)
			}
			for n := first; n <= last; n++ {
				s.Set(n, f)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseRange(tok string) (int, int, error) {
	a, b, isRange := strings.Cut(tok, "-")
	first, err := strconv.Atoi(a)
	if err != nil || first < 0 {
		return 0, 0, fmt.Errorf("bad number %q", a)
	}
	if !isRange {
		return first, first, nil
	}
	last, err := strconv.Atoi(b)
	if err != nil || last < first {
		return 0, 0, fmt.Errorf("bad range end %q", b)
	}
	if last-first > maxRangeSpan {
		return 0, 0, fmt.Errorf("range too large %q", tok)
	}
	return first, last, nil
}

// Ranges compresses sorted numbers into inclusive runs.
func Ranges(nums []int) [][2]int {
	var out [][2]int
	for _, n := range nums {
		if len(out) > 0 && out[len(out)-1][1]+1 == n {
			out[len(out)-1][1] = n
			continue
		}
		out = append(out, [2]int{n, n})
	}
	return out
}

func writeSequence(buf *bytes.Buffer, tag string, nums []int) {
	if len(nums) == 0 {
		return
	}
	buf.WriteString(tag)
	buf.WriteByte(':')
	for _, r := range Ranges(nums) {
		if r[0] == r[1] {
			fmt.Fprintf(buf, " %d", r[0])
		} else {
			fmt.Fprintf(buf, " %d-%d", r[0], r[1])
		}
	}
	buf.WriteByte('\n')
}

// Format renders the preserved lines followed by the tracked sequences.
// Empty sequences produce no line.
func (s *Sequences) Format(names SeqNames) []byte {
	var buf bytes.Buffer
	for _, line := range s.other {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	writeSequence(&buf, names.Unseen, s.Numbers(SeqUnseen))
	writeSequence(&buf, names.Flagged, s.Numbers(SeqFlagged))
	writeSequence(&buf, names.Replied, s.Numbers(SeqReplied))
	return buf.Bytes()
}

// WriteSequences replaces the tracked sequences in dir/.mh_sequences with those
// in s, keeping the lines of untracked sequences currently on disk. The file is
// replaced atomically; on failure the old file stays as it was.
func WriteSequences(dir string, s *Sequences, names SeqNames, perm os.FileMode) error {
	current, err := ReadSequences(filepath.Join(dir, fsq.SequencesFile), names)
	if err != nil && !errors.Is(err, ErrBadSequence) {
		return err
	}
	out := &Sequences{flags: s.flags}
	if current != nil {
		out.other = current.other
	}
	_, err = fsq.WriteFileAtomic(dir, fsq.SequencesFile, out.Format(names), perm)
	return err
}

// AddOne appends message n to the sequences in f, editing the existing lines
// in place and keeping everything else as it is.
func AddOne(dir string, n int, f SeqFlags, names SeqNames, perm os.FileMode) error {
	if f == 0 {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dir, fsq.SequencesFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	var buf bytes.Buffer
	var done SeqFlags
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		tag, _, ok := strings.Cut(line, ":")
		if ok {
			if g := names.lookup(strings.TrimSpace(tag)); g != 0 && f&g != 0 && done&g == 0 {
				fmt.Fprintf(&buf, "%s %d\n", line, n)
				done |= g
				continue
			}
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	for _, seq := range []struct {
		flag SeqFlags
		tag  string
	}{
		{SeqUnseen, names.Unseen},
		{SeqFlagged, names.Flagged},
		{SeqReplied, names.Replied},
	} {
		if f&seq.flag != 0 && done&seq.flag == 0 {
			fmt.Fprintf(&buf, "%s: %d\n", seq.tag, n)
		}
	}
	_, err = fsq.WriteFileAtomic(dir, fsq.SequencesFile, buf.Bytes(), perm)
	return err
}
