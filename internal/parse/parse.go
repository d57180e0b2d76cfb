// Package parse reads the header block of a stored message into the envelope
// fields the mailbox engine keeps in memory and in the header cache.
package parse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// ErrNoHeader is returned for input that carries no header fields at all,
// such as an empty file.
var ErrNoHeader = errors.New("message has no header")

// Envelope is the subset of a message header the mailbox engine stores.
type Envelope struct {
	From      string    `json:"from,omitempty"`
	To        []string  `json:"to,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Date      time.Time `json:"date,omitempty"`
	Received  time.Time `json:"received,omitempty"`

	// Flags found in Status: and X-Status: headers written by mbox-era agents.
	Read    bool `json:"read,omitempty"`
	Old     bool `json:"old,omitempty"`
	Flagged bool `json:"flagged,omitempty"`
	Replied bool `json:"replied,omitempty"`
	Deleted bool `json:"deleted,omitempty"`

	// HeaderSize is the byte length of the header block including the blank
	// separator line.
	HeaderSize int64 `json:"header_size"`
}

// Parser parses message headers. The zero value is ready to use.
type Parser struct {
	// MaxHeaderBytes bounds the header block; zero means no limit.
	MaxHeaderBytes int64
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Parse reads the header block from r. Only the header is consumed; the
// caller computes the body length from HeaderSize.
func (p Parser) Parse(r io.Reader) (*Envelope, error) {
	if p.MaxHeaderBytes > 0 {
		r = io.LimitReader(r, p.MaxHeaderBytes)
	}
	cr := &countingReader{r: r}
	br := bufio.NewReader(cr)
	raw, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if raw.Len() == 0 {
		return nil, ErrNoHeader
	}

	env := &Envelope{HeaderSize: cr.n - int64(br.Buffered())}
	h := mail.Header{Header: message.Header{Header: raw}}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		env.From = from[0].String()
	} else {
		env.From = strings.TrimSpace(h.Get("From"))
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			env.To = append(env.To, a.Address)
		}
	}
	if s, err := h.Subject(); err == nil {
		env.Subject = s
	} else {
		env.Subject = h.Get("Subject")
	}
	if id, err := h.MessageID(); err == nil {
		env.MessageID = id
	}
	if d, err := h.Date(); err == nil {
		env.Date = d
	}
	env.Received = receivedDate(h.Get("Received"))

	applyStatus(env, h.Get("Status"), h.Get("X-Status"))
	return env, nil
}

// receivedDate returns the timestamp after the last ';' of a Received field.
func receivedDate(v string) time.Time {
	i := strings.LastIndexByte(v, ';')
	if i < 0 {
		return time.Time{}
	}
	t, err := netmail.ParseDate(strings.TrimSpace(v[i+1:]))
	if err != nil {
		return time.Time{}
	}
	return t
}

func applyStatus(env *Envelope, status, xstatus string) {
	for _, c := range status {
		switch c {
		case 'R':
			env.Read = true
		case 'O':
			env.Old = true
		}
	}
	for _, c := range xstatus {
		switch c {
		case 'A':
			env.Replied = true
		case 'F':
			env.Flagged = true
		case 'D':
			env.Deleted = true
		}
	}
}
