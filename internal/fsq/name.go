package fsq

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	hostOnce   sync.Once
	hostname   string
	tmpCounter atomic.Uint64
)

// Hostname returns the system hostname made safe for use inside a message
// file name that uses delim as its info delimiter.
func Hostname(delim byte) string {
	hostOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "localhost"
		}
		hostname = h
	})
	return SanitizeHostname(hostname, delim)
}

// SanitizeHostname escapes '/', ':' and delim as backslash octal ("\057",
// "\072") so the host part can never be mistaken for a path separator or the
// start of the info field. NUL bytes are dropped.
func SanitizeHostname(h string, delim byte) string {
	var b strings.Builder
	for i := 0; i < len(h); i++ {
		switch c := h[i]; {
		case c == 0:
		case c == '/' || c == ':' || c == delim:
			fmt.Fprintf(&b, "\\%03o", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Rand64 returns a random 64-bit value, falling back to the clock if the
// system random source fails.
func Rand64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano()) ^ tmpCounter.Add(1)<<32
	}
	return binary.LittleEndian.Uint64(b[:])
}

// NextCounter returns a process-wide counter used to keep staging names unique
// within the same second.
func NextCounter() uint64 {
	return tmpCounter.Add(1)
}
