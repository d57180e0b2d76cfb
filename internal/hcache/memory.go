package hcache

import (
	"sync"
	"time"

	"github.com/avivsinai/mailsync/internal/mailbox"
)

// Memory is a process-local header cache. Fetch returns copies, so callers
// may modify what they get.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	msg      mailbox.Message
	validity time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry)}
}

func (m *Memory) Fetch(key string) (*mailbox.Message, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, time.Time{}, false
	}
	msg := e.msg
	return &msg, e.validity, true
}

func (m *Memory) Store(key string, msg *mailbox.Message, validity time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{msg: *msg, validity: validity}
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of cached messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
