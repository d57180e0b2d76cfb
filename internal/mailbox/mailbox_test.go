package mailbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

// fakeCache is an in-memory Cache that counts hits.
type fakeCache struct {
	entries map[string]fakeEntry
	hits    int
}

type fakeEntry struct {
	msg      Message
	validity time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]fakeEntry)}
}

func (c *fakeCache) Fetch(key string) (*Message, time.Time, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, time.Time{}, false
	}
	c.hits++
	m := e.msg
	return &m, e.validity, true
}

func (c *fakeCache) Store(key string, msg *Message, validity time.Time) error {
	c.entries[key] = fakeEntry{msg: *msg, validity: validity}
	return nil
}

func (c *fakeCache) Delete(key string) error {
	delete(c.entries, key)
	return nil
}

func testMessage(subject string) []byte {
	return []byte("From: a@example.org\nSubject: " + subject + "\n\nbody\n")
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// bumpMtime moves the mtime of dir forward so a check sees it changed
// regardless of filesystem timestamp granularity.
func bumpMtime(t *testing.T, dir string) {
	t.Helper()
	fi, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat %s: %v", dir, err)
	}
	next := fi.ModTime().Add(time.Second)
	if err := os.Chtimes(dir, next, next); err != nil {
		t.Fatalf("chtimes %s: %v", dir, err)
	}
}

func newMaildir(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "Mail")
	if err := Create(root, Maildir, 0o700); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return root
}

func newMH(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "inbox")
	if err := Create(root, MH, 0o700); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return root
}

func openTest(t *testing.T, root string, opts Options) *Mailbox {
	t.Helper()
	mb, err := Open(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return mb
}

func findByPath(t *testing.T, mb *Mailbox, p string) *Message {
	t.Helper()
	for _, m := range mb.Messages() {
		if m.Path == p {
			return m
		}
	}
	t.Fatalf("no message with path %q", p)
	return nil
}

func TestDetectFlavor(t *testing.T) {
	if f, err := DetectFlavor(newMaildir(t)); err != nil || f != Maildir {
		t.Fatalf("maildir: %v %v", f, err)
	}
	if f, err := DetectFlavor(newMH(t)); err != nil || f != MH {
		t.Fatalf("mh: %v %v", f, err)
	}

	other := t.TempDir()
	writeFile(t, filepath.Join(other, ".mew_cache"), nil)
	if f, err := DetectFlavor(other); err != nil || f != MH {
		t.Fatalf("mh marker: %v %v", f, err)
	}

	if _, err := DetectFlavor(t.TempDir()); !errors.Is(err, ErrUnknownFlavor) {
		t.Fatalf("expected ErrUnknownFlavor, got %v", err)
	}
}

func TestOpenMaildir(t *testing.T) {
	root := newMaildir(t)
	writeFile(t, filepath.Join(root, "new", "1700000001.R1.host"), testMessage("first"))
	writeFile(t, filepath.Join(root, "cur", "1700000002.R2.host:2,SFx"), testMessage("second"))
	writeFile(t, filepath.Join(root, "cur", "1700000003.R3.host:2,"), nil)
	writeFile(t, filepath.Join(root, "cur", ".hidden"), testMessage("hidden"))

	mb := openTest(t, root, DefaultOptions())
	if got := len(mb.Messages()); got != 2 {
		t.Fatalf("messages = %d, want 2", got)
	}
	if mb.Skipped() != 1 {
		t.Fatalf("Skipped = %d, want 1", mb.Skipped())
	}

	first := findByPath(t, mb, "new/1700000001.R1.host")
	if first.Read || first.Old || first.Subject != "first" {
		t.Fatalf("first = %+v", first)
	}
	second := findByPath(t, mb, "cur/1700000002.R2.host:2,SFx")
	if !second.Read || !second.Flagged || !second.Old || second.MaildirFlags != "x" {
		t.Fatalf("second = %+v", second)
	}
	if second.Length != int64(len("body\n")) {
		t.Fatalf("Length = %d", second.Length)
	}

	st := mb.Stats()
	if st.Total != 2 || st.Unread != 1 || st.Flagged != 1 || st.Deleted != 0 {
		t.Fatalf("Stats = %+v", st)
	}
	for i, m := range mb.Messages() {
		if m.Index != i || !m.Active {
			t.Fatalf("message %d: index %d active %v", i, m.Index, m.Active)
		}
	}
}

func TestOpenMaildirSafeFlag(t *testing.T) {
	root := newMaildir(t)
	writeFile(t, filepath.Join(root, "cur", "1.R1.host:2,FT"), testMessage("keep"))

	opts := DefaultOptions()
	opts.FlagSafe = true
	mb := openTest(t, root, opts)
	m := mb.Messages()[0]
	if !m.Flagged || m.Deleted || m.Trash {
		t.Fatalf("flag safe mode trashed a flagged message: %+v", m)
	}
}

func TestOpenMH(t *testing.T) {
	root := newMH(t)
	for _, name := range []string{"1", "2", "3", ",4", "notes"} {
		writeFile(t, filepath.Join(root, name), testMessage(name))
	}
	writeFile(t, filepath.Join(root, ".mh_sequences"), []byte("cur: 3\nunseen: 2\nflagged: 3\n"))

	mb := openTest(t, root, DefaultOptions())
	msgs := mb.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	for i, want := range []string{"1", "2", "3"} {
		if msgs[i].Path != want {
			t.Fatalf("message %d path = %q, want %q", i, msgs[i].Path, want)
		}
	}
	if !msgs[0].Read || msgs[1].Read || !msgs[2].Read || !msgs[2].Flagged {
		t.Fatalf("sequence flags not applied: %+v %+v %+v", msgs[0], msgs[1], msgs[2])
	}
}

func TestOpenMHCreatesSequences(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "1"), testMessage("one"))

	mb, err := OpenFlavor(context.Background(), root, MH, DefaultOptions())
	if err != nil {
		t.Fatalf("OpenFlavor: %v", err)
	}
	// No unseen sequence: the message is read.
	if len(mb.Messages()) != 1 || !mb.Messages()[0].Read {
		t.Fatalf("unexpected messages: %+v", mb.Messages())
	}
	if _, err := os.Stat(filepath.Join(root, ".mh_sequences")); err != nil {
		t.Fatalf("sequences file not created: %v", err)
	}
}

func TestOpenDropsDuplicateCanonicalNames(t *testing.T) {
	root := newMaildir(t)
	writeFile(t, filepath.Join(root, "new", "1.R1.host"), testMessage("new copy"))
	writeFile(t, filepath.Join(root, "cur", "1.R1.host:2,S"), testMessage("cur copy"))
	writeFile(t, filepath.Join(root, "cur", "2.R2.host:2,S"), testMessage("two"))
	mb := openTest(t, root, DefaultOptions())

	if len(mb.Messages()) != 2 {
		t.Fatalf("messages = %+v", mb.Messages())
	}
	m := mb.Messages()[0]
	if m.Path != "new/1.R1.host" || m.Subject != "new copy" || m.Read {
		t.Fatalf("kept duplicate = %+v", m)
	}
	if mb.Messages()[1].Path != "cur/2.R2.host:2,S" {
		t.Fatalf("second message = %+v", mb.Messages()[1])
	}
}

func TestOpenAborted(t *testing.T) {
	root := newMaildir(t)
	writeFile(t, filepath.Join(root, "new", "1.R1.host"), testMessage("one"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx, root, DefaultOptions())
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if errors.Is(err, ErrScan) {
		t.Fatalf("abort must not look like a scan failure: %v", err)
	}
}

func TestOpenUsesCache(t *testing.T) {
	root := newMaildir(t)
	path := filepath.Join(root, "cur", "1.R1.host:2,S")
	writeFile(t, path, testMessage("cached"))

	cache := newFakeCache()
	opts := DefaultOptions()
	opts.Cache = cache
	openTest(t, root, opts)
	if _, ok := cache.entries["1.R1.host"]; !ok {
		t.Fatalf("expected entry keyed by canonical name, have %v", cache.entries)
	}

	// Flags changed on disk since caching; the cache supplies the header,
	// the file name supplies the flags.
	renamed := filepath.Join(root, "cur", "1.R1.host:2,FS")
	if err := os.Rename(path, renamed); err != nil {
		t.Fatalf("rename: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(renamed, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	mb := openTest(t, root, opts)
	if cache.hits != 1 {
		t.Fatalf("hits = %d, want 1", cache.hits)
	}
	m := mb.Messages()[0]
	if m.Subject != "cached" || !m.Flagged || !m.Read || m.Path != "cur/1.R1.host:2,FS" {
		t.Fatalf("adopted message = %+v", m)
	}
}

func TestOpenRejectsStaleCache(t *testing.T) {
	root := newMaildir(t)
	path := filepath.Join(root, "new", "1.R1.host")
	writeFile(t, path, testMessage("fresh"))

	cache := newFakeCache()
	cache.entries["1.R1.host"] = fakeEntry{msg: Message{Subject: "stale"}, validity: time.Now().Add(-time.Hour)}

	opts := DefaultOptions()
	opts.Cache = cache
	mb := openTest(t, root, opts)
	if got := mb.Messages()[0].Subject; got != "fresh" {
		t.Fatalf("Subject = %q, want reparsed header", got)
	}
	if cache.entries["1.R1.host"].msg.Subject != "fresh" {
		t.Fatalf("cache not refreshed")
	}

	opts.VerifyCache = false
	cache.entries["1.R1.host"] = fakeEntry{msg: Message{Subject: "stale"}, validity: time.Now().Add(-time.Hour)}
	mb = openTest(t, root, opts)
	if got := mb.Messages()[0].Subject; got != "stale" {
		t.Fatalf("Subject = %q, want cached header without verification", got)
	}
}

func TestSetFlag(t *testing.T) {
	root := newMaildir(t)
	writeFile(t, filepath.Join(root, "cur", "1.R1.host:2,"), testMessage("one"))

	var seen []string
	opts := DefaultOptions()
	opts.OnFlagChange = func(_ *Message, f Flag, on bool) {
		if on {
			seen = append(seen, "+"+f.String())
		} else {
			seen = append(seen, "-"+f.String())
		}
	}
	mb := openTest(t, root, opts)
	m := mb.Messages()[0]
	if !m.Old {
		t.Fatalf("expected old message in cur/")
	}
	if mb.SetFlag(m, FlagFlagged, false) {
		t.Fatalf("no-op SetFlag reported a change")
	}
	if mb.Changed() {
		t.Fatalf("mailbox changed by no-op")
	}
	if !mb.SetFlag(m, FlagRead, true) {
		t.Fatalf("SetFlag(read) reported no change")
	}
	if m.Old || !m.Changed || !mb.Changed() {
		t.Fatalf("after read: %+v changed=%v", m, mb.Changed())
	}
	if len(seen) != 2 || seen[0] != "-old" || seen[1] != "+read" {
		t.Fatalf("callbacks = %v", seen)
	}
}

func TestLookup(t *testing.T) {
	root := newMaildir(t)
	writeFile(t, filepath.Join(root, "cur", "1.R1.host:2,S"), testMessage("one"))
	mb := openTest(t, root, DefaultOptions())

	for _, id := range []string{"1.R1.host", "cur/1.R1.host:2,S", "1.R1.host:2,FS"} {
		if _, err := mb.Lookup(id); err != nil {
			t.Fatalf("Lookup(%q): %v", id, err)
		}
	}
	if _, err := mb.Lookup("2.R2.host"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUmaskFromDirectory(t *testing.T) {
	root := newMaildir(t)
	if err := os.Chmod(root, 0o750); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	mb := openTest(t, root, DefaultOptions())
	if got := mb.State().Umask; got != 0o027 {
		t.Fatalf("Umask = %o, want 027", got)
	}
	if got := mb.filePerm(); got != 0o640 {
		t.Fatalf("filePerm = %o, want 640", got)
	}
}

func TestOpenMHNaturalSort(t *testing.T) {
	root := newMH(t)
	for _, n := range []string{"9", "10", "2"} {
		writeFile(t, filepath.Join(root, n), testMessage("msg "+n))
	}
	mb := openTest(t, root, DefaultOptions())
	var got []string
	for i, m := range mb.Messages() {
		if m.Index != i {
			t.Fatalf("message %s has index %d, want %d", m.Path, m.Index, i)
		}
		got = append(got, m.Path)
	}
	if want := []string{"10", "2", "9"}; !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}
