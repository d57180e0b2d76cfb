package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
)

const sampleMessage = "From: Alice <alice@example.org>\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: hello\r\n" +
	"Date: Tue, 14 Nov 2023 22:13:20 +0000\r\n" +
	"\r\n" +
	"body text\r\n"

// isolateEnv keeps tests away from the user's config and environment.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MAILSYNC_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	t.Setenv(envMailbox, "")
	for _, name := range []string{
		"MAILSYNC_HEADER_CACHE", "MAILSYNC_MAILDIR_TRASH", "MAILSYNC_MH_PURGE",
		"MAILSYNC_FLAG_SAFE", "MAILSYNC_LOG_LEVEL", "MAILSYNC_DELIMITER",
	} {
		t.Setenv(name, "")
		_ = os.Unsetenv(name)
	}
}

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func() error) ([]byte, error) {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.Bytes()
	}()

	runErr := fn()
	_ = w.Close()
	os.Stdout = oldStdout
	out := <-done
	_ = r.Close()
	return out, runErr
}

// withStdin runs fn with os.Stdin reading data.
func withStdin(t *testing.T, data string, fn func() error) error {
	t.Helper()
	oldStdin := os.Stdin
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	go func() {
		_, _ = io.WriteString(w, data)
		_ = w.Close()
	}()
	os.Stdin = r
	defer func() {
		os.Stdin = oldStdin
		_ = r.Close()
	}()
	return fn()
}

func runJSON(t *testing.T, v any, fn func() error) {
	t.Helper()
	out, err := captureStdout(t, fn)
	if err != nil {
		t.Fatalf("run: %v (output: %s)", err, out)
	}
	if err := json.Unmarshal(out, v); err != nil {
		t.Fatalf("unmarshal: %v (output: %s)", err, out)
	}
}

func initMailbox(t *testing.T, extra ...string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "Mail")
	args := append([]string{"--mailbox", root}, extra...)
	if _, err := captureStdout(t, func() error { return runInit(args) }); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	return root
}

type deliverResult struct {
	Path string `json:"path"`
	ID   string `json:"id"`
}

func deliver(t *testing.T, root string, extra ...string) deliverResult {
	t.Helper()
	var res deliverResult
	args := append([]string{"--mailbox", root, "--json"}, extra...)
	runJSON(t, &res, func() error {
		return withStdin(t, sampleMessage, func() error { return runDeliver(args) })
	})
	return res
}

type listResult struct {
	Flavor   string        `json:"flavor"`
	Messages []messageInfo `json:"messages"`
	Stats    struct {
		Total   int `json:"total"`
		Unread  int `json:"unread"`
		Flagged int `json:"flagged"`
		Deleted int `json:"deleted"`
	} `json:"stats"`
}

func list(t *testing.T, root string, extra ...string) listResult {
	t.Helper()
	var res listResult
	args := append([]string{"--mailbox", root, "--json"}, extra...)
	runJSON(t, &res, func() error { return runList(args) })
	return res
}
