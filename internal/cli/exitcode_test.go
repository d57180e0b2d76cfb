package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/avivsinai/mailsync/internal/mailbox"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, ExitSuccess},
		{"plain error", errors.New("oops"), ExitError},
		{"usage error", UsageError("bad flag"), ExitUsage},
		{"not found error", NotFoundError("msg not found"), ExitNotFound},
		{"timeout error", TimeoutError("timed out"), ExitTimeout},
		{"aborted error", AbortedError("interrupted"), ExitAborted},
		{"wrapped exit code", WithExitCode(ExitNotFound, errors.New("custom")), ExitNotFound},
		{"exit code behind fmt wrap", fmt.Errorf("open: %w", UsageError("x")), ExitUsage},
		{"mailbox not found", mailboxError(fmt.Errorf("x: %w", mailbox.ErrNotFound)), ExitNotFound},
		{"mailbox aborted", mailboxError(fmt.Errorf("%w: canceled", mailbox.ErrAborted)), ExitAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetExitCode(tt.err)
			if got != tt.expected {
				t.Errorf("GetExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestExitCodeErrorUnwrap(t *testing.T) {
	underlying := errors.New("underlying")
	wrapped := WithExitCode(ExitNotFound, underlying)

	if !errors.Is(wrapped, underlying) {
		t.Error("wrapped error should be unwrappable to underlying")
	}
	if WithExitCode(ExitError, nil) != nil {
		t.Error("WithExitCode(nil) should be nil")
	}
}

func TestExitCodeErrorMessage(t *testing.T) {
	err := UsageError("invalid flag: %s", "--foo")
	if err.Error() != "invalid flag: --foo" {
		t.Errorf("Error() = %q, want %q", err.Error(), "invalid flag: --foo")
	}

	empty := &ExitCodeError{Code: ExitError, Err: nil}
	if empty.Error() != "exit code 1" {
		t.Errorf("Error() = %q, want %q", empty.Error(), "exit code 1")
	}
}
