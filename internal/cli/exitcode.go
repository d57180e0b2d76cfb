package cli

import (
	"errors"
	"fmt"
)

// Exit codes for CLI commands.
const (
	ExitSuccess = 0

	// ExitError indicates a general error occurred.
	ExitError = 1

	// ExitUsage indicates invalid arguments or flags were provided.
	ExitUsage = 2

	// ExitNotFound indicates a mailbox or message does not exist.
	ExitNotFound = 3

	// ExitTimeout indicates watch gave up waiting.
	ExitTimeout = 4

	// ExitAborted indicates the operation was interrupted (SIGINT).
	ExitAborted = 130
)

// ExitCodeError wraps an error with a specific exit code.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// GetExitCode extracts the exit code from an error, looking through wrapping.
// Returns ExitSuccess for nil and ExitError for errors without a code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitError
}

// WithExitCode wraps an error with a specific exit code.
func WithExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitCodeError{Code: code, Err: err}
}

func UsageError(format string, args ...any) error {
	return &ExitCodeError{Code: ExitUsage, Err: fmt.Errorf(format, args...)}
}

func NotFoundError(format string, args ...any) error {
	return &ExitCodeError{Code: ExitNotFound, Err: fmt.Errorf(format, args...)}
}

func TimeoutError(format string, args ...any) error {
	return &ExitCodeError{Code: ExitTimeout, Err: fmt.Errorf(format, args...)}
}

func AbortedError(format string, args ...any) error {
	return &ExitCodeError{Code: ExitAborted, Err: fmt.Errorf(format, args...)}
}
