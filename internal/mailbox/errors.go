package mailbox

import "errors"

var (
	// ErrAborted is returned when a scan was interrupted through its context.
	// It is neither success nor corruption; the caller should retry later.
	ErrAborted = errors.New("mailbox scan aborted")

	// ErrScan wraps directory-level I/O failures that abort a whole scan.
	ErrScan = errors.New("mailbox scan failed")

	ErrUnknownFlavor = errors.New("not a maildir or mh mailbox")
	ErrNotFound      = errors.New("message not found")
)
