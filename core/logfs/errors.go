package logfs

import "errors"

// --- Error Definitions ---
//
// Exhaustion errors (ErrNoFile, ErrNoRecord, ErrEmpty) are ordinary end of
// iteration signals. ErrFull is a capacity signal. ErrWriteFail means a
// write-verify mismatch; the entry has already been quarantined.

var (
	ErrNoFile          = errors.New("logfs: no more files")
	ErrNoRecord        = errors.New("logfs: no more records")
	ErrEmpty           = errors.New("logfs: file system holds no files")
	ErrFull            = errors.New("logfs: no space left")
	ErrWriteFail       = errors.New("logfs: write verification failed")
	ErrFileInvalid     = errors.New("logfs: file handle is invalid or stale")
	ErrInvalidConfig   = errors.New("logfs: invalid configuration")
	ErrInvalidArgument = errors.New("logfs: invalid argument")
)

// errNotFree is internal: a page that should be erased holds data.
var errNotFree = errors.New("logfs: page is not free")

// IsExhausted reports whether err only signals the end of an iteration.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrNoFile) || errors.Is(err, ErrNoRecord) || errors.Is(err, ErrEmpty)
}
