package session

import "errors"

// ErrNotFound indicates the requested session id has no backing file.
var ErrNotFound = errors.New("session: not found")

// ErrInvalidID indicates a session id is unsafe to use as a filename.
var ErrInvalidID = errors.New("session: invalid id")

// StorageError wraps a lower-level filesystem/JSON failure with the
// session id and operation that triggered it, so callers can log with
// context while still matching the underlying cause via errors.Is/As.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	return "session: " + e.Op + " " + e.ID + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
