// Package common defines shared constants and sentinel errors used across
// client and server layers of shopkeeper. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Lookup errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Remote gateway errors. Typed gateway errors unwrap to one of these.
	ErrNetwork = errors.New("network error")
	ErrServer  = errors.New("server error")
	ErrFormat  = errors.New("unexpected response format")

	// ErrStorage wraps any failure of the local persistence layer.
	ErrStorage = errors.New("local storage error")

	// ErrOffline is returned by remote-only paths while connectivity is down.
	ErrOffline = errors.New("offline")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	ErrInternal = errors.New("internal error")
)

// IsTransient reports whether err should send the caller down the
// offline fallback branch rather than failing the operation.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrOffline)
}

// StorageError reports a failed local persistence operation. It matches both
// ErrStorage and the underlying driver error under errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// Storage wraps err in a StorageError unless it is nil or ErrNotFound.
func Storage(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
