package client

import (
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/shopkeeper/internal/common"
)

// NetworkError is a transport-level failure, timeouts included.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{common.ErrNetwork, e.Err}
}

// ServerError is a non-2xx response.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server returned status %d", e.Status)
}

func (e *ServerError) Unwrap() []error {
	errs := []error{common.ErrServer}
	switch e.Status {
	case http.StatusNotFound:
		errs = append(errs, common.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		errs = append(errs, common.ErrUnauthorized)
	}
	return errs
}

// FormatError is a response whose body does not match the expected shape.
// Shape describes what was received, for diagnostics.
type FormatError struct {
	Op    string
	Shape string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: unexpected response format: got %s", e.Op, e.Shape)
}

func (e *FormatError) Unwrap() error {
	return common.ErrFormat
}
