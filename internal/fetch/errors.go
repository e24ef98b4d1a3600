package fetch

import (
	"errors"
	"fmt"
)

// ErrNotFound matches FetchErrors whose Kind is KindNotFound.
var ErrNotFound = errors.New("fetch: not found")

// ErrorKind classifies fetch failures.
type ErrorKind string

// Retries that end on a network error report KindTransport; retries that
// end on a retryable status report KindExhausted.
const (
	KindNotFound    ErrorKind = "not_found"
	KindStatus      ErrorKind = "status"
	KindContentType ErrorKind = "content_type"
	KindTransport   ErrorKind = "transport"
	KindExhausted   ErrorKind = "exhausted"
)

// FetchError reports why a file could not be retrieved.
type FetchError struct {
	Year     int
	Category Category
	URL      string
	Kind     ErrorKind
	Status   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s %d: %s", e.Category, e.Year, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match not-found fetch errors.
func (e *FetchError) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// Temporary reports whether a later run may succeed without intervention.
func (e *FetchError) Temporary() bool {
	return e.Kind == KindTransport || e.Kind == KindExhausted
}
