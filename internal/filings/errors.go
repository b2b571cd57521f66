package filings

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fetch/parse failure for the retry subsystem.
type ErrorKind string

const (
	// ErrTransient covers network and server-side failures: timeouts,
	// connection resets, non-2xx responses. Retryable.
	ErrTransient ErrorKind = "transient"
	// ErrMalformed covers payloads that fetched fine but did not have the
	// expected HTML or JSON shape. Retryable, but likely to recur.
	ErrMalformed ErrorKind = "malformed"
	// ErrUnexpected is anything uncategorized.
	ErrUnexpected ErrorKind = "unexpected"
)

// FetchError is the typed failure surfaced by the worker pool. It never
// propagates past the coordinator boundary.
type FetchError struct {
	Kind ErrorKind
	Op   string
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err with its classification and the operation context.
func NewFetchError(kind ErrorKind, op, url string, err error) *FetchError {
	return &FetchError{Kind: kind, Op: op, URL: url, Err: err}
}

// KindOf extracts the classification from err, defaulting to ErrUnexpected
// for errors that did not come out of the fetch/parse path.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ErrUnexpected
}
