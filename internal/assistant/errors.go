package assistant

import (
	"errors"
	"fmt"
)

// ErrorKind classifies backend failures by how a turn should react.
type ErrorKind string

const (
	KindNotFound    ErrorKind = "not_found"
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindTransient   ErrorKind = "transient"
	KindOther       ErrorKind = "other"
)

// Error is a classified backend failure.
type Error struct {
	Op         string // backend operation, e.g. "get run"
	Kind       ErrorKind
	StatusCode int // HTTP status when known
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant: %s: %s (http %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("assistant: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a classified backend failure.
func NewError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the ErrorKind of err. Unclassified errors are KindOther;
// nil yields the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindOther
}

// KindForStatus maps an HTTP status code to an ErrorKind.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == 404:
		return KindNotFound
	case code == 401 || code == 403:
		return KindAuth
	case code == 429:
		return KindRateLimited
	case code == 408 || code == 409 || code >= 500:
		return KindTransient
	default:
		return KindOther
	}
}
