package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind tells callers whether a failure is worth retrying.
type ErrorKind int

const (
	// KindTransient failures may succeed when retried.
	KindTransient ErrorKind = iota
	// KindPermanent failures exhausted every attempt or can never succeed.
	KindPermanent
	// KindCanceled failures stopped because the caller's context ended.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

var (
	// ErrNoProvider is returned when no backend credential is configured.
	ErrNoProvider = errors.New("no llm provider configured")
	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown llm provider")
	// ErrEmptyResponse is returned when a backend produced no content.
	ErrEmptyResponse = errors.New("llm returned no content")
	// ErrInvalidResult is returned when model output fails the result contract.
	ErrInvalidResult = errors.New("llm output does not match grading schema")
)

// Error is a failure tagged with its kind.
type Error struct {
	Kind     ErrorKind
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: %s failure after %d attempt(s): %v", e.Op, e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err. Untagged context errors count as canceled
// and anything else as transient.
func KindOf(err error) ErrorKind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindTransient
}

// IsPermanent reports whether err is tagged permanent.
func IsPermanent(err error) bool {
	return err != nil && KindOf(err) == KindPermanent
}

func transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}
