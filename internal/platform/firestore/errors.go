package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type failureKind uint8

const (
	failureOther failureKind = iota
	failureNotFound
	failureConflict
	failureUnavailable
)

// Error tags a Firestore failure with the operation that hit it and how callers should treat it.
// It satisfies the repositories classification contract.
type Error struct {
	op   string
	kind failureKind
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Op names the collection and action, for example "items.get".
func (e *Error) Op() string {
	if e == nil {
		return ""
	}
	return e.op
}

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == failureNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == failureConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == failureUnavailable }

func kindOf(code codes.Code) failureKind {
	switch code {
	case codes.NotFound:
		return failureNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return failureConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return failureUnavailable
	default:
		return failureOther
	}
}

// WrapError classifies err by its gRPC status. Cancellation and deadline errors come back as
// the context sentinels, and an already classified error only gains op if it had none.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var classified *Error
	if errors.As(err, &classified) {
		if classified.op == "" {
			classified.op = op
		}
		return classified
	}
	return &Error{op: op, kind: kindOf(code), err: err}
}

// IsNotFound reports whether err wraps a missing-document failure.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.IsNotFound()
}

// IsConflict reports whether err wraps contention or a failed precondition.
func IsConflict(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.IsConflict()
}

// IsUnavailable reports whether err wraps a transient backend failure worth retrying.
func IsUnavailable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.IsUnavailable()
}
