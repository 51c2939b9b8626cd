// Package errors wraps github.com/pkg/errors with the error-kind taxonomy of
// spec.md §7, in the same spirit as the teacher's internal/errors package:
// callers construct and classify errors through this package rather than
// reaching for the standard library directly.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the way spec.md §7 does. It is not a Go error
// type in its own right; it is attached to a wrapped error and recovered
// with KindOf.
type Kind int

const (
	// KindNone marks an error with no assigned taxonomy entry.
	KindNone Kind = iota
	KindInvalidArgument
	KindAlreadyExists
	KindNotFound
	KindIntegrityError
	KindStorageError
	KindIndexError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotFound:
		return "NotFound"
	case KindIntegrityError:
		return "IntegrityError"
	case KindStorageError:
		return "StorageError"
	case KindIndexError:
		return "IndexError"
	default:
		return "Unknown"
	}
}

type kindedError struct {
	kind Kind
	err  error
}

func (e *kindedError) Error() string { return e.err.Error() }
func (e *kindedError) Unwrap() error { return e.err }
func (e *kindedError) Cause() error  { return e.err }

// New is a drop-in for errors.New, kept for parity with the teacher's
// internal/errors package.
func New(msg string) error { return errors.New(msg) }

// Errorf is a drop-in for errors.Errorf.
func Errorf(format string, args ...interface{}) error { return errors.Errorf(format, args...) }

// Wrap attaches kind to err and records msg as additional context, the way
// the teacher's codebase wraps errors at every package boundary.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, err: errors.WithMessage(err, msg)}
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, err: errors.WithMessage(err, fmt.Sprintf(format, args...))}
}

func newKind(kind Kind, msg string) error {
	return &kindedError{kind: kind, err: errors.New(msg)}
}

func newKindf(kind Kind, format string, args ...interface{}) error {
	return &kindedError{kind: kind, err: errors.Errorf(format, args...)}
}

// InvalidArgument builds a KindInvalidArgument error.
func InvalidArgument(msg string) error { return newKind(KindInvalidArgument, msg) }

// InvalidArgumentf is InvalidArgument with a format string.
func InvalidArgumentf(format string, args ...interface{}) error {
	return newKindf(KindInvalidArgument, format, args...)
}

// AlreadyExists builds a KindAlreadyExists error.
func AlreadyExists(key string) error {
	return newKindf(KindAlreadyExists, "object %q already exists", key)
}

// NotFound builds a KindNotFound error.
func NotFound(what, key string) error {
	return newKindf(KindNotFound, "%s %q not found", what, key)
}

// Integrity builds a KindIntegrityError error.
func Integrity(msg string) error { return newKind(KindIntegrityError, msg) }

// Integrityf is Integrity with a format string.
func Integrityf(format string, args ...interface{}) error {
	return newKindf(KindIntegrityError, format, args...)
}

// Storage wraps a storage-callback failure.
func Storage(err error, msg string) error { return Wrap(err, KindStorageError, msg) }

// Index wraps an index-provider failure.
func Index(err error, msg string) error { return Wrap(err, KindIndexError, msg) }

// Indexf builds a KindIndexError error from a format string, with no
// underlying error to wrap.
func Indexf(format string, args ...interface{}) error {
	return newKindf(KindIndexError, format, args...)
}

// KindOf recovers the Kind attached to err, walking Unwrap chains. It
// returns KindNone if err (or nothing in its chain) carries a Kind.
func KindOf(err error) Kind {
	for err != nil {
		if ke, ok := err.(*kindedError); ok {
			return ke.kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindNone
}

// Is reports whether err (or anything in its chain) carries kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }
