// Package fault classifies the errors returned by the archiving engine.
//
// Every terminal error carries a Kind so callers can decide what to tell
// the user without parsing messages:
//
//	if errors.Is(res.Err, fault.ErrArchiveFormat) { ... }
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a failure.
type Kind int

const (
	// KindFilesystem covers missing paths, permission problems and full disks.
	KindFilesystem Kind = iota + 1
	// KindArchiveFormat covers corrupt containers, checksum mismatches and
	// members that would escape the extraction root.
	KindArchiveFormat
	// KindConcurrency covers a poisoned run state or an operation that is
	// already in flight.
	KindConcurrency
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrFilesystem    = errors.New("filesystem error")
	ErrArchiveFormat = errors.New("archive format error")
	ErrConcurrency   = errors.New("concurrency error")
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFilesystem:
		return "filesystem"
	case KindArchiveFormat:
		return "archive format"
	case KindConcurrency:
		return "concurrency"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindFilesystem:
		return ErrFilesystem
	case KindArchiveFormat:
		return ErrArchiveFormat
	case KindConcurrency:
		return ErrConcurrency
	}
	return nil
}

// Error is a classified engine error.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "open archive"
	Path string // path involved, if any
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Filesystem wraps err as a KindFilesystem error.
func Filesystem(op, path string, err error) *Error {
	return &Error{Kind: KindFilesystem, Op: op, Path: path, Err: err}
}

// ArchiveFormat wraps err as a KindArchiveFormat error.
func ArchiveFormat(op, path string, err error) *Error {
	return &Error{Kind: KindArchiveFormat, Op: op, Path: path, Err: err}
}

// Concurrency wraps err as a KindConcurrency error.
func Concurrency(op string, err error) *Error {
	return &Error{Kind: KindConcurrency, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
