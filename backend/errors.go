package backend

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("value not found")
	ErrStorageIO    = errors.New("storage failure")
	ErrPrecondition = errors.New("precondition failed")
)

type Kind int

const (
	KindStorageIO Kind = iota
	KindNotFound
	KindPrecondition
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"

	case KindPrecondition:
		return "precondition"

	default:
		return "storage"
	}
}

// Error is the single error type surfaced by the storage layer. It records the failed operation and the
// mailbox or row it was applied to.
type Error struct {
	Op      string
	Context string
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v (%v) failed [%v]: %v", e.Op, e.Context, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound

	case ErrStorageIO:
		return e.Kind == KindStorageIO

	case ErrPrecondition:
		return e.Kind == KindPrecondition

	default:
		return false
	}
}

// Wrap wraps err into an Error. Absent rows map to KindNotFound, everything else not already classified
// is a storage failure.
func Wrap(op, context string, err error) error {
	if err == nil {
		return nil
	}

	kind := KindStorageIO

	var inner *Error

	switch {
	case errors.As(err, &inner):
		kind = inner.Kind

	case errors.Is(err, ErrNotFound):
		kind = KindNotFound

	case errors.Is(err, ErrPrecondition):
		kind = KindPrecondition
	}

	return &Error{Op: op, Context: context, Kind: kind, Err: err}
}

func Precondition(op, context, format string, args ...any) error {
	return &Error{Op: op, Context: context, Kind: KindPrecondition, Err: fmt.Errorf(format, args...)}
}

func IsErrNotFound(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, ErrNotFound)
}
