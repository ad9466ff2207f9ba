package accesslist

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrTransient       = errors.New("transient")
	ErrVersionConflict = errors.New("version conflict")
	ErrConflict        = errors.New("conflict")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrNotFound        = errors.New("list not found")
	ErrForbidden       = errors.New("forbidden")
)

var kinds = []error{ErrTransient, ErrVersionConflict, ErrConflict, ErrQuotaExceeded, ErrNotFound, ErrForbidden}

// Error is a classified control-plane failure.
type Error struct {
	Kind   error
	Op     string
	ListID string
	Err    error
}

func NewError(kind error, op, listID string, err error) *Error {
	return &Error{Kind: kind, Op: op, ListID: listID, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.ListID != "" {
		msg += " " + e.ListID
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the sentinel kind of err, or nil if it is unclassified.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName is a short label for logs and metrics.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrTransient:
		return "transient"
	case ErrVersionConflict:
		return "version_conflict"
	case ErrConflict:
		return "conflict"
	case ErrQuotaExceeded:
		return "quota_exceeded"
	case ErrNotFound:
		return "not_found"
	case ErrForbidden:
		return "forbidden"
	}
	if err == nil {
		return "ok"
	}
	return "unknown"
}

// Retryable reports whether a mutation that failed with err may be retried
// after refreshing the list version.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrVersionConflict)
}

func conflictf(op, listID, format string, args ...any) *Error {
	return NewError(ErrConflict, op, listID, fmt.Errorf(format, args...))
}
