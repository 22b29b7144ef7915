package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for retry and surfacing policy.
type ErrorKind string

const (
	// KindValidation is a malformed request; fails the single request and
	// never poisons the stream.
	KindValidation ErrorKind = "validation"

	// KindPrerequisite means configuration is missing (scope absent, factor
	// unresolved); the entry stays pending for retry after a config fix.
	KindPrerequisite ErrorKind = "prerequisite"

	// KindConflict is a duplicate or state clash the caller must resolve.
	KindConflict ErrorKind = "conflict"

	// KindTransient is an infrastructure failure retried with backoff.
	KindTransient ErrorKind = "transient"

	// KindFatal is an invariant violation; the worker aborts and the
	// processing status is not advanced.
	KindFatal ErrorKind = "fatal"

	// KindPartial is a batch where some rows failed; good rows persist and
	// the report enumerates the bad ones.
	KindPartial ErrorKind = "partial"
)

// Sentinel errors shared across packages.
var (
	ErrInvalidScopeType  = errors.New("domain: invalid scope type")
	ErrInvalidInputType  = errors.New("domain: invalid input type")
	ErrScopeNotFound     = errors.New("domain: scope not found in active flowchart")
	ErrFactorUnresolved  = errors.New("domain: emission factor not resolvable")
	ErrDuplicateScope    = errors.New("domain: duplicate scope identifier")
	ErrDuplicateEntry    = errors.New("domain: duplicate entry timestamp")
	ErrNotFound          = errors.New("domain: document not found")
	ErrVersionConflict   = errors.New("domain: optimistic version conflict")
	ErrActiveChartExists = errors.New("domain: an active flowchart already exists")
	ErrSummaryProtected  = errors.New("domain: summary is protected from automatic recalculation")
	ErrClientMismatch    = errors.New("domain: principal is not authorised for this client")
	ErrInputTypeMismatch = errors.New("domain: payload variant does not match the scope input type")
)

// Error attaches an ErrorKind and operation name to an underlying error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// E wraps err with a kind and operation for policy-aware handling upstream.
func E(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + string(e.Kind)
	}

	return e.Op + ": " + e.Err.Error()
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, walking the wrap chain.
// Unclassified errors report KindTransient so callers default to retrying.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}

	return KindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
