// Package catalysterr defines the error-kind taxonomy the core surfaces to
// its collaborators. Kinds are comparable values, not types, so callers can
// switch on them without a type assertion.
package catalysterr

import "errors"

// Kind identifies the class of failure. The out-of-scope HTTP layer maps
// each kind to a status code; this package has no opinion on that mapping.
type Kind string

const (
	NotFound                Kind = "not_found"
	Forbidden                Kind = "forbidden"
	Locked                   Kind = "locked"
	InvalidState             Kind = "invalid_state"
	ValidationError          Kind = "validation_error"
	CapacityExceeded         Kind = "capacity_exceeded"
	AllocationConflict       Kind = "allocation_conflict"
	NodeUnavailable          Kind = "node_unavailable"
	NodeBackpressured        Kind = "node_backpressured"
	TransferFailed           Kind = "transfer_failed"
	DatabaseProvisioningError Kind = "database_provisioning_error"
	PathTraversal            Kind = "path_traversal"
	UnsupportedArchive       Kind = "unsupported_archive"
	AuthFailed               Kind = "auth_failed"
	Internal                 Kind = "internal"
)

// Error is the concrete error value carrying a Kind. Cause is optional and
// participates in errors.Is/As via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind carried by err, walking Unwrap chains. Returns
// Internal if err is non-nil but carries no *Error, and "" if err is nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Internal
}

// Is reports whether err's kind equals k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
