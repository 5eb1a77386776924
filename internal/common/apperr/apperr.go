package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes the sync core distinguishes.
// Validation and authorization failures are terminal; conflict and
// transport failures are recoverable and keep the optimistic local state.
var (
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("version conflict")
	ErrTransport     = errors.New("transport failure")
	ErrAuthorization = errors.New("authorization failed")
	ErrNotFound      = errors.New("not found")
	ErrLocked        = errors.New("region locked")
)

// ConflictError is returned when the authority detects a stale version
// token. Remote carries the canonical server-side state so the caller can
// present both sides for resolution.
type ConflictError struct {
	RegionID string
	Remote   interface{}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on region %s", e.RegionID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// LockedError reports a mutation attempted on a region locked by someone else.
type LockedError struct {
	RegionID string
	LockedBy string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("region %s is locked by %s", e.RegionID, e.LockedBy)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// TransportError wraps a network or authority availability failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return ErrTransport }

// Validationf builds a terminal validation error.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Authorizationf builds a terminal authorization error.
func Authorizationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IsRecoverable reports whether the error class preserves the optimistic
// local state (conflict, transport) rather than rolling it back.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransport)
}
