package domain

import (
	"errors"
	"fmt"
)

// Kind is the stable machine-readable category of an error.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindUnavailable     Kind = "unavailable"
	KindUnauthorized    Kind = "unauthorized"
	KindIllegalState    Kind = "illegal_state"
	KindTransient       Kind = "transient"
	KindLockUnavailable Kind = "lock_unavailable"
	KindInternal        Kind = "internal"
)

// GenericUnavailableMessage is shown instead of infrastructure details.
const GenericUnavailableMessage = "service temporarily unavailable, please retry"

var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrScreeningNotFound = errors.New("screening not found")
	ErrLockUnavailable   = &Error{Kind: KindLockUnavailable, Reason: "system busy, please retry shortly"}
)

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, ErrLockUnavailable) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

func NotFound(reason string, cause error) error {
	return &Error{Kind: KindNotFound, Reason: reason, Err: cause}
}

func Unavailable(format string, args ...any) error {
	return &Error{Kind: KindUnavailable, Reason: fmt.Sprintf(format, args...)}
}

func Unauthorized(reason string) error {
	return &Error{Kind: KindUnauthorized, Reason: reason}
}

func IllegalState(reason string) error {
	return &Error{Kind: KindIllegalState, Reason: reason}
}

func Transient(reason string, cause error) error {
	return &Error{Kind: KindTransient, Reason: reason, Err: cause}
}

// KindOf extracts the kind of err; untagged errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsBusiness reports whether err is a business error surfaced verbatim and never retried.
func IsBusiness(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindUnavailable, KindUnauthorized, KindIllegalState:
		return true
	}
	return false
}

// PublicMessage is the human-readable reason safe to show to callers.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && IsBusiness(err) {
		return e.Reason
	}
	return GenericUnavailableMessage
}
