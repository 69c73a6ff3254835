// Package relayerr defines the kernel's error kinds and a single typed
// error that carries its stable code, per the error-handling design in
// SPEC_FULL.md §7.
package relayerr

import "fmt"

// Code is a stable machine-readable error identifier. The HTTP edge is the
// only layer that translates a Code into an HTTP status.
type Code string

const (
	InvalidSubject       Code = "INVALID_SUBJECT"
	SchemaViolation      Code = "SCHEMA_VIOLATION"
	DuplicateID          Code = "DUPLICATE_ID"
	DuplicateEndpoint    Code = "DUPLICATE_ENDPOINT"
	NotFound             Code = "NOT_FOUND"
	RemoveBuiltinDenied  Code = "REMOVE_BUILTIN_DENIED"
	MultiInstanceDenied  Code = "MULTI_INSTANCE_DENIED"
	ConfigInvalid        Code = "CONFIG_INVALID"
	SessionLocked        Code = "SESSION_LOCKED"
	InvalidTransition    Code = "INVALID_TRANSITION"
	DuplicateType        Code = "DUPLICATE_TYPE"
	UnknownType          Code = "UNKNOWN_TYPE"
	PublishFailed        Code = "PUBLISH_FAILED"
	StorageError         Code = "STORAGE_ERROR"
	FeatureDisabled      Code = "FEATURE_DISABLED"
	Unauthorized         Code = "UNAUTHORIZED"
)

// Error is the kernel's single error type. Every internal function that can
// fail in a way the edge must translate returns one of these (wrapped or
// bare), instead of a package-level sentinel per failure mode.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, relayerr.New(code, "")) match any *Error with the
// same Code, regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Of returns the Code carried by err if err is (or wraps) a *Error, and
// false otherwise.
func Of(err error) (Code, bool) {
	var e *Error
	if err == nil {
		return "", false
	}
	if asError(err, &e) {
		return e.Code, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
