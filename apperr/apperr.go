// Package apperr is the error taxonomy shared by the presence and friend
// services and mapped to HTTP statuses by the REST layer.
package apperr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an error for callers.
type Kind int

const (
	Internal Kind = iota
	InvalidOperation
	Conflict
	NotFound
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case InvalidOperation:
		return "invalid_operation"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// HTTPCode returns the status a REST handler should answer with.
func (k Kind) HTTPCode() int {
	switch k {
	case InvalidOperation:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified application error. Code is a stable machine-readable
// identifier; Message is safe to show to clients. cause is kept for logs only.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Cause satisfies github.com/pkg/errors.Cause.
func (e *Error) Cause() error { return e.cause }

// Is matches another *Error with the same kind and code, so package-level
// sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Invalid, Conflicting and Missing build the common kinds.
func Invalid(code, message string) *Error     { return New(InvalidOperation, code, message) }
func Conflicting(code, message string) *Error { return New(Conflict, code, message) }
func Missing(code, message string) *Error     { return New(NotFound, code, message) }

// Wrap classifies err as Internal, attaching a stack trace and message. A nil
// err yields nil; an *Error passes through unchanged.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{
		Kind:    Internal,
		Code:    "internal",
		Message: "internal error",
		cause:   errors.Wrap(err, message),
	}
}

// KindOf returns the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// HTTPStatus maps any error to an HTTP status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return KindOf(err).HTTPCode()
}

// Public returns the code and client-safe message for err. Unclassified
// errors never leak their text.
func Public(err error) (code, message string) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code, ae.Message
	}
	return "internal", "internal error"
}

var (
	ErrEmptyUserID       = Invalid("empty_user_id", "user id must not be empty")
	ErrSelfRequest       = Invalid("self_request", "cannot send a friend request to yourself")
	ErrSelfRemove        = Invalid("self_remove", "cannot unfriend yourself")
	ErrRequestPending    = Conflicting("request_pending", "a pending friend request already exists")
	ErrRequestInFlight   = Conflicting("request_in_flight", "a friend request for this pair is being processed")
	ErrRequestNotFound   = Missing("request_not_found", "no pending friend request")
	ErrUserNotFound      = Missing("user_not_found", "user not found")
	ErrUsernameTaken     = Conflicting("username_taken", "username already taken")
	ErrForbidden         = New(Forbidden, "forbidden", "acting user does not match")
)
