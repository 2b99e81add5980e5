package apperr

import (
	"errors"
	"net/http"
)

const (
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeNotReady   = "NOT_READY"
	CodeInternal   = "INTERNAL_ERROR"
)

// Error is a client-facing error carrying a taxonomy code and a message safe to return in a response body.
type Error struct {
	Code    string
	Message string
	Err     error
}

func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap returns a copy of e that carries cause. errors.Is(wrapped, e) stays true.
func (e *Error) Wrap(cause error) error {
	return &Error{Code: e.Code, Message: e.Message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error code to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeNotReady:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Is matches errors with the same code and message, so copies made by Wrap match their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// From extracts the first *Error in err's chain.
func From(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
