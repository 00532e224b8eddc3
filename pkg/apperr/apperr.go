// Package apperr defines the tagged error kinds surfaced at the core
// boundary (spec.md §7): NotFound, Validation, ConstraintViolationHard,
// ConstraintViolationSoft, TimeConflict, NoCompatibleBerth, NoSlotFound,
// Timeout, TransientStore, UpstreamUnavailable.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine code for an error kind.
type Code string

const (
	CodeNotFound               Code = "NotFound"
	CodeValidation             Code = "Validation"
	CodeConstraintViolationHard Code = "ConstraintViolationHard"
	CodeConstraintViolationSoft Code = "ConstraintViolationSoft"
	CodeTimeConflict           Code = "TimeConflict"
	CodeNoCompatibleBerth      Code = "NoCompatibleBerth"
	CodeNoSlotFound            Code = "NoSlotFound"
	CodeTimeout                Code = "Timeout"
	CodeTransientStore         Code = "TransientStore"
	CodeUpstreamUnavailable    Code = "UpstreamUnavailable"
)

// Error is the tagged failure carried across every public operation
// boundary. It is never used for control flow internally — it is the
// terminal representation of a failure once a caller needs to report one.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on Code so callers can do errors.Is(err, apperr.New(apperr.CodeTimeConflict, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// New builds a tagged error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a tagged error that remembers the underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails attaches structured detail fields (e.g. conflicting schedule ids).
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the Code from err, defaulting to "" when err is not (or
// does not wrap) an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// httpStatus maps each Code to the response status internal/gateway writes
// for it. ConstraintViolationSoft never reaches here as a failure — spec.md
// §7 carries it inside successful suggestions, never as an error — so it
// has no entry and falls through to the 500 default.
var httpStatus = map[Code]int{
	CodeNotFound:               http.StatusNotFound,
	CodeValidation:             http.StatusBadRequest,
	CodeConstraintViolationHard: http.StatusUnprocessableEntity,
	CodeTimeConflict:           http.StatusConflict,
	CodeNoCompatibleBerth:      http.StatusUnprocessableEntity,
	CodeNoSlotFound:            http.StatusUnprocessableEntity,
	CodeTimeout:                http.StatusGatewayTimeout,
	CodeTransientStore:         http.StatusServiceUnavailable,
	CodeUpstreamUnavailable:    http.StatusBadGateway,
}

// HTTPStatus returns the status code internal/gateway should write for err,
// defaulting to 500 for an unrecognized or non-tagged error.
func HTTPStatus(err error) int {
	code := CodeOf(err)
	if status, ok := httpStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
