package query

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies API-visible failures. Codes are part of the wire contract:
// clients switch on them, so they are stable strings rather than HTTP statuses.
type Code string

const (
	CodeValidation        Code = "validation_error"
	CodePath              Code = "path_error"
	CodeInvalidTransition Code = "invalid_transition"
	CodeNotFound          Code = "not_found"
	CodeExternalTool      Code = "external_tool_error"
	CodeUnknown           Code = "unknown_error"
)

// Error is a machine-readable API error carrying a Code and a human message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// Errorf builds an *Error with the given code.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from err, or CodeUnknown for untyped errors.
func CodeOf(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeUnknown
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodePath:
		return http.StatusBadRequest
	case CodeInvalidTransition:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
