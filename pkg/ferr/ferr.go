package ferr

import "fmt"

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeUnknown           Code = "unknown"
	CodeNotFound          Code = "not_found"
	CodeIncompleteJob     Code = "incomplete_job"
	CodeIncompleteConfig  Code = "incomplete_config"
	CodeInvalidToken      Code = "invalid_token"
	CodeClientUnreachable Code = "client_unreachable"
	CodeRegistryIntegrity Code = "registry_integrity"
	CodeMetricNotFound    Code = "metric_not_found"
)

// Error is a simple value type that carries a Code plus the underlying error.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps an error with the provided code. If err is nil a nil is returned.
func New(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, err: err}
}

// Newf builds a coded error from a format string.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, err: fmt.Errorf(format, args...)}
}

// IsCode helps callers compare codes without type assertions.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code attached to err, or CodeUnknown when err carries
// no code.
func CodeOf(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeUnknown
}
