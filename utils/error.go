package utils

import (
	"errors"
	"fmt"
	"net/http"
)

var ErrorRecordNotFound = errors.New("record not found")

var (
	// ErrNotImplemented is returned for formats that are accepted for upload but have no parser.
	ErrNotImplemented = errors.New("Image processing not yet implemented")
	// ErrUnsupportedFormat is returned for file types the importer does not know.
	ErrUnsupportedFormat = errors.New("Unsupported file format")
)

// ParseError wraps a failure to read an uploaded export as a whole.
// Individual malformed rows are never reported through it.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationGateError rejects a validate request before anything is written.
type ValidationGateError struct {
	ChangeID int
	Reason   string
}

func (e *ValidationGateError) Error() string {
	if e.ChangeID == 0 {
		return e.Reason
	}
	return fmt.Sprintf("change %d: %s", e.ChangeID, e.Reason)
}

// ApplyError is a store failure inside an apply transaction. The transaction has been rolled back.
type ApplyError struct {
	Key string
	Err error
}

func (e *ApplyError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("apply failed: %v", e.Err)
	}
	return fmt.Sprintf("apply failed for %s: %v", e.Key, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

type AuthorizationError struct {
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized to %s", e.Action)
}

type NotFoundError struct {
	Kind    string
	Key     string
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrorRecordNotFound }

// StatusFromError maps the error taxonomy onto HTTP status codes.
func StatusFromError(err error) int {
	var (
		parseErr *ParseError
		gateErr  *ValidationGateError
		applyErr *ApplyError
		authErr  *AuthorizationError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.As(err, &parseErr), errors.Is(err, ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.As(err, &gateErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &authErr):
		return http.StatusForbidden
	case errors.Is(err, ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.As(err, &applyErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
