// Package apierr defines the stable error taxonomy shared by the HTTP and
// WebSocket surfaces. Internal code returns plain errors wrapping one of
// these kinds; the transport layers unwrap with errors.As to pick a status
// code and wire string instead of inspecting error text.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the stable wire codes from the error taxonomy.
type Kind string

const (
	InvalidSpec       Kind = "invalid_spec"
	Unauthenticated    Kind = "unauthenticated"
	Unauthorized       Kind = "unauthorized"
	NotFound           Kind = "not_found"
	Conflict           Kind = "conflict"
	ResourceExhausted  Kind = "resource_exhausted"
	SpawnFailed        Kind = "spawn_failed"
	IoError            Kind = "io_error"
	PtyClosed          Kind = "pty_closed"
	ProtocolError      Kind = "protocol_error"
	Timeout            Kind = "timeout"
)

// httpStatus maps each kind to the status code the HTTP surface returns.
var httpStatus = map[Kind]int{
	InvalidSpec:       http.StatusBadRequest,
	Unauthenticated:    http.StatusUnauthorized,
	Unauthorized:       http.StatusForbidden,
	NotFound:           http.StatusNotFound,
	Conflict:           http.StatusConflict,
	ResourceExhausted:  http.StatusTooManyRequests,
	SpawnFailed:        http.StatusInternalServerError,
	IoError:            http.StatusInternalServerError,
	PtyClosed:          http.StatusBadRequest,
	ProtocolError:      http.StatusBadRequest,
	Timeout:            http.StatusRequestTimeout,
}

// Error is a taxonomy-tagged error. Reason is a short machine detail used
// only for logging/diagnostics; Details is the optional payload surfaced to
// the caller (e.g. a spawn failure message).
type Error struct {
	Kind    Kind
	Reason  string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error with a formatted reason.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a kind, preserving it for errors.Is/As.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Reason: err.Error(), Err: err}
}

// HTTPStatus returns the status code for err, defaulting to 500 if err does
// not carry a tagged Kind.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if code, ok := httpStatus[e.Kind]; ok {
			return code
		}
	}
	return http.StatusInternalServerError
}

// Code returns the stable wire string for err, or "internal" if untagged.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return "internal"
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
