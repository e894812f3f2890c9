// Package errors is the matcher's error taxonomy. Each sentinel has a stable
// code for API clients and an HTTP status.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrItemNotFound       = errors.New("item not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageUnavailable = errors.New("item storage unavailable")
	ErrTimeout            = errors.New("operation timed out")
	ErrInternal           = errors.New("internal error")
)

type kind struct {
	sentinel error
	code     string
	status   int
}

// kinds is ordered by precedence: an error wrapping several sentinels is
// classified by the first match.
var kinds = []kind{
	{ErrInvalidInput, "invalid_input", http.StatusBadRequest},
	{ErrItemNotFound, "not_found", http.StatusNotFound},
	{ErrTimeout, "timeout", http.StatusServiceUnavailable},
	{ErrStorageUnavailable, "storage_unavailable", http.StatusServiceUnavailable},
	{ErrInternal, "internal", http.StatusInternalServerError},
}

func classify(err error) kind {
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k
		}
	}
	return kind{ErrInternal, "internal", http.StatusInternalServerError}
}

// AppError attaches a caller-facing message to a sentinel.
type AppError struct {
	Kind    error
	Message string
}

func (e *AppError) Error() string {
	return e.Kind.Error() + ": " + e.Message
}

func (e *AppError) Unwrap() error {
	return e.Kind
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{Kind: sentinel, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports that no active item carries the given id.
func NotFound(itemID string) *AppError {
	return Newf(ErrItemNotFound, "no active item with id %q", itemID)
}

// Invalid reports malformed caller input.
func Invalid(format string, args ...any) *AppError {
	return Newf(ErrInvalidInput, format, args...)
}

// HTTPStatusCode maps err onto a response status; unclassified errors are 500.
func HTTPStatusCode(err error) int {
	return classify(err).status
}

// Code returns the stable error code for err, such as "not_found".
func Code(err error) string {
	return classify(err).code
}

// PublicMessage is the text safe to show a client. Only client errors carry
// details; server-side failures collapse to their status text.
func PublicMessage(err error) string {
	k := classify(err)
	if k.status >= http.StatusInternalServerError {
		return http.StatusText(k.status)
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return k.sentinel.Error()
}
