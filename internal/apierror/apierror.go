// Package apierror defines the tagged error responses shared by every
// service. Each variant carries an HTTP status and a brief message plus
// variant-specific fields.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed API error. Type discriminates the variant; the optional
// fields are populated per variant.
type Error struct {
	Type    string `json:"type"`
	Status  int    `json:"status"`
	Message string `json:"message"`

	// CONFLICT: the conflicting item (username or email).
	Item string `json:"item,omitempty"`
	// VALIDATION: the name of the value that failed.
	ValueName string `json:"value_name,omitempty"`
	// MISDIRECTED, VALIDATION, SERVER: extra detail.
	Info string `json:"info,omitempty"`
	// RATE_LIMITED: milliseconds until the window resets.
	RetryAfter uint64 `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	switch e.Type {
	case "CONFLICT":
		return fmt.Sprintf("%s: %s", e.Message, e.Item)
	case "VALIDATION":
		return fmt.Sprintf("invalid %s: %s", e.ValueName, e.Info)
	case "MISDIRECTED", "SERVER":
		return fmt.Sprintf("%s: %s", e.Message, e.Info)
	default:
		return e.Message
	}
}

// Unauthorized is returned when credentials are missing or invalid.
func Unauthorized() *Error {
	return &Error{
		Type:    "UNAUTHORIZED",
		Status:  http.StatusUnauthorized,
		Message: "The user is missing authentication or the passed credentials are invalid",
	}
}

// Forbidden is returned when an authenticated user lacks permission.
func Forbidden() *Error {
	return &Error{
		Type:    "FORBIDDEN",
		Status:  http.StatusForbidden,
		Message: "The user is missing the required permissions to execute this action",
	}
}

// NotFound is returned when the requested resource does not exist.
func NotFound() *Error {
	return &Error{
		Type:    "NOT_FOUND",
		Status:  http.StatusNotFound,
		Message: "The requested resource could not be found",
	}
}

// Conflict is returned when a request clashes with existing data, e.g. a
// duplicate username or email.
func Conflict(item string) *Error {
	return &Error{
		Type:    "CONFLICT",
		Status:  http.StatusConflict,
		Message: "The request couldn't be completed due to conflicting with other data on the server",
		Item:    item,
	}
}

// Misdirected is returned when the instance is not configured for the
// requested operation.
func Misdirected(info string) *Error {
	return &Error{
		Type:    "MISDIRECTED",
		Status:  http.StatusMisdirectedRequest,
		Message: "Misdirected request",
		Info:    info,
	}
}

// Validation is returned when an input fails its contract.
func Validation(valueName, info string) *Error {
	return &Error{
		Type:      "VALIDATION",
		Status:    http.StatusUnprocessableEntity,
		Message:   "Invalid request",
		ValueName: valueName,
		Info:      info,
	}
}

// RateLimited is returned when a bucket rejects an admission.
func RateLimited(retryAfterMS uint64) *Error {
	return &Error{
		Type:       "RATE_LIMITED",
		Status:     http.StatusTooManyRequests,
		Message:    "You have been rate limited",
		RetryAfter: retryAfterMS,
	}
}

// Server is returned for unexpected internal faults. Detail stays in the
// server logs; info carries only a generic public description.
func Server(info string) *Error {
	return &Error{
		Type:    "SERVER",
		Status:  http.StatusInternalServerError,
		Message: "Server encountered an unexpected error",
		Info:    info,
	}
}

// From coerces any error into an *Error, wrapping unknown errors as SERVER
// with a generic public message.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Server("Internal server error")
}

// Write serializes an error to an HTTP response.
func Write(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err)
}
