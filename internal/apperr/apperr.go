// Package apperr defines the error taxonomy shared by the booking and payment
// flow. Handlers map these onto HTTP statuses; everything else is a 500.
package apperr

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValidationError reports user-fixable input problems, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func NewValidation(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// AuthenticationError is returned when a webhook cannot be proven to come
// from the gateway. The payload must not be processed.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// GatewayError wraps a failed call to the payment provider. Transient is set
// for timeouts, network errors, 429 and 5xx responses.
type GatewayError struct {
	StatusCode int
	Code       string
	Message    string
	Transient  bool
	Err        error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("gateway error (status %d, %s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("gateway error (status %d): %s", e.StatusCode, msg)
}

func (e *GatewayError) Unwrap() error { return e.Err }

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}
