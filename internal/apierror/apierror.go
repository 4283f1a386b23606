// Package apierror holds the error taxonomy shared by the HTTP client core,
// the session service and the console commands.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrCanceled is returned when a request was superseded or aborted by its
// caller. It is never shown to the user.
var ErrCanceled = errors.New("request canceled")

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// AuthError reports rejected credentials: a failed login or a refresh the
// backend would not honour.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication failed (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// RequestError is any non-2xx response the client core did not resolve itself.
type RequestError struct {
	StatusCode int
	Message    string
	Details    []string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("server %d: %s", e.StatusCode, e.Message)
}

// NetworkError is returned when no response was received at all.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: no response from server: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Hint returns a diagnostic suggestion for the user.
func (e *NetworkError) Hint() string {
	return "The backend may not be running or is not reachable. Check --api-url (STAFFCONSOLE_API_URL) and your network."
}

// Canceled wraps cause so that it matches ErrCanceled.
func Canceled(cause error) error {
	if cause == nil {
		return ErrCanceled
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

// IsCanceled reports whether err is a cancellation rather than a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// IsUnauthorized reports whether err carries a 401 from the backend.
func IsUnauthorized(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusUnauthorized
}

// errorPayload is the backend's error body. The error field is either a
// string or a list of validation messages.
type errorPayload struct {
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

// FromResponse builds a RequestError from a non-2xx response, consuming the body.
func FromResponse(resp *http.Response) *RequestError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return FromBody(resp.StatusCode, body)
}

// FromBody builds a RequestError from a status code and raw response body.
func FromBody(status int, body []byte) *RequestError {
	reqErr := &RequestError{StatusCode: status}

	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		reqErr.Details = decodeDetails(payload.Error)
		switch {
		case payload.Message != "":
			reqErr.Message = payload.Message
		case len(reqErr.Details) > 0:
			reqErr.Message = strings.Join(reqErr.Details, ", ")
		}
	}

	if reqErr.Message == "" {
		reqErr.Message = genericMessage(status)
	}

	return reqErr
}

// AsAuth converts a RequestError into an AuthError, keeping status and message.
func AsAuth(err error) error {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return &AuthError{StatusCode: reqErr.StatusCode, Message: reqErr.Message}
	}
	return err
}

func decodeDetails(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}

	return nil
}

func genericMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return "request failed: " + strings.ToLower(text)
	}
	return "request failed"
}
