package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBody(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		body            string
		expectedMessage string
		expectedDetails []string
	}{
		{
			name:            "message field",
			status:          http.StatusNotFound,
			body:            `{"success":false,"message":"Employee not found"}`,
			expectedMessage: "Employee not found",
		},
		{
			name:            "validation list",
			status:          http.StatusBadRequest,
			body:            `{"success":false,"error":["email is required","firstName is required"]}`,
			expectedMessage: "email is required, firstName is required",
			expectedDetails: []string{"email is required", "firstName is required"},
		},
		{
			name:            "error string",
			status:          http.StatusConflict,
			body:            `{"error":"duplicate employeeId"}`,
			expectedMessage: "duplicate employeeId",
			expectedDetails: []string{"duplicate employeeId"},
		},
		{
			name:            "message wins over error list",
			status:          http.StatusBadRequest,
			body:            `{"message":"Validation failed","error":["bad email"]}`,
			expectedMessage: "Validation failed",
			expectedDetails: []string{"bad email"},
		},
		{
			name:            "non json body",
			status:          http.StatusBadGateway,
			body:            `<html>bad gateway</html>`,
			expectedMessage: "request failed: bad gateway",
		},
		{
			name:            "unknown status",
			status:          599,
			body:            ``,
			expectedMessage: "request failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqErr := FromBody(tt.status, []byte(tt.body))
			require.Equal(t, tt.status, reqErr.StatusCode)
			require.Equal(t, tt.expectedMessage, reqErr.Message)
			require.Equal(t, tt.expectedDetails, reqErr.Details)
		})
	}
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(ErrCanceled))
	assert.True(t, IsCanceled(Canceled(context.Canceled)))
	assert.True(t, IsCanceled(fmt.Errorf("list: %w", context.Canceled)))
	assert.False(t, IsCanceled(&NetworkError{Method: "GET", URL: "http://x", Err: errors.New("refused")}))
	assert.False(t, IsCanceled(&RequestError{StatusCode: 500, Message: "boom"}))
}

func TestCanceled_keepsCause(t *testing.T) {
	err := Canceled(context.DeadlineExceeded)
	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsUnauthorized(t *testing.T) {
	assert.True(t, IsUnauthorized(&AuthError{StatusCode: 401}))
	assert.True(t, IsUnauthorized(fmt.Errorf("wrapped: %w", &RequestError{StatusCode: 401})))
	assert.False(t, IsUnauthorized(&RequestError{StatusCode: 403}))
}

func TestAsAuth(t *testing.T) {
	err := AsAuth(&RequestError{StatusCode: http.StatusForbidden, Message: "refresh token revoked"})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusForbidden, authErr.StatusCode)
	require.Equal(t, "refresh token revoked", authErr.Message)

	netErr := &NetworkError{Method: "POST", URL: "http://x", Err: errors.New("refused")}
	require.Same(t, netErr, AsAuth(netErr))
}

func TestErrorStrings(t *testing.T) {
	require.Equal(t, "authentication failed: Invalid credentials",
		(&AuthError{StatusCode: 401, Message: "Invalid credentials"}).Error())
	require.Equal(t, "authentication failed (HTTP 401)", (&AuthError{StatusCode: 401}).Error())
	require.Equal(t, "server 404: Employee not found",
		(&RequestError{StatusCode: 404, Message: "Employee not found"}).Error())

	netErr := &NetworkError{Method: "GET", URL: "http://localhost:4000/api/employees", Err: errors.New("connection refused")}
	require.Contains(t, netErr.Error(), "no response from server")
	require.Contains(t, netErr.Hint(), "--api-url")
}
