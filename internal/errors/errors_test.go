package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(ErrCodeInvalidConfig, "configuration is invalid"),
			expected: "INVALID_CONFIG: configuration is invalid",
		},
		{
			name:     "error with cause",
			err:      Wrap(errors.New("connection refused"), ErrCodeDatabaseConnection, "failed to connect to database"),
			expected: "DATABASE_CONNECTION: failed to connect to database: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAs_FindsWrappedAppError(t *testing.T) {
	inner := NewValidationError("created_at", "yesterday", "invalid timestamp")
	wrapped := fmt.Errorf("apply event: %w", inner)

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, appErr)
	assert.Equal(t, ErrCodeValidationFailed, GetCode(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeValidationFailed))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeValidationFailed))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewRetryableFailure("discord 502", errors.New("bad gateway"))))
	assert.False(t, IsRetryable(NewTerminalFailure("unknown channel", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", NewValidationError("limit", "x", "not a number"), http.StatusBadRequest},
		{"auth", NewAuthError("token mismatch"), http.StatusUnauthorized},
		{"not configured", NewNotConfiguredError("worker token"), http.StatusServiceUnavailable},
		{"claim conflict", NewClaimConflictError("j1", "claim_token_mismatch"), http.StatusConflict},
		{"not found", NewNotFoundError("job", "j1"), http.StatusNotFound},
		{"database", NewDatabaseError("insert", errors.New("locked")), http.StatusServiceUnavailable},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestToHTTPResponse_StripsSensitiveContext(t *testing.T) {
	err := NewAuthError("bad bearer").WithContext("token", "s3cret")

	resp := ToHTTPResponse(err, "req-1")

	assert.Equal(t, ErrCodeAuthentication, resp.Error.Code)
	assert.Equal(t, "Authentication failed", resp.Error.Message)
	assert.Equal(t, "req-1", resp.RequestID)
	ctx, ok := resp.Error.Context.(map[string]interface{})
	require.True(t, ok)
	assert.NotContains(t, ctx, "token")
	assert.Equal(t, "bad bearer", ctx["reason"])
}

func TestToHTTPResponse_PlainError(t *testing.T) {
	resp := ToHTTPResponse(errors.New("db exploded"), "")
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	assert.Equal(t, "An internal error occurred", resp.Error.Message)
	assert.Nil(t, resp.Error.Context)
}

func TestLogger_LogErrorIncludesContext(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	logger := NewLogger(base)

	logger.LogError(NewClaimConflictError("job-7", "job_not_processing"), "complete ignored",
		logrus.Fields{"worker_id": "w1"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "CLAIM_CONFLICT", entry["error_code"])
	assert.Equal(t, "job-7", entry["job_id"])
	assert.Equal(t, "w1", entry["worker_id"])
}

func TestLogger_LogRetryableErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	logger := NewLogger(base)

	logger.LogRetryableError(NewRetryableFailure("timeout", nil), "delivery failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
}

func TestTruncateMessage(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		max      int
		expected string
	}{
		{name: "short", msg: "boom", max: 10, expected: "boom"},
		{name: "ascii cut", msg: "abcdef", max: 3, expected: "abc"},
		{name: "multi-byte fits by runes", msg: "ééé", max: 3, expected: "ééé"},
		{name: "multi-byte cut", msg: "日本語テキスト", max: 2, expected: "日本"},
		{name: "zero max", msg: "abc", max: 0, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateMessage(tt.msg, tt.max)
			assert.Equal(t, tt.expected, got)
			assert.True(t, utf8.ValidString(got))
		})
	}

	long := strings.Repeat("é", 3000)
	assert.Equal(t, 2000, utf8.RuneCountInString(TruncateMessage(long, 2000)))
}
