package validation

import (
	"strings"
	"testing"

	"signalrelay/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		expectError bool
	}{
		{name: "simple", value: "t1", expectError: false},
		{name: "snowflake", value: "1234567890123456789", expectError: false},
		{name: "dashes and dots", value: "tenant-a.prod_1", expectError: false},
		{name: "max length", value: strings.Repeat("a", 128), expectError: false},
		{name: "empty", value: "", expectError: true},
		{name: "too long", value: strings.Repeat("a", 129), expectError: true},
		{name: "space", value: "tenant a", expectError: true},
		{name: "newline", value: "tenant\n", expectError: true},
		{name: "null byte", value: "ten\x00ant", expectError: true},
		{name: "slash", value: "a/b", expectError: true},
		{name: "backslash", value: `a\b`, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier("tenantKey", tt.value)
			if tt.expectError {
				assert.Error(t, err)
				assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateIdentifier_LongValueIsTruncatedInContext(t *testing.T) {
	err := ValidateIdentifier("connectorId", strings.Repeat("x", 500))
	assert.Error(t, err)

	var appErr *errors.AppError
	if assert.ErrorAs(t, err, &appErr) {
		assert.Equal(t, strings.Repeat("x", 32)+"...", appErr.Context["value"])
	}
}

func TestValidateScope(t *testing.T) {
	assert.NoError(t, ValidateScope("t1", "c1"))

	err := ValidateScope("", "c1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")

	err = ValidateScope("t1", "c 1")
	assert.Error(t, err)
	var appErr *errors.AppError
	if assert.ErrorAs(t, err, &appErr) {
		assert.Equal(t, "connectorId", appErr.Context["field"])
	}
}

func TestValidateProvider(t *testing.T) {
	tests := []struct {
		provider    string
		expectError bool
	}{
		{"stripe", false},
		{"lemon-squeezy", false},
		{"paddle_v2", false},
		{"", true},
		{"Stripe", true},
		{"stripe.com", true},
		{strings.Repeat("p", 33), true},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			err := ValidateProvider(tt.provider)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateWorkerID(t *testing.T) {
	assert.NoError(t, ValidateWorkerID(""))
	assert.NoError(t, ValidateWorkerID("worker-7"))
	assert.Error(t, ValidateWorkerID("worker 7"))
}

func TestValidateRequired(t *testing.T) {
	assert.NoError(t, ValidateRequired("jobId", "abc"))

	err := ValidateRequired("claimToken", "   ")
	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetCode(err))
}

func TestValidateNumericRange(t *testing.T) {
	tests := []struct {
		name        string
		value       int
		expectError bool
	}{
		{"min", 1, false},
		{"max", 65535, false},
		{"below", 0, true},
		{"above", 70000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNumericRange(tt.value, "server port", 1, 65535)
			if tt.expectError {
				assert.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRetentionDays(t *testing.T) {
	assert.NoError(t, ValidateRetentionDays(14))
	assert.Error(t, ValidateRetentionDays(0))
	assert.Error(t, ValidateRetentionDays(3651))
}
