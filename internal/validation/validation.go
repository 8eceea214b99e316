package validation

import (
	"fmt"
	"strings"
	"unicode"

	"signalrelay/internal/constants"
	"signalrelay/internal/errors"
)

// ValidateIdentifier checks an opaque id taken from a URL path or request
// body: non-empty, bounded, and free of whitespace, control characters and
// path separators.
func ValidateIdentifier(field, value string) error {
	if value == "" {
		return errors.NewValidationError(field, value, "cannot be empty")
	}

	if len(value) > constants.MaxIdentifierLength {
		return errors.NewValidationError(field, truncate(value),
			fmt.Sprintf("too long (max %d characters)", constants.MaxIdentifierLength))
	}

	for _, char := range value {
		if unicode.IsSpace(char) || unicode.IsControl(char) || char == '/' || char == '\\' {
			return errors.NewValidationError(field, value, "contains invalid characters")
		}
	}

	return nil
}

// ValidateScope validates the tenant and connector pair that scopes ingest
// and catalog requests.
func ValidateScope(tenantKey, connectorID string) error {
	if err := ValidateIdentifier("tenantKey", tenantKey); err != nil {
		return err
	}
	return ValidateIdentifier("connectorId", connectorID)
}

// ValidateProvider accepts lowercase provider names such as "stripe" or
// "lemon-squeezy".
func ValidateProvider(provider string) error {
	if provider == "" {
		return errors.NewValidationError("provider", provider, "cannot be empty")
	}

	if len(provider) > constants.MaxProviderLength {
		return errors.NewValidationError("provider", truncate(provider),
			fmt.Sprintf("too long (max %d characters)", constants.MaxProviderLength))
	}

	for _, char := range provider {
		if !unicode.IsLower(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.NewValidationError("provider", provider,
				"must contain only lowercase letters, numbers, underscores, and dashes")
		}
	}

	return nil
}

// ValidateWorkerID allows an empty id; workers that do not name themselves
// are recorded without one.
func ValidateWorkerID(workerID string) error {
	if workerID == "" {
		return nil
	}
	return ValidateIdentifier("workerId", workerID)
}

// ValidateRequired rejects blank values for fields a request must carry
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewValidationError(field, value, "is required")
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateRetentionDays validates the completed-job retention window
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}

	if days > 3650 { // Max 10 years
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}

func truncate(value string) string {
	if len(value) <= 32 {
		return value
	}
	return value[:32] + "..."
}
