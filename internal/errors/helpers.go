package errors

import (
	"fmt"
	"net/http"
	"unicode/utf8"
)

// TruncateMessage cuts msg to at most max runes, never splitting a UTF-8
// sequence.
func TruncateMessage(msg string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(msg) <= max || utf8.RuneCountInString(msg) <= max {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:max])
}

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewNotConfiguredError reports that a required credential or setting is absent.
func NewNotConfiguredError(setting string) *AppError {
	return New(ErrCodeNotConfigured, fmt.Sprintf("%s is not configured", setting)).
		WithContext("setting", setting).
		WithUserMessage("Service is not configured")
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewClaimConflictError describes a complete call that lost its lease.
func NewClaimConflictError(jobID, reason string) *AppError {
	return New(ErrCodeClaimConflict, reason).
		WithContext("job_id", jobID).
		WithContext("reason", reason)
}

// NewRetryableFailure is reported by workers for a delivery that may succeed later.
func NewRetryableFailure(message string, cause error) *AppError {
	return WrapRetryable(cause, ErrCodeRetryableFailure, message)
}

// NewTerminalFailure is reported by workers for a delivery that will never succeed.
func NewTerminalFailure(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeTerminalFailure, message)
}

// NewAuthError creates an authentication error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTPStatusCode maps error codes to HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeClaimConflict:
		return http.StatusConflict
	case ErrCodeNotConfigured:
		return http.StatusServiceUnavailable
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed requests
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if appErr.UserMessage == "" && appErr.Code != ErrCodeInternalError {
		response.Error.Message = appErr.Message
	}
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "password" && k != "token" && k != "secret" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}
	return response
}
