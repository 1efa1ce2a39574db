package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden    ErrorType = "FORBIDDEN"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal     ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed      ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidVisibilityMode ErrorCode = "INVALID_VISIBILITY_MODE"
	ErrCodeInvalidRoleName       ErrorCode = "INVALID_ROLE_NAME"
	ErrCodeInvalidPagePath       ErrorCode = "INVALID_PAGE_PATH"

	ErrCodeRoleNotFound          ErrorCode = "ROLE_NOT_FOUND"
	ErrCodeOrganizationNotFound  ErrorCode = "ORGANIZATION_NOT_FOUND"
	ErrCodeNoOrganizationForRole ErrorCode = "NO_ORGANIZATION_FOR_ROLE"
	ErrCodeNoActiveOrganization  ErrorCode = "NO_ACTIVE_ORGANIZATION"
	ErrCodeSystemRoleImmutable   ErrorCode = "SYSTEM_ROLE_IMMUTABLE"
	ErrCodeRoleNameTaken         ErrorCode = "ROLE_NAME_TAKEN"
	ErrCodeOrganizationSlugTaken ErrorCode = "ORGANIZATION_SLUG_TAKEN"
	ErrCodeNoRoleAssigned        ErrorCode = "NO_ROLE_ASSIGNED"
	ErrCodePermissionDenied      ErrorCode = "PERMISSION_DENIED"

	ErrCodeUnauthorizedAccess ErrorCode = "UNAUTHORIZED_ACCESS"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"

	ErrCodeRemoteReadFailed  ErrorCode = "REMOTE_READ_FAILED"
	ErrCodeRemoteWriteFailed ErrorCode = "REMOTE_WRITE_FAILED"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {

			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

var (
	ErrRoleNotFound          = NewNotFoundError("Role not found", ErrCodeRoleNotFound)
	ErrOrganizationNotFound  = NewNotFoundError("Organization not found", ErrCodeOrganizationNotFound)
	ErrNoOrganizationForRole = NewValidationError("role has no organization", ErrCodeNoOrganizationForRole)
	ErrNoActiveOrganization  = NewValidationError("no active organization", ErrCodeNoActiveOrganization)
	ErrSystemRoleImmutable   = NewForbiddenError("system roles cannot be modified", ErrCodeSystemRoleImmutable)
	ErrInvalidVisibilityMode = NewValidationError("visibility mode must be one of full, masked, hidden", ErrCodeInvalidVisibilityMode)
	ErrNoRoleAssigned        = NewForbiddenError("no role assigned in this organization", ErrCodeNoRoleAssigned)
	ErrPermissionDenied      = NewForbiddenError("permission denied", ErrCodePermissionDenied)

	ErrUnauthorizedAccess = NewUnauthorizedError("authentication required", ErrCodeUnauthorizedAccess)
	ErrInvalidToken       = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired       = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
)

// NewRemoteWriteError wraps a failed store write. The caller's state is left untouched.
func NewRemoteWriteError(op string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodeRemoteWriteFailed,
		Message:    fmt.Sprintf("failed to %s", op),
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

func NewRemoteReadError(op string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodeRemoteReadFailed,
		Message:    fmt.Sprintf("failed to %s", op),
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// Is matches AppErrors by code so sentinel values work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
