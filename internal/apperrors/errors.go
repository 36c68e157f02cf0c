package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to clients. Handlers map AppError to HTTP responses;
// codes stay stable even if messages are reworded.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeInvalidSigningLink = "INVALID_SIGNING_LINK"
	CodeLinkExpired        = "SIGNING_LINK_EXPIRED"
	CodeOutOfTurn          = "OUT_OF_TURN"
	CodeRoleMismatch       = "ROLE_MISMATCH"
	CodeConsentRequired    = "LOCATION_CONSENT_REQUIRED"
	CodeDocumentTerminal   = "DOCUMENT_ALREADY_FINALIZED"
	CodeWriteConflict      = "WRITE_CONFLICT"
	CodeNotFound           = "NOT_FOUND"
	CodeIntegrityMismatch  = "INTEGRITY_MISMATCH"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeConfigMissing      = "CONFIGURATION_MISSING"
)

// Sentinels for flow-control checks inside services.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvariant     = errors.New("aggregate invariant violated")
	ErrWriteConflict = errors.New("aggregate write conflict")
)

type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// IsAppError unwraps an AppError from an error chain.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HTTPStatus resolves the status code for any error; unknown errors are 500.
func HTTPStatus(err error) int {
	if appErr, ok := IsAppError(err); ok {
		return appErr.HTTPStatus
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func Validation(message string) *AppError {
	return &AppError{Code: CodeValidationFailed, Message: message, HTTPStatus: http.StatusBadRequest}
}

func InvalidLink(message string) *AppError {
	return &AppError{Code: CodeInvalidSigningLink, Message: message, HTTPStatus: http.StatusUnauthorized}
}

func LinkExpired(message string) *AppError {
	return &AppError{Code: CodeLinkExpired, Message: message, HTTPStatus: http.StatusGone}
}

func OutOfTurn(message string) *AppError {
	return &AppError{Code: CodeOutOfTurn, Message: message, HTTPStatus: http.StatusForbidden}
}

func RoleMismatch(message string) *AppError {
	return &AppError{Code: CodeRoleMismatch, Message: message, HTTPStatus: http.StatusForbidden}
}

func ConsentRequired(message string) *AppError {
	return &AppError{Code: CodeConsentRequired, Message: message, HTTPStatus: http.StatusBadRequest}
}

func Conflict(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusConflict}
}

func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound, Err: ErrNotFound}
}

func Integrity(message string) *AppError {
	return &AppError{Code: CodeIntegrityMismatch, Message: message, HTTPStatus: http.StatusInternalServerError}
}

func Storage(message string, err error) *AppError {
	return &AppError{Code: CodeStorageUnavailable, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

func Configuration(message string) *AppError {
	return &AppError{Code: CodeConfigMissing, Message: message, HTTPStatus: http.StatusInternalServerError}
}
