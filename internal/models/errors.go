package models

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// ErrorKind groups application errors by how callers should react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindRateLimited
	KindUnauthorized
	KindForbidden
	KindUnavailable
)

// Stable error codes returned to API clients.
const (
	CodePostNotFound         = "POST_NOT_FOUND"
	CodePostAlreadyApproved  = "POST_ALREADY_APPROVED"
	CodePostNotApproved      = "POST_NOT_APPROVED"
	CodePostAlreadySettled   = "POST_ALREADY_SETTLED"
	CodePostInvalidState     = "POST_INVALID_TRANSITION"
	CodePostConcurrentUpdate = "POST_CONCURRENT_UPDATE"
	CodeOTPInvalid           = "OTP_INVALID"
	CodeOTPExpired           = "OTP_EXPIRED"
	CodeVerifyRateLimited    = "VERIFY_RATE_LIMITED"
	CodeValidation           = "VALIDATION_ERROR"
	CodeSMSDeliveryFailed    = "SMS_DELIVERY_FAILED"
	CodeImageDeleteFailed    = "IMAGE_DELETE_FAILED"
	CodeIndexUnavailable     = "INDEX_UNAVAILABLE"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL_ERROR"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind onto a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Kind:    KindNotFound,
		Code:    CodePostNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewAlreadyApprovedError(id string) *AppError {
	return &AppError{
		Kind:    KindConflict,
		Code:    CodePostAlreadyApproved,
		Message: fmt.Sprintf("post %s has already been approved", id),
	}
}

func NewNotApprovedError(id string) *AppError {
	return &AppError{
		Kind:    KindConflict,
		Code:    CodePostNotApproved,
		Message: fmt.Sprintf("post %s is not approved", id),
	}
}

func NewAlreadySettledError(id string) *AppError {
	return &AppError{
		Kind:    KindConflict,
		Code:    CodePostAlreadySettled,
		Message: fmt.Sprintf("post %s is already settled", id),
	}
}

func NewInvalidTransitionError(id string, from, to Status) *AppError {
	return &AppError{
		Kind:    KindConflict,
		Code:    CodePostInvalidState,
		Message: fmt.Sprintf("post %s cannot move from %s to %s", id, from, to),
	}
}

func NewPostLockedError(id string, status Status) *AppError {
	return &AppError{
		Kind:    KindConflict,
		Code:    CodePostInvalidState,
		Message: fmt.Sprintf("post %s is %s and can no longer be edited", id, status),
	}
}

func NewConcurrentUpdateError(id string, err error) *AppError {
	return &AppError{
		Kind:    KindConflict,
		Code:    CodePostConcurrentUpdate,
		Message: fmt.Sprintf("post %s was modified concurrently", id),
		Err:     err,
	}
}

func NewOTPInvalidError() *AppError {
	return &AppError{
		Kind:    KindValidation,
		Code:    CodeOTPInvalid,
		Message: "Invalid verification code",
	}
}

func NewOTPExpiredError() *AppError {
	return &AppError{
		Kind:    KindValidation,
		Code:    CodeOTPExpired,
		Message: "Verification code has expired",
	}
}

func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Kind:    KindRateLimited,
		Code:    CodeVerifyRateLimited,
		Message: message,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Code:    CodeValidation,
		Message: message,
	}
}

func NewSMSDeliveryError(err error) *AppError {
	return &AppError{
		Kind:    KindUnavailable,
		Code:    CodeSMSDeliveryFailed,
		Message: "Failed to deliver verification code",
		Err:     err,
	}
}

func NewImageDeleteError(err error) *AppError {
	return &AppError{
		Kind:    KindUnavailable,
		Code:    CodeImageDeleteFailed,
		Message: "Failed to delete post images",
		Err:     err,
	}
}

func NewIndexUnavailableError(err error) *AppError {
	return &AppError{
		Kind:    KindUnavailable,
		Code:    CodeIndexUnavailable,
		Message: "Search index is temporarily unavailable",
		Err:     err,
	}
}

func NewServiceUnavailableError(message string, err error) *AppError {
	return &AppError{
		Kind:    KindUnavailable,
		Code:    CodeServiceUnavailable,
		Message: message,
		Err:     err,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Kind:    KindUnauthorized,
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Kind:    KindForbidden,
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// RespondWithError creates a standardized error response. A zero status lets
// the error kind decide.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		if status == 0 {
			status = appErr.HTTPStatus()
		}
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		// Internal causes stay in the logs.
		if appErr.Err != nil && appErr.Kind != KindInternal && appErr.Kind != KindUnavailable {
			response.Details = appErr.Err.Error()
		}
	} else {
		if status == 0 {
			status = http.StatusInternalServerError
		}
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
