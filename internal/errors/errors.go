package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
)

// AppError represents a structured application error
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Details    any    `json:"details,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		Details:    details,
		Err:        e.Err,
	}
}

// WithError wraps an underlying error
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		Details:    e.Details,
		Err:        err,
	}
}

// WithMessage replaces the operator-facing message while keeping the code
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    message,
		HTTPStatus: e.HTTPStatus,
		Details:    e.Details,
		Err:        e.Err,
	}
}

// Common error definitions
var (
	// Resource errors (404)
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrStudentNotFound = &AppError{
		Code:       "STUDENT_NOT_FOUND",
		Message:    "Student not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrBuildNotFound = &AppError{
		Code:       "BUILD_NOT_FOUND",
		Message:    "Build not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrBuildConfigNotFound = &AppError{
		Code:       "BUILD_CONFIG_NOT_FOUND",
		Message:    "Build config not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrDeploymentNotFound = &AppError{
		Code:       "DEPLOYMENT_NOT_FOUND",
		Message:    "Deployment not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrRegistryNotFound = &AppError{
		Code:       "REGISTRY_NOT_FOUND",
		Message:    "Registry not found",
		HTTPStatus: http.StatusNotFound,
	}

	// Validation errors (400)
	ErrInvalidInput = &AppError{
		Code:       "INVALID_INPUT",
		Message:    "Invalid input data",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidClassKey = &AppError{
		Code:       "INVALID_CLASS_KEY",
		Message:    "Unknown project class key",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrClassMismatch = &AppError{
		Code:       "CLASS_MISMATCH",
		Message:    "Project class does not match the student's class",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrMissingRepoURL = &AppError{
		Code:       "MISSING_REPO_URL",
		Message:    "repo_url is required for builds",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrImageRepoUnresolved = &AppError{
		Code:       "IMAGE_REPO_UNRESOLVED",
		Message:    "Image repository is not configured",
		HTTPStatus: http.StatusBadRequest,
	}

	// Authorization errors (403)
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}
	ErrWebhookSignature = &AppError{
		Code:       "WEBHOOK_SIGNATURE_INVALID",
		Message:    "Invalid webhook signature",
		HTTPStatus: http.StatusForbidden,
	}

	// Conflict errors (409)
	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Resource conflict",
		HTTPStatus: http.StatusConflict,
	}
	ErrStateConflict = &AppError{
		Code:       "STATE_CONFLICT",
		Message:    "Operation not permitted in the current state",
		HTTPStatus: http.StatusConflict,
	}
	ErrAlreadyExists = &AppError{
		Code:       "ALREADY_EXISTS",
		Message:    "Resource already exists",
		HTTPStatus: http.StatusConflict,
	}

	// Cluster errors (502/503)
	ErrCluster = &AppError{
		Code:       "CLUSTER_ERROR",
		Message:    "Kubernetes operation failed",
		HTTPStatus: http.StatusBadGateway,
	}
	ErrClusterUnavailable = &AppError{
		Code:       "CLUSTER_UNAVAILABLE",
		Message:    "Kubernetes client is not available",
		HTTPStatus: http.StatusServiceUnavailable,
	}
	ErrStorageUnavailable = &AppError{
		Code:       "STORAGE_UNAVAILABLE",
		Message:    "Object storage is not configured",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	// Internal errors (500)
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}
	ErrDatabaseError = &AppError{
		Code:       "DATABASE_ERROR",
		Message:    "Database operation failed",
		HTTPStatus: http.StatusInternalServerError,
	}
	ErrDatabaseTimeout = &AppError{
		Code:       "DATABASE_TIMEOUT",
		Message:    "Database operation timed out",
		HTTPStatus: http.StatusGatewayTimeout,
	}
)

// New creates a new AppError
func New(code, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an error with application error information
func Wrap(err error, appErr *AppError) *AppError {
	if err == nil {
		return appErr
	}
	return appErr.WithError(err)
}

// Is checks if an error is a specific AppError
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetHTTPStatus extracts HTTP status from error
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// GetErrorResponse converts error to API response
func GetErrorResponse(err error) map[string]any {
	var appErr *AppError
	if errors.As(err, &appErr) {
		response := map[string]any{
			"error": map[string]any{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		}
		if appErr.Details != nil {
			response["error"].(map[string]any)["details"] = appErr.Details
		}
		return response
	}

	return map[string]any{
		"error": map[string]any{
			"code":    "INTERNAL_ERROR",
			"message": "An unexpected error occurred",
		},
	}
}

// WrapDBError wraps a database error with appropriate semantic error type
func WrapDBError(err error, notFoundErr *AppError) *AppError {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		if notFoundErr != nil {
			return notFoundErr.WithError(err)
		}
		return ErrNotFound.WithError(err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrDatabaseTimeout.WithError(err)
	}

	if errors.Is(err, context.Canceled) {
		return ErrDatabaseError.WithError(err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return wrapPQError(pqErr)
	}

	return ErrDatabaseError.WithError(err)
}

// wrapPQError converts PostgreSQL errors to AppErrors
func wrapPQError(pqErr *pq.Error) *AppError {
	switch pqErr.Code {
	// Unique constraint violation
	case "23505":
		return ErrAlreadyExists.WithError(pqErr)

	// Foreign key violation
	case "23503":
		return ErrConflict.WithError(pqErr).WithDetails(map[string]string{
			"constraint": pqErr.Constraint,
		})

	// Not null violation
	case "23502":
		return ErrInvalidInput.WithError(pqErr).WithDetails(map[string]string{
			"column": pqErr.Column,
		})

	default:
		return ErrDatabaseError.WithError(pqErr)
	}
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus == http.StatusNotFound
	}
	return false
}

// IsUniqueViolation checks if an error is a unique constraint violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
