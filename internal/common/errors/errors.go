// Package errors provides typed application errors for caephub.
// Every failure a tool call can return carries a stable error code;
// transports map the code to their own envelope (HTTP status, MCP error text).
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes returned to agents.
const (
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeValidationError      = "VALIDATION_ERROR"
	ErrCodeInternal             = "INTERNAL"
	ErrCodeContentTooLong       = "CONTENT_TOO_LONG"
	ErrCodeMetadataTooLong      = "METADATA_TOO_LONG"
	ErrCodeBlobTooLong          = "BLOB_TOO_LONG"
	ErrCodeFullModeForbidden    = "FULL_MODE_FORBIDDEN_IN_POLLING"
	ErrCodeDoneGateFailed       = "DONE_GATE_FAILED"
	ErrCodeVerifierRequired     = "VERIFIER_REQUIRED"
	ErrCodeProfileMismatch      = "PROFILE_MISMATCH"
	ErrCodeDependencyCycle      = "DEPENDENCY_CYCLE"
	ErrCodeDependencyMissing    = "DEPENDENCY_MISSING"
	ErrCodeClaimConflict        = "CLAIM_CONFLICT"
	ErrCodeClaimExpired         = "CLAIM_EXPIRED"
	ErrCodeClaimNotHeld         = "CLAIM_NOT_HELD"
	ErrCodeArtifactAccessDenied = "ARTIFACT_ACCESS_DENIED"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with an explicit code and conflict-class HTTP status.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusConflict}
}

// NotFound creates a not found error for a resource.
func NotFound(resource string, id any) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s %v not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Internal creates an internal error with a wrapped underlying error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ContentTooLong signals a message content exceeding the configured cap.
func ContentTooLong(got, max int) *AppError {
	return &AppError{
		Code:       ErrCodeContentTooLong,
		Message:    fmt.Sprintf("message content is %d chars, limit is %d", got, max),
		HTTPStatus: http.StatusBadRequest,
	}
}

// MetadataTooLong signals message metadata exceeding the configured cap.
func MetadataTooLong(got, max int) *AppError {
	return &AppError{
		Code:       ErrCodeMetadataTooLong,
		Message:    fmt.Sprintf("message metadata is %d chars, limit is %d", got, max),
		HTTPStatus: http.StatusBadRequest,
	}
}

// BlobTooLong signals a stored blob payload exceeding the configured cap.
func BlobTooLong(got, max int) *AppError {
	return &AppError{
		Code:       ErrCodeBlobTooLong,
		Message:    fmt.Sprintf("stored blob payload is %d chars, limit is %d", got, max),
		HTTPStatus: http.StatusBadRequest,
	}
}

// FullModeForbidden signals response_mode=full inside a polling read.
func FullModeForbidden() *AppError {
	return &AppError{
		Code:       ErrCodeFullModeForbidden,
		Message:    "response_mode=full is not allowed in polling reads; use compact, tiny or nano",
		HTTPStatus: http.StatusBadRequest,
	}
}

// DoneGateFailed signals a done transition missing confidence, verification or evidence.
func DoneGateFailed(reason string) *AppError {
	return &AppError{
		Code:       ErrCodeDoneGateFailed,
		Message:    "done gate failed: " + reason,
		HTTPStatus: http.StatusConflict,
	}
}

// VerifierRequired signals a strict-mode done transition without an independent verifier.
func VerifierRequired(reason string) *AppError {
	return &AppError{
		Code:       ErrCodeVerifierRequired,
		Message:    "strict consistency mode requires an independent verifier: " + reason,
		HTTPStatus: http.StatusConflict,
	}
}

// ProfileMismatch signals an agent runtime profile incompatible with the task execution mode.
func ProfileMismatch(agentMode, taskMode string) *AppError {
	return &AppError{
		Code:       ErrCodeProfileMismatch,
		Message:    fmt.Sprintf("agent runtime mode %q cannot execute task mode %q", agentMode, taskMode),
		HTTPStatus: http.StatusConflict,
	}
}

// DependencyCycle signals a depends_on edge that would close a cycle.
func DependencyCycle(taskID int64) *AppError {
	return &AppError{
		Code:       ErrCodeDependencyCycle,
		Message:    fmt.Sprintf("dependency on task %d would create a cycle", taskID),
		HTTPStatus: http.StatusBadRequest,
	}
}

// DependencyMissing signals a depends_on id that references no existing task.
func DependencyMissing(taskID int64) *AppError {
	return &AppError{
		Code:       ErrCodeDependencyMissing,
		Message:    fmt.Sprintf("dependency task %d does not exist", taskID),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ClaimConflict signals a live claim held by another agent.
func ClaimConflict(taskID int64, holder string) *AppError {
	return &AppError{
		Code:       ErrCodeClaimConflict,
		Message:    fmt.Sprintf("task %d is claimed by agent %s", taskID, holder),
		HTTPStatus: http.StatusConflict,
	}
}

// ClaimExpired signals an operation against a lease that has lapsed.
func ClaimExpired(taskID int64) *AppError {
	return &AppError{
		Code:       ErrCodeClaimExpired,
		Message:    fmt.Sprintf("claim lease on task %d has expired", taskID),
		HTTPStatus: http.StatusConflict,
	}
}

// ClaimNotHeld signals an operation requiring a claim the agent does not hold.
func ClaimNotHeld(taskID int64, agentID string) *AppError {
	return &AppError{
		Code:       ErrCodeClaimNotHeld,
		Message:    fmt.Sprintf("agent %s holds no claim on task %d", agentID, taskID),
		HTTPStatus: http.StatusConflict,
	}
}

// ArtifactAccessDenied signals a caller without access to the referenced artifact.
func ArtifactAccessDenied(artifactID, agentID string) *AppError {
	return &AppError{
		Code:       ErrCodeArtifactAccessDenied,
		Message:    fmt.Sprintf("agent %s has no access to artifact %s", agentID, artifactID),
		HTTPStatus: http.StatusForbidden,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       ErrCodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Code returns the stable error code for an error, or INTERNAL for plain errors.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatusForCode maps a stable error code to its HTTP status. Used when
// replaying cached error envelopes that no longer carry a live AppError.
func HTTPStatusForCode(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeValidationError, ErrCodeContentTooLong, ErrCodeMetadataTooLong,
		ErrCodeBlobTooLong, ErrCodeFullModeForbidden,
		ErrCodeDependencyCycle, ErrCodeDependencyMissing:
		return http.StatusBadRequest
	case ErrCodeArtifactAccessDenied:
		return http.StatusForbidden
	case ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return Code(err) == ErrCodeNotFound
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
