// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	ErrCodeEntityNotFound        ErrorCode = "ENTITY_NOT_FOUND"
	ErrCodeRecordNotFound        ErrorCode = "MATCH_RECORD_NOT_FOUND"
	ErrCodeApprovalConflict      ErrorCode = "APPROVAL_CONFLICT"
	ErrCodeUnauthorizedReviewer  ErrorCode = "UNAUTHORIZED_REVIEWER"
	ErrCodeConfigVersionMismatch ErrorCode = "CONFIG_VERSION_MISMATCH"
	ErrCodeInvalidWeightConfig   ErrorCode = "INVALID_WEIGHT_CONFIG"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeSearchQueryFailed        ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeScoringTimeout           ErrorCode = "SCORING_TIMEOUT"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeKeycloakUnavailable      ErrorCode = "KEYCLOAK_UNAVAILABLE"
	ErrCodeWorkflowEngineFailed     ErrorCode = "WORKFLOW_ENGINE_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, retryable bool, message, details string) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, false, "Job variables failed validation", details)
}

func NewEntityNotFoundError(entityID string) *StandardError {
	return newError(ErrCodeEntityNotFound, false, "Entity not found", fmt.Sprintf("no attribute snapshot for %s", entityID))
}

func NewRecordNotFoundError(recordID string) *StandardError {
	return newError(ErrCodeRecordNotFound, false, "Match record not found", fmt.Sprintf("record %s does not exist in this tenant", recordID))
}

func NewApprovalConflictError(details string) *StandardError {
	return newError(ErrCodeApprovalConflict, false, "Match record already decided differently", details)
}

func NewUnauthorizedReviewerError(details string) *StandardError {
	return newError(ErrCodeUnauthorizedReviewer, false, "Reviewer is not allowed to decide matches", details)
}

func NewConfigVersionMismatchError(details string) *StandardError {
	return newError(ErrCodeConfigVersionMismatch, false, "Weight configuration changed concurrently", details)
}

func NewInvalidWeightConfigError(details string) *StandardError {
	return newError(ErrCodeInvalidWeightConfig, false, "Weight configuration rejected", details)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, true, "Database connection failed", err.Error())
}

func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, true, fmt.Sprintf("Query failed during %s", operation), err.Error())
}

func NewSearchQueryFailedError(err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, true, "Candidate search failed", err.Error())
}

func NewScoringTimeoutError(err error) *StandardError {
	return newError(ErrCodeScoringTimeout, true, "Scoring did not finish before the job deadline", err.Error())
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, true, fmt.Sprintf("Failed to send %s notification", channel), err.Error())
}

func NewKeycloakUnavailableError(err error) *StandardError {
	return newError(ErrCodeKeycloakUnavailable, true, "Token introspection unavailable", err.Error())
}

func NewWorkflowEngineFailedError(operation string, retryable bool, err error) *StandardError {
	return newError(ErrCodeWorkflowEngineFailed, retryable, fmt.Sprintf("Zeebe operation %s failed", operation), err.Error())
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, false, "Unexpected error", err.Error())
}

// ==========================
// 4. BPMN Mapping and Retries
// ==========================

// BPMNErrorMapping renames internal codes for process models; unmapped codes
// are thrown as-is.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeUnauthorizedReviewer:  "REVIEWER_NOT_AUTHORIZED",
	ErrCodeConfigVersionMismatch: "STALE_WEIGHT_CONFIG",
	ErrCodeScoringTimeout:        "SCORING_TIMEOUT",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeKeycloakUnavailable,
		ErrCodeWorkflowEngineFailed:
		return 3

	case ErrCodeScoringTimeout:
		return 2

	default:
		return 0
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "REVIEWER") || strings.Contains(codeStr, "KEYCLOAK"):
		return "AUTH"
	case strings.Contains(codeStr, "APPROVAL") || strings.Contains(codeStr, "RECORD"):
		return "APPROVAL"
	case strings.Contains(codeStr, "CONFIG"):
		return "CONFIGURATION"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "NOT_FOUND"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
