// Package errors provides the error taxonomy shared by the scoring engine, its
// collaborators and the BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Engine errors
const (
	ErrCodeConfiguration        ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeIncompleteAssessment ErrorCode = "INCOMPLETE_ASSESSMENT"
	ErrCodeScoring              ErrorCode = "SCORING_ERROR"
	ErrCodeLifecycle            ErrorCode = "LIFECYCLE_ERROR"
)

// Collaborator errors
const (
	ErrCodeAssessmentNotFound ErrorCode = "ASSESSMENT_NOT_FOUND"
	ErrCodeStartupNotFound    ErrorCode = "STARTUP_NOT_FOUND"
	ErrCodeVersionConflict    ErrorCode = "VERSION_CONFLICT"
	ErrCodeResponseRejected   ErrorCode = "RESPONSE_REJECTED"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeCacheUnavailable         ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeSnapshotIndexFailed      ErrorCode = "SNAPSHOT_INDEX_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeBrokerUnavailable        ErrorCode = "BROKER_UNAVAILABLE"
	ErrCodeBrokerTimeout            ErrorCode = "BROKER_TIMEOUT"
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
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
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

// NewConfigurationError reports an invalid KPI registry document. group names
// the offending weight group, rule or definition.
func NewConfigurationError(group, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfiguration,
		Message:   fmt.Sprintf("Invalid configuration in %s", group),
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"group": group},
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigurationErrors folds several registry problems into one error.
func NewConfigurationErrors(problems []string) *StandardError {
	groups := make([]string, len(problems))
	copy(groups, problems)
	return &StandardError{
		Code:      ErrCodeConfiguration,
		Message:   fmt.Sprintf("Invalid configuration: %d problem(s)", len(problems)),
		Details:   strings.Join(problems, "; "),
		Retryable: false,
		Metadata:  map[string]interface{}{"problems": groups},
		Timestamp: time.Now().UTC(),
	}
}

// NewIncompleteAssessmentError lists the required applicable KPIs without a response.
func NewIncompleteAssessmentError(missing []string) *StandardError {
	ids := make([]string, len(missing))
	copy(ids, missing)
	sort.Strings(ids)
	return &StandardError{
		Code:      ErrCodeIncompleteAssessment,
		Message:   "Assessment has unanswered required KPIs",
		Details:   fmt.Sprintf("missing: %s", strings.Join(ids, ", ")),
		Retryable: false,
		Metadata:  map[string]interface{}{"missingKpis": ids},
		Timestamp: time.Now().UTC(),
	}
}

// NewScoringError reports a response that fails its KPI's declared type or range.
func NewScoringError(kpiID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeScoring,
		Message:   fmt.Sprintf("Invalid response for KPI %s", kpiID),
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"kpiId": kpiID},
		Timestamp: time.Now().UTC(),
	}
}

// NewLifecycleError reports an illegal status transition.
func NewLifecycleError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLifecycle,
		Message:   "Illegal assessment transition",
		Details:   fmt.Sprintf("%s -> %s", from, to),
		Retryable: false,
		Metadata:  map[string]interface{}{"from": from, "to": to},
		Timestamp: time.Now().UTC(),
	}
}

func NewAssessmentNotFoundError(assessmentID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAssessmentNotFound,
		Message:   "Assessment not found",
		Details:   fmt.Sprintf("assessmentId: %s", assessmentID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewStartupNotFoundError(startupID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStartupNotFound,
		Message:   "Startup not found",
		Details:   fmt.Sprintf("startupId: %s", startupID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewVersionConflictError is returned when an optimistic update loses a race.
func NewVersionConflictError(assessmentID string, version int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeVersionConflict,
		Message:   "Assessment was modified concurrently",
		Details:   fmt.Sprintf("assessmentId: %s, expectedVersion: %d", assessmentID, version),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewResponseRejectedError reports answers that are not legal for the assessment.
func NewResponseRejectedError(rejected map[string]string) *StandardError {
	ids := make([]string, 0, len(rejected))
	for id := range rejected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s: %s", id, rejected[id])
	}
	return &StandardError{
		Code:      ErrCodeResponseRejected,
		Message:   "One or more responses were rejected",
		Details:   strings.Join(parts, "; "),
		Retryable: false,
		Metadata:  map[string]interface{}{"rejected": rejected},
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid job input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(queryType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Database query timeout",
		Details:   fmt.Sprintf("queryType: %s", queryType),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewCacheUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Breakdown cache unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewSnapshotIndexFailedError(assessmentID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSnapshotIndexFailed,
		Message:   "Failed to index published snapshot",
		Details:   fmt.Sprintf("assessmentId: %s, error: %s", assessmentID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewBrokerUnavailableError wraps a failed Zeebe gateway call.
func NewBrokerUnavailableError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBrokerUnavailable,
		Message:   "Zeebe gateway unavailable",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewBrokerTimeoutError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBrokerTimeout,
		Message:   "Zeebe gateway timeout",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes where they differ.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeConfiguration:        "CONFIGURATION_ERROR",
	ErrCodeIncompleteAssessment: "ASSESSMENT_INCOMPLETE",
	ErrCodeScoring:              "SCORING_ERROR",
	ErrCodeLifecycle:            "ILLEGAL_TRANSITION",
	ErrCodeAssessmentNotFound:   "ASSESSMENT_NOT_FOUND",
	ErrCodeStartupNotFound:      "STARTUP_NOT_FOUND",
	ErrCodeResponseRejected:     "RESPONSE_REJECTED",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSnapshotIndexFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeBrokerUnavailable,
		ErrCodeVersionConflict:
		return 3

	case ErrCodeQueryTimeout,
		ErrCodeBrokerTimeout,
		ErrCodeCacheUnavailable:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
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
	if missing, ok := stdErr.Metadata["missingKpis"]; ok {
		vars["missingKpis"] = missing
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

// AsStandard unwraps err into a *StandardError when one is in the chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Code == code
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case code == ErrCodeConfiguration:
		return "CONFIGURATION"
	case code == ErrCodeIncompleteAssessment || code == ErrCodeLifecycle:
		return "LIFECYCLE"
	case code == ErrCodeScoring || code == ErrCodeResponseRejected || code == ErrCodeInvalidInput:
		return "VALIDATION"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") || code == ErrCodeVersionConflict:
		return "DATABASE"
	case strings.Contains(codeStr, "CACHE"):
		return "CACHE"
	case strings.Contains(codeStr, "SNAPSHOT"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "BROKER"):
		return "WORKFLOW"
	case strings.Contains(codeStr, "NOT_FOUND"):
		return "NOT_FOUND"
	default:
		return "OTHER"
	}
}
