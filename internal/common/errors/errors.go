// Package errors provides standardized error values for the recommendation
// pipeline, its collaborators and the workflow workers.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents a standardized internal error code.
type ErrorCode string

// Pipeline taxonomy.
const (
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	ErrCodeParse     ErrorCode = "PARSE_ERROR"
	ErrCodeSchema    ErrorCode = "SCHEMA_ERROR"
	ErrCodeTerminal  ErrorCode = "TERMINAL_ERROR"
	ErrCodeCancelled ErrorCode = "PIPELINE_CANCELLED"
)

// Collaborator and surface errors.
const (
	ErrCodeInvalidInput           ErrorCode = "INVALID_INPUT"
	ErrCodeDatabaseQueryFailed    ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeCacheError             ErrorCode = "CACHE_ERROR"
	ErrCodeSearchQueryFailed      ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeConfigInvalid          ErrorCode = "CONFIG_INVALID"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
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
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error thrown to the Zeebe workflow engine.
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

// ToErrorVariables returns the variables attached to fail/throw commands.
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

// ConvertToBPMNError maps a StandardError onto the workflow error shape.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        GetRetryCount(stdErr.Code),
		ErrorVariables: stdErr.Metadata,
	}
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportError reports an unreachable or failing LLM endpoint.
func NewTransportError(component string, err error) *StandardError {
	return newError(ErrCodeTransport, "LLM endpoint call failed",
		fmt.Sprintf("component: %s, error: %v", component, err), true)
}

// NewParseError reports that every JSON recovery strategy was exhausted.
func NewParseError(component, detail string) *StandardError {
	return newError(ErrCodeParse, "LLM response could not be parsed as JSON",
		fmt.Sprintf("component: %s, %s", component, detail), false)
}

// NewSchemaError reports a parsed document with an unexpected shape.
func NewSchemaError(component, detail string) *StandardError {
	return newError(ErrCodeSchema, "LLM response has an unexpected shape",
		fmt.Sprintf("component: %s, %s", component, detail), false)
}

// NewTerminalError reports an unexpected failure in recommendation generation.
func NewTerminalError(detail string) *StandardError {
	return newError(ErrCodeTerminal, "Recommendation generation failed", detail, false)
}

func NewCancelledError(err error) *StandardError {
	return newError(ErrCodeCancelled, "Pipeline run was cancelled", err.Error(), false)
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid request input", details, false)
}

func NewDatabaseQueryFailedError(query string, err error) *StandardError {
	return newError(ErrCodeDatabaseQueryFailed, "Database query execution error",
		fmt.Sprintf("query: %s, error: %v", query, err), true)
}

func NewCacheError(op string, err error) *StandardError {
	return newError(ErrCodeCacheError, "Cache operation failed",
		fmt.Sprintf("op: %s, error: %v", op, err), true)
}

func NewSearchQueryFailedError(index string, err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, "Elasticsearch query error",
		fmt.Sprintf("index: %s, error: %v", index, err), true)
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %v", channel, err), true)
}

func NewConfigInvalidError(details string) *StandardError {
	return newError(ErrCodeConfigInvalid, "Invalid configuration", details, false)
}

// ==========================
// 4. Classification
// ==========================

// GetRetryCount returns how many workflow retries an error code deserves.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeTransport, ErrCodeNotificationSendFailed:
		return 3
	case ErrCodeDatabaseQueryFailed, ErrCodeSearchQueryFailed, ErrCodeCacheError:
		return 2
	default:
		return 0
	}
}

func IsRetryable(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes for logging and dashboards.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case code == ErrCodeTransport || code == ErrCodeParse || code == ErrCodeSchema || code == ErrCodeTerminal:
		return "PIPELINE"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "CACHE"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

// AsStandardError normalizes any error into a StandardError.
func AsStandardError(err error) *StandardError {
	if err == nil {
		return nil
	}
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
}
