package toolplan

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeToolNotFound  = "UNKNOWN_TOOL"
	ErrCodeToolExecution = "TOOL_EXECUTION_ERROR"
	ErrCodeToolReported  = "TOOL_REPORTED_ERROR"
	ErrCodeEmptyResult   = "EMPTY_RESULT"
	ErrCodeArgResolution = "ARGUMENT_RESOLUTION_ERROR"
	ErrCodePlanNotFound  = "PLAN_NOT_FOUND"
	ErrCodeStore         = "STORE_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

var (
	// ErrPlanNotFound is matched by errors.Is for missing session plans.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrToolNotFound is matched by errors.Is for unknown tool names.
	ErrToolNotFound = errors.New("tool not found")
)

// ToolPlanError is the error type used across the engine.
type ToolPlanError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeToolNotFound)
	Message string // A human-readable message
	Stage   string // Where the error occurred (e.g., "resolve", "execute", "store")
	Cause   error
}

// Error implements the error interface.
func (e *ToolPlanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *ToolPlanError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ToolPlanError.
func NewError(code, stage, message string, cause error) *ToolPlanError {
	return &ToolPlanError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *ToolPlanError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewToolNotFoundError(stage, toolName string) *ToolPlanError {
	return NewError(ErrCodeToolNotFound, stage, fmt.Sprintf("unknown tool '%s'", toolName), ErrToolNotFound)
}

func NewToolExecutionError(stage, toolName string, cause error) *ToolPlanError {
	return NewError(ErrCodeToolExecution, stage, fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewToolReportedError(stage, toolName, reported string) *ToolPlanError {
	return NewError(ErrCodeToolReported, stage, fmt.Sprintf("tool '%s' reported an error: %s", toolName, reported), nil)
}

func NewEmptyResultError(stage, toolName string) *ToolPlanError {
	return NewError(ErrCodeEmptyResult, stage, fmt.Sprintf("tool '%s': no result returned", toolName), nil)
}

func NewArgResolutionError(stage, stepID string, cause error) *ToolPlanError {
	return NewError(ErrCodeArgResolution, stage, fmt.Sprintf("failed to resolve parameters for step '%s'", stepID), cause)
}

func NewPlanNotFoundError(stage, sessionID string) *ToolPlanError {
	return NewError(ErrCodePlanNotFound, stage, fmt.Sprintf("no active plan for session '%s'", sessionID), ErrPlanNotFound)
}

func NewStoreError(stage, operation string, cause error) *ToolPlanError {
	return NewError(ErrCodeStore, stage, fmt.Sprintf("store operation '%s' failed", operation), cause)
}

func NewConfigurationError(message string, cause error) *ToolPlanError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewInternalError(stage, message string, cause error) *ToolPlanError {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// IsToolPlanError checks if an error is a ToolPlanError.
func IsToolPlanError(err error) bool {
	var tpErr *ToolPlanError
	return errors.As(err, &tpErr)
}

// ErrorCode returns the code of the first ToolPlanError in err's chain, or "".
func ErrorCode(err error) string {
	var tpErr *ToolPlanError
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}
	return ""
}

// IsRetryable reports whether a step failure with this error may succeed on another attempt.
// Only unknown tools are permanent; every other failure enters the retry path.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ErrorCode(err) != ErrCodeToolNotFound
}

// Summary returns the message without the stage and code prefix.
func (e *ToolPlanError) Summary() string {
	if e.Cause == nil || e.Cause == ErrToolNotFound || e.Cause == ErrPlanNotFound {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

// HumanMessage renders err for a person reading a step or plan summary.
func HumanMessage(err error) string {
	if err == nil {
		return ""
	}
	var tpErr *ToolPlanError
	if errors.As(err, &tpErr) {
		return tpErr.Summary()
	}
	return err.Error()
}
