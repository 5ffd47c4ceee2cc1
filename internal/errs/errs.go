// Package errs defines the pipeline's error taxonomy: sentinel errors for
// each failure class the pipeline distinguishes, plus contextual wrapper
// types that carry the stage or field a failure occurred in.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline's taxonomy. Earlier stages
// (requirements/architecture/implementer) propagate these as terminal
// errors; later stages (review/repair) catch and degrade instead.
var (
	// ErrInputInvalid covers an empty-entities/empty-endpoints charter,
	// an unsupported start stage, or a missing architecture override when
	// resuming at the implementer stage.
	ErrInputInvalid = errors.New("input invalid")

	// ErrLLMOutputInvalid indicates a structured LLM response could not be
	// parsed even after one stricter retry.
	ErrLLMOutputInvalid = errors.New("llm output invalid")

	// ErrSandboxUnavailable indicates the container CLI is missing, the
	// port range is exhausted, or the container never became ready.
	ErrSandboxUnavailable = errors.New("sandbox unavailable")

	// ErrRuntimeRepairExhausted indicates the repair budget was consumed
	// with failures still outstanding. Not fatal on its own: the caller
	// still releases the latest bundle with approved=false.
	ErrRuntimeRepairExhausted = errors.New("runtime repair budget exhausted")

	// ErrInvalidStartState indicates RunPipeline was asked to resume at
	// the implementer stage without a mandatory architecture override.
	ErrInvalidStartState = errors.New("invalid start state")
)

// StageError wraps an error with the pipeline stage it occurred in.
type StageError struct {
	Stage string
	Err   error
}

// Error implements error.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

// Unwrap allows errors.Is/errors.As to see through StageError.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with the stage it occurred in.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// ValidationError wraps a field-level validation error with the
// component and field it was raised against, mirroring the config
// package's wrapper-error pattern.
type ValidationError struct {
	Component string
	Field     string
	Err       error
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

// Unwrap allows errors.Is/errors.As to see through ValidationError.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a ValidationError.
func NewValidationError(component, field string, err error) *ValidationError {
	return &ValidationError{Component: component, Field: field, Err: err}
}
