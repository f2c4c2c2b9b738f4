// Package flowerrors holds the error taxonomy shared by the engine, the
// repositories and the HTTP layer.
package flowerrors

import (
	"errors"
	"fmt"
	"time"
)

// Codes recorded on failed instances.
const (
	CodeStepFailed       = "STEP_FAILED"
	CodeStepTimeout      = "STEP_TIMEOUT"
	CodeApprovalRejected = "APPROVAL_REJECTED"
	CodeApprovalExpired  = "APPROVAL_EXPIRED"
	CodeApprovalInvalid  = "APPROVAL_INVALID"
	CodeWorkflowTimeout  = "WORKFLOW_TIMEOUT"
	CodeCancelled        = "CANCELLED"
	CodeInternal         = "INTERNAL"
)

// ValidationError reports a malformed definition, trigger, condition tree or request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError with a formatted message.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown definition, instance, task or approver.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError reports a write that lost a race or targeted a record that is
// already in a terminal state.
type ConflictError struct {
	Resource string
	ID       string
	Message  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, e.Message)
}

func Conflict(resource, id, format string, args ...any) error {
	return &ConflictError{Resource: resource, ID: id, Message: fmt.Sprintf(format, args...)}
}

// StepExecutionError is returned by the step executor once every attempt failed.
type StepExecutionError struct {
	StepIndex int
	StepName  string
	Attempts  int
	Err       error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %d (%s) failed after %d attempt(s): %v", e.StepIndex, e.StepName, e.Attempts, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// StepTimeoutError is a StepExecutionError whose last attempt lost the race
// against the step timeout.
type StepTimeoutError struct {
	StepExecutionError
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %d (%s) timed out after %s (%d attempt(s))", e.StepIndex, e.StepName, e.Timeout, e.Attempts)
}

func (e *StepTimeoutError) Unwrap() error { return e.Err }

// As lets errors.As match *StepExecutionError for a timeout.
func (e *StepTimeoutError) As(target any) bool {
	if t, ok := target.(**StepExecutionError); ok {
		*t = &e.StepExecutionError
		return true
	}
	return false
}

// ErrAttemptTimeout marks a single handler call that exceeded the step timeout.
var ErrAttemptTimeout = errors.New("step attempt timed out")

// ApprovalExpiredError is recorded when an approval task passes its deadline.
type ApprovalExpiredError struct {
	TaskID    string
	StepIndex int
	Deadline  time.Time
}

func (e *ApprovalExpiredError) Error() string {
	return fmt.Sprintf("approval expired: task %s at step %d passed its deadline %s", e.TaskID, e.StepIndex, e.Deadline.UTC().Format(time.RFC3339))
}

// ApprovalRejectedError is recorded when an approver vetoes a task.
type ApprovalRejectedError struct {
	TaskID    string
	StepIndex int
	Approver  string
	Comment   string
}

func (e *ApprovalRejectedError) Error() string {
	msg := fmt.Sprintf("approval rejected by %s at step %d", e.Approver, e.StepIndex)
	if e.Comment != "" {
		msg += ": " + e.Comment
	}
	return msg
}

// WorkflowTimeoutError is recorded when an instance exceeds the definition's overall timeout.
type WorkflowTimeoutError struct {
	Timeout time.Duration
}

func (e *WorkflowTimeoutError) Error() string {
	return fmt.Sprintf("workflow exceeded its timeout of %s", e.Timeout)
}

// CancelledError is recorded when an instance is cancelled explicitly.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return "instance cancelled"
	}
	return "instance cancelled: " + e.Reason
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var v *ConflictError
	return errors.As(err, &v)
}

// Code maps an error onto the code stored on a failed instance.
func Code(err error) string {
	var (
		timeout  *StepTimeoutError
		step     *StepExecutionError
		rejected *ApprovalRejectedError
		expired  *ApprovalExpiredError
		wfTime   *WorkflowTimeoutError
		cancel   *CancelledError
		invalid  *ValidationError
	)
	switch {
	case errors.As(err, &timeout):
		return CodeStepTimeout
	case errors.As(err, &step):
		return CodeStepFailed
	case errors.As(err, &rejected):
		return CodeApprovalRejected
	case errors.As(err, &expired):
		return CodeApprovalExpired
	case errors.As(err, &wfTime):
		return CodeWorkflowTimeout
	case errors.As(err, &cancel):
		return CodeCancelled
	case errors.As(err, &invalid):
		return CodeApprovalInvalid
	default:
		return CodeInternal
	}
}
