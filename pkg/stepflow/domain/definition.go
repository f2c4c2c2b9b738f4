package domain

import (
	"math"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/condition"
)

// StepType is the closed set of step kinds. Each tag has exactly one handler
// registered in the engine's handler registry.
type StepType string

const (
	StepNotification StepType = "notification"
	StepEmail        StepType = "email"
	StepSMS          StepType = "sms"
	StepWebhook      StepType = "webhook"
	StepFunction     StepType = "function"
	StepDelay        StepType = "delay"
	StepCondition    StepType = "condition"
	StepParallel     StepType = "parallel"
	StepApproval     StepType = "approval"
)

var StepTypes = []StepType{
	StepNotification, StepEmail, StepSMS, StepWebhook, StepFunction,
	StepDelay, StepCondition, StepParallel, StepApproval,
}

func (t StepType) Valid() bool {
	for _, s := range StepTypes {
		if s == t {
			return true
		}
	}
	return false
}

type DefinitionStatus string

const (
	DefinitionDraft    DefinitionStatus = "draft"
	DefinitionActive   DefinitionStatus = "active"
	DefinitionInactive DefinitionStatus = "inactive"
)

// FallbackAction decides what happens after a step exhausted its retry policy.
type FallbackAction string

const (
	FallbackSkip FallbackAction = "skip"
	// FallbackRetry fails the instance like FallbackFail. Retrying belongs to
	// the step's RetryPolicy and is never repeated at the instance level.
	FallbackRetry     FallbackAction = "retry"
	FallbackFail      FallbackAction = "fail"
	FallbackAlternate FallbackAction = "alternate"
)

type TimeoutAction string

const (
	TimeoutFail     TimeoutAction = "fail"
	TimeoutComplete TimeoutAction = "complete"
	TimeoutCallback TimeoutAction = "callback"
)

type RetryPolicy struct {
	MaxAttempts       int     `json:"maxAttempts" yaml:"maxAttempts"`
	BackoffMultiplier float64 `json:"backoffMultiplier" yaml:"backoffMultiplier"`
	InitialDelayMs    int64   `json:"initialDelayMs" yaml:"initialDelayMs"`
}

// Attempts is the total number of handler calls, never less than one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// DelayBefore returns the wait before the given 1-based attempt:
// zero for the first, InitialDelayMs * BackoffMultiplier^(attempt-2) after that.
func (p RetryPolicy) DelayBefore(attempt int) time.Duration {
	if attempt <= 1 || p.InitialDelayMs <= 0 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	ms := float64(p.InitialDelayMs) * math.Pow(mult, float64(attempt-2))
	return time.Duration(ms * float64(time.Millisecond))
}

type ErrorHandling struct {
	ContinueOnError bool           `json:"continueOnError" yaml:"continueOnError"`
	FallbackAction  FallbackAction `json:"fallbackAction,omitempty" yaml:"fallbackAction,omitempty"`
	Alternate       *StepSpec      `json:"alternate,omitempty" yaml:"alternate,omitempty"`
}

type StepSpec struct {
	Name          string         `json:"name" yaml:"name"`
	Type          StepType       `json:"type" yaml:"type"`
	Config        map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	RetryPolicy   RetryPolicy    `json:"retryPolicy" yaml:"retryPolicy"`
	TimeoutMs     int64          `json:"timeoutMs" yaml:"timeoutMs"`
	ErrorHandling ErrorHandling  `json:"errorHandling" yaml:"errorHandling"`
}

func (s StepSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

func (s StepSpec) Clone() StepSpec {
	out := s
	out.Config = CopyMap(s.Config)
	if s.ErrorHandling.Alternate != nil {
		alt := s.ErrorHandling.Alternate.Clone()
		out.ErrorHandling.Alternate = &alt
	}
	return out
}

// Variable schema types.
const (
	VarString  = "string"
	VarNumber  = "number"
	VarBoolean = "boolean"
	VarObject  = "object"
	VarArray   = "array"
	VarAny     = "any"
)

type VariableSpec struct {
	Type         string `json:"type" yaml:"type"`
	DefaultValue any    `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Required     bool   `json:"required" yaml:"required"`
}

type Trigger struct {
	EventName  string          `json:"eventName" yaml:"eventName"`
	Conditions *condition.Node `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

type WorkflowTimeout struct {
	DurationMs int64         `json:"durationMs" yaml:"durationMs"`
	Action     TimeoutAction `json:"action,omitempty" yaml:"action,omitempty"`
	// Callback names a function handler run before the instance is failed.
	Callback string `json:"callback,omitempty" yaml:"callback,omitempty"`
}

func (t WorkflowTimeout) Duration() time.Duration {
	return time.Duration(t.DurationMs) * time.Millisecond
}

// WorkflowDefinition is one immutable version of a named workflow.
type WorkflowDefinition struct {
	ID          string                  `json:"id" yaml:"-"`
	Name        string                  `json:"name" yaml:"name"`
	Type        string                  `json:"type,omitempty" yaml:"type,omitempty"`
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Status      DefinitionStatus        `json:"status" yaml:"status,omitempty"`
	Trigger     Trigger                 `json:"trigger" yaml:"trigger"`
	Steps       []StepSpec              `json:"steps" yaml:"steps"`
	Variables   map[string]VariableSpec `json:"variables,omitempty" yaml:"variables,omitempty"`
	Timeout     WorkflowTimeout         `json:"timeout" yaml:"timeout,omitempty"`
	Version     int                     `json:"version" yaml:"-"`
	CreatedBy   string                  `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	Created     time.Time               `json:"created" yaml:"-"`
	Updated     time.Time               `json:"updated" yaml:"-"`
}

// Clone returns a deep copy. Condition trees are shared since they are never mutated.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	out := *d
	out.Steps = make([]StepSpec, len(d.Steps))
	for i, s := range d.Steps {
		out.Steps[i] = s.Clone()
	}
	if d.Variables != nil {
		out.Variables = make(map[string]VariableSpec, len(d.Variables))
		for k, v := range d.Variables {
			v.DefaultValue = CopyValue(v.DefaultValue)
			out.Variables[k] = v
		}
	}
	return &out
}

// CopyMap deep copies maps and slices of generic decoded values.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}

func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
