package domain

import "time"

type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceRunning   InstanceStatus = "running"
	InstanceCompleted InstanceStatus = "completed"
	InstanceFailed    InstanceStatus = "failed"
	InstanceCancelled InstanceStatus = "cancelled"
)

func (s InstanceStatus) Terminal() bool {
	return s == InstanceCompleted || s == InstanceFailed || s == InstanceCancelled
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepWaiting   StepStatus = "waiting"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

type StepLog struct {
	Name      string         `json:"name"`
	Type      StepType       `json:"type"`
	Status    StepStatus     `json:"status"`
	StartTime *time.Time     `json:"startTime,omitempty"`
	EndTime   *time.Time     `json:"endTime,omitempty"`
	Attempts  int            `json:"attempts,omitempty"`
	Error     string         `json:"error,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
}

type CurrentStep struct {
	Index      int        `json:"index"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	RetryCount int        `json:"retryCount"`
}

type InstanceError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	StepIndex int    `json:"stepIndex"`
}

type TriggerData struct {
	EventName string         `json:"eventName"`
	Data      map[string]any `json:"data,omitempty"`
}

// WorkflowInstance is one execution of a definition version. Revision is the
// optimistic concurrency token bumped on every persisted write.
type WorkflowInstance struct {
	ID                string         `json:"id"`
	DefinitionID      string         `json:"definitionId"`
	DefinitionName    string         `json:"definitionName"`
	DefinitionVersion int            `json:"definitionVersion"`
	Status            InstanceStatus `json:"status"`
	Trigger           TriggerData    `json:"trigger"`
	Variables         map[string]any `json:"variables"`
	CurrentStep       CurrentStep    `json:"currentStep"`
	Steps             []StepLog      `json:"steps"`
	Error             *InstanceError `json:"error,omitempty"`
	CreatedBy         string         `json:"createdBy,omitempty"`
	Created           time.Time      `json:"created"`
	Started           *time.Time     `json:"started,omitempty"`
	Ended             *time.Time     `json:"ended,omitempty"`
	DurationMs        int64          `json:"durationMs"`
	Revision          int64          `json:"revision"`
}

func (i *WorkflowInstance) Clone() *WorkflowInstance {
	out := *i
	out.Trigger.Data = CopyMap(i.Trigger.Data)
	out.Variables = CopyMap(i.Variables)
	out.Steps = make([]StepLog, len(i.Steps))
	for k, s := range i.Steps {
		s.Output = CopyMap(s.Output)
		out.Steps[k] = s
	}
	if i.Error != nil {
		e := *i.Error
		out.Error = &e
	}
	return &out
}

// Context is the map handlers and condition steps see: trigger data,
// variables, outputs of completed steps keyed by step name and instance metadata.
func (i *WorkflowInstance) Context() map[string]any {
	steps := make(map[string]any, len(i.Steps))
	for _, s := range i.Steps {
		if s.Output != nil {
			steps[s.Name] = CopyMap(s.Output)
		}
	}
	return map[string]any{
		"trigger":   CopyMap(i.Trigger.Data),
		"event":     i.Trigger.EventName,
		"variables": CopyMap(i.Variables),
		"steps":     steps,
		"instance": map[string]any{
			"id":                i.ID,
			"definitionId":      i.DefinitionID,
			"definitionName":    i.DefinitionName,
			"definitionVersion": i.DefinitionVersion,
			"stepIndex":         i.CurrentStep.Index,
		},
	}
}
