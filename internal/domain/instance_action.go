package domain

import "time"

// Audit trail types written while an instance is driven.
const (
	ActionCreated       = "CREATED"
	ActionQueued        = "QUEUED"
	ActionStepStarted   = "STEP_STARTED"
	ActionStepCompleted = "STEP_COMPLETED"
	ActionStepFailed    = "STEP_FAILED"
	ActionStepSkipped   = "STEP_SKIPPED"
	ActionWaiting       = "WAITING_APPROVAL"
	ActionVote          = "VOTE"
	ActionResumed       = "RESUMED"
	ActionCompleted     = "COMPLETED"
	ActionFailed        = "FAILED"
	ActionCancelled     = "CANCELLED"
	ActionTimedOut      = "TIMED_OUT"
	ActionRecovered     = "RECOVERED"
)

type InstanceAction struct {
	ID         int64     `json:"id"`         // BIGSERIAL
	InstanceID string    `json:"instanceId"` // uuid of workflow_instances.id
	StepIndex  int       `json:"stepIndex"`
	Type       string    `json:"type"`
	Name       string    `json:"name"` // step name or empty for instance level actions
	Text       string    `json:"text"`
	DateTime   time.Time `json:"dateTime"`
}
