package models

import "github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"

// CreateDefinitionRequest is the payload for creating version 1 of a workflow.
type CreateDefinitionRequest struct {
	Name        string                         `json:"name" yaml:"name"`
	Type        string                         `json:"type,omitempty" yaml:"type,omitempty"`
	Description string                         `json:"description,omitempty" yaml:"description,omitempty"`
	Trigger     domain.Trigger                 `json:"trigger" yaml:"trigger"`
	Steps       []domain.StepSpec              `json:"steps" yaml:"steps"`
	Variables   map[string]domain.VariableSpec `json:"variables,omitempty" yaml:"variables,omitempty"`
	Timeout     domain.WorkflowTimeout         `json:"timeout" yaml:"timeout,omitempty"`
	// Activate is only honoured by the definition file loader, where nil means true.
	Activate *bool `json:"-" yaml:"activate,omitempty"`
}

// DefinitionUpdate holds the fields a revision replaces. Nil fields are carried over.
type DefinitionUpdate struct {
	Type        *string                        `json:"type,omitempty"`
	Description *string                        `json:"description,omitempty"`
	Trigger     *domain.Trigger                `json:"trigger,omitempty"`
	Steps       []domain.StepSpec              `json:"steps,omitempty"`
	Variables   map[string]domain.VariableSpec `json:"variables,omitempty"`
	Timeout     *domain.WorkflowTimeout        `json:"timeout,omitempty"`
}
