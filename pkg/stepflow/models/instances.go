package models

import "github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"

type StartInstanceRequest struct {
	DefinitionID string         `json:"definitionId"`
	EventName    string         `json:"eventName,omitempty"`
	Data         map[string]any `json:"data"`
}

type CancelInstanceRequest struct {
	Reason string `json:"reason"`
}

type SearchInstancesRequest struct {
	DefinitionName string                `json:"definitionName,omitempty"`
	DefinitionID   string                `json:"definitionId,omitempty"`
	Status         domain.InstanceStatus `json:"status,omitempty"`
	Limit          int                   `json:"limit,omitempty"`
	Offset         int                   `json:"offset,omitempty"`
}

type DispatchEventRequest struct {
	Data map[string]any `json:"data"`
}

type DispatchEventResponse struct {
	EventName   string   `json:"eventName"`
	InstanceIDs []string `json:"instanceIds"`
	Errors      []string `json:"errors,omitempty"`
}
