package controllers

import (
	"context"

	internaldomain "github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// WorkflowEngine is the part of engine.WorkflowManager the HTTP layer calls.
type WorkflowEngine interface {
	CreateDefinition(ctx context.Context, req models.CreateDefinitionRequest) (*domain.WorkflowDefinition, error)
	ReviseDefinition(ctx context.Context, id string, update models.DefinitionUpdate) (*domain.WorkflowDefinition, error)
	ActivateDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	DeactivateDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	GetDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, name string) ([]domain.WorkflowDefinition, error)

	StartInstance(ctx context.Context, definitionID string, trigger domain.TriggerData) (*domain.WorkflowInstance, error)
	GetInstance(ctx context.Context, id string) (*domain.WorkflowInstance, error)
	SearchInstances(ctx context.Context, req models.SearchInstancesRequest) ([]domain.WorkflowInstance, error)
	CancelInstance(ctx context.Context, id, reason string) (*domain.WorkflowInstance, error)
	ListInstanceActions(ctx context.Context, id string) ([]internaldomain.InstanceAction, error)

	Vote(ctx context.Context, taskID, userID string, action domain.VoteAction, comment string) (*domain.ApprovalTask, error)
	GetTask(ctx context.Context, id string) (*domain.ApprovalTask, error)
	ListPendingApprovals(ctx context.Context, filter models.ApprovalFilter) ([]domain.ApprovalTask, error)

	DispatchEvent(ctx context.Context, eventName string, data map[string]any) ([]*domain.WorkflowInstance, error)
	StepTypes() []domain.StepType
}
