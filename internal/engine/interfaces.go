package engine

import (
	"context"
	"time"

	internaldomain "github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// DefinitionRepo defines the interface for workflow definition persistence, matching repository.DefinitionRepository.
type DefinitionRepo interface {
	Save(ctx context.Context, def *domain.WorkflowDefinition) error
	FindByID(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	FindByName(ctx context.Context, name string) ([]domain.WorkflowDefinition, error)
	FindActive(ctx context.Context) ([]domain.WorkflowDefinition, error)
	FindAll(ctx context.Context) ([]domain.WorkflowDefinition, error)
	MaxVersion(ctx context.Context, name string) (int, error)
	UpdateStatus(ctx context.Context, id string, status domain.DefinitionStatus, updated time.Time) error
	// ActivateExclusive activates id and deactivates every other active version
	// of the same name in one transaction, returning the deactivated ids.
	ActivateExclusive(ctx context.Context, id string, updated time.Time) ([]string, error)
}

// InstanceRepo defines the interface for instance persistence. Update is a
// compare-and-swap on Revision and bumps it on success.
type InstanceRepo interface {
	Save(ctx context.Context, inst *domain.WorkflowInstance) error
	FindByID(ctx context.Context, id string) (*domain.WorkflowInstance, error)
	Update(ctx context.Context, inst *domain.WorkflowInstance) error
	FindRunning(ctx context.Context, limit int) ([]domain.WorkflowInstance, error)
	Search(ctx context.Context, req models.SearchInstancesRequest) ([]domain.WorkflowInstance, error)
}

// TaskRepo defines the interface for approval task persistence. UpdateIfPending
// only writes while the stored task is pending at the same revision.
type TaskRepo interface {
	Save(ctx context.Context, task *domain.ApprovalTask) error
	FindByID(ctx context.Context, id string) (*domain.ApprovalTask, error)
	FindByInstanceStep(ctx context.Context, instanceID string, stepIndex int) (*domain.ApprovalTask, error)
	UpdateIfPending(ctx context.Context, task *domain.ApprovalTask) error
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalTask, error)
	FindPending(ctx context.Context, filter models.ApprovalFilter) ([]domain.ApprovalTask, error)
}

// InstanceActionRepo defines the interface for the instance audit trail.
type InstanceActionRepo interface {
	Save(ctx context.Context, a *internaldomain.InstanceAction) (int64, error)
	FindAllByInstanceID(ctx context.Context, instanceID string) ([]internaldomain.InstanceAction, error)
}

// UserRepo defines the interface for user persistence.
type UserRepo interface {
	FindByApiKey(ctx context.Context, apiKey string) (*internaldomain.User, error)
	FindByUsername(ctx context.Context, username string) (*internaldomain.User, error)
	Save(ctx context.Context, user *internaldomain.User) (int64, error)
	FindAll(ctx context.Context) ([]internaldomain.User, error)
}

// InstanceDriver is what the approval gate calls once a task is decided.
type InstanceDriver interface {
	Resume(ctx context.Context, instanceID string, stepIndex int, output map[string]any) error
	Fail(ctx context.Context, instanceID string, stepIndex int, cause error) error
}

// InstanceStarter is what the trigger registry calls for a matching event.
type InstanceStarter interface {
	StartInstance(ctx context.Context, definitionID string, trigger domain.TriggerData) (*domain.WorkflowInstance, error)
}
