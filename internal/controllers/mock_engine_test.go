package controllers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	internaldomain "github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// MockEngine implements WorkflowEngine. Unset funcs return zero values.
type MockEngine struct {
	CreateDefinitionFunc     func(ctx context.Context, req models.CreateDefinitionRequest) (*domain.WorkflowDefinition, error)
	ReviseDefinitionFunc     func(ctx context.Context, id string, update models.DefinitionUpdate) (*domain.WorkflowDefinition, error)
	ActivateDefinitionFunc   func(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	DeactivateDefinitionFunc func(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	GetDefinitionFunc        func(ctx context.Context, id string) (*domain.WorkflowDefinition, error)
	ListDefinitionsFunc      func(ctx context.Context, name string) ([]domain.WorkflowDefinition, error)
	StartInstanceFunc        func(ctx context.Context, definitionID string, trigger domain.TriggerData) (*domain.WorkflowInstance, error)
	GetInstanceFunc          func(ctx context.Context, id string) (*domain.WorkflowInstance, error)
	SearchInstancesFunc      func(ctx context.Context, req models.SearchInstancesRequest) ([]domain.WorkflowInstance, error)
	CancelInstanceFunc       func(ctx context.Context, id, reason string) (*domain.WorkflowInstance, error)
	ListInstanceActionsFunc  func(ctx context.Context, id string) ([]internaldomain.InstanceAction, error)
	VoteFunc                 func(ctx context.Context, taskID, userID string, action domain.VoteAction, comment string) (*domain.ApprovalTask, error)
	GetTaskFunc              func(ctx context.Context, id string) (*domain.ApprovalTask, error)
	ListPendingApprovalsFunc func(ctx context.Context, filter models.ApprovalFilter) ([]domain.ApprovalTask, error)
	DispatchEventFunc        func(ctx context.Context, eventName string, data map[string]any) ([]*domain.WorkflowInstance, error)
	StepTypesFunc            func() []domain.StepType
}

func (m *MockEngine) CreateDefinition(ctx context.Context, req models.CreateDefinitionRequest) (*domain.WorkflowDefinition, error) {
	if m.CreateDefinitionFunc != nil {
		return m.CreateDefinitionFunc(ctx, req)
	}
	return &domain.WorkflowDefinition{}, nil
}
func (m *MockEngine) ReviseDefinition(ctx context.Context, id string, update models.DefinitionUpdate) (*domain.WorkflowDefinition, error) {
	if m.ReviseDefinitionFunc != nil {
		return m.ReviseDefinitionFunc(ctx, id, update)
	}
	return &domain.WorkflowDefinition{}, nil
}
func (m *MockEngine) ActivateDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	if m.ActivateDefinitionFunc != nil {
		return m.ActivateDefinitionFunc(ctx, id)
	}
	return &domain.WorkflowDefinition{ID: id, Status: domain.DefinitionActive}, nil
}
func (m *MockEngine) DeactivateDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	if m.DeactivateDefinitionFunc != nil {
		return m.DeactivateDefinitionFunc(ctx, id)
	}
	return &domain.WorkflowDefinition{ID: id, Status: domain.DefinitionInactive}, nil
}
func (m *MockEngine) GetDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	if m.GetDefinitionFunc != nil {
		return m.GetDefinitionFunc(ctx, id)
	}
	return &domain.WorkflowDefinition{ID: id}, nil
}
func (m *MockEngine) ListDefinitions(ctx context.Context, name string) ([]domain.WorkflowDefinition, error) {
	if m.ListDefinitionsFunc != nil {
		return m.ListDefinitionsFunc(ctx, name)
	}
	return nil, nil
}
func (m *MockEngine) StartInstance(ctx context.Context, definitionID string, trigger domain.TriggerData) (*domain.WorkflowInstance, error) {
	if m.StartInstanceFunc != nil {
		return m.StartInstanceFunc(ctx, definitionID, trigger)
	}
	return &domain.WorkflowInstance{DefinitionID: definitionID}, nil
}
func (m *MockEngine) GetInstance(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	if m.GetInstanceFunc != nil {
		return m.GetInstanceFunc(ctx, id)
	}
	return &domain.WorkflowInstance{ID: id}, nil
}
func (m *MockEngine) SearchInstances(ctx context.Context, req models.SearchInstancesRequest) ([]domain.WorkflowInstance, error) {
	if m.SearchInstancesFunc != nil {
		return m.SearchInstancesFunc(ctx, req)
	}
	return nil, nil
}
func (m *MockEngine) CancelInstance(ctx context.Context, id, reason string) (*domain.WorkflowInstance, error) {
	if m.CancelInstanceFunc != nil {
		return m.CancelInstanceFunc(ctx, id, reason)
	}
	return &domain.WorkflowInstance{ID: id, Status: domain.InstanceCancelled}, nil
}
func (m *MockEngine) ListInstanceActions(ctx context.Context, id string) ([]internaldomain.InstanceAction, error) {
	if m.ListInstanceActionsFunc != nil {
		return m.ListInstanceActionsFunc(ctx, id)
	}
	return nil, nil
}
func (m *MockEngine) Vote(ctx context.Context, taskID, userID string, action domain.VoteAction, comment string) (*domain.ApprovalTask, error) {
	if m.VoteFunc != nil {
		return m.VoteFunc(ctx, taskID, userID, action, comment)
	}
	return &domain.ApprovalTask{ID: taskID}, nil
}
func (m *MockEngine) GetTask(ctx context.Context, id string) (*domain.ApprovalTask, error) {
	if m.GetTaskFunc != nil {
		return m.GetTaskFunc(ctx, id)
	}
	return &domain.ApprovalTask{ID: id}, nil
}
func (m *MockEngine) ListPendingApprovals(ctx context.Context, filter models.ApprovalFilter) ([]domain.ApprovalTask, error) {
	if m.ListPendingApprovalsFunc != nil {
		return m.ListPendingApprovalsFunc(ctx, filter)
	}
	return nil, nil
}
func (m *MockEngine) DispatchEvent(ctx context.Context, eventName string, data map[string]any) ([]*domain.WorkflowInstance, error) {
	if m.DispatchEventFunc != nil {
		return m.DispatchEventFunc(ctx, eventName, data)
	}
	return nil, nil
}
func (m *MockEngine) StepTypes() []domain.StepType {
	if m.StepTypesFunc != nil {
		return m.StepTypesFunc()
	}
	return nil
}

type MockFunctions []string

func (m MockFunctions) Names() []string { return m }

// newTestMux registers every controller against e with the keyedUsers credentials.
func newTestMux(e WorkflowEngine) *http.ServeMux {
	users := keyedUsers()
	mux := http.NewServeMux()
	NewDefinitionsController(e, users).RegisterRoutes(mux)
	NewInstancesController(e, users).RegisterRoutes(mux)
	NewApprovalsController(e, users).RegisterRoutes(mux)
	NewEventsController(e, users).RegisterRoutes(mux)
	NewHandlersController(e, MockFunctions{"charge"}, users).RegisterRoutes(mux)
	return mux
}

// call sends an authenticated request through mux.
func call(mux http.Handler, method, target, apiKey, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}
