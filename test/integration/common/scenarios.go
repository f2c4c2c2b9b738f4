package common

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	internaldomain "github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
	"github.com/RealZimboGuy/stepflow/test/integration"
)

const waitTimeout = 10 * time.Second

// Functions are registered on every server the suites start.
func Functions() map[string]stepflow.Function {
	return map[string]stepflow.Function{
		"reserve-budget": func(ctx context.Context, req stepflow.StepRequest) (map[string]any, error) {
			vars, _ := req.Context["variables"].(map[string]any)
			return map[string]any{"variables": map[string]any{"budgetRef": fmt.Sprintf("B-%v", vars["amount"])}}, nil
		},
	}
}

func expenseDefinition(name string, deadline time.Duration) models.CreateDefinitionRequest {
	cond := condition.Compare("amount", condition.OpGt, 100)
	return models.CreateDefinitionRequest{
		Name:        name,
		Description: "expense approval",
		Trigger:     domain.Trigger{EventName: name + ".submitted", Conditions: &cond},
		Variables: map[string]domain.VariableSpec{
			"amount":    {Type: domain.VarNumber, Required: true},
			"requester": {Type: domain.VarString, DefaultValue: "unknown"},
		},
		Steps: []domain.StepSpec{
			{Name: "reserve", Type: domain.StepFunction, Config: map[string]any{"name": "reserve-budget"}},
			{Name: "sign-off", Type: domain.StepApproval, Config: map[string]any{
				"approvalType":      "multiple",
				"requiredApprovals": 2,
				"approvers":         []string{"ann", "bob", "carol"},
				"deadlineMs":        deadline.Milliseconds(),
			}},
			{Name: "notify", Type: domain.StepNotification, Config: map[string]any{
				"message": "expense {{ .variables.budgetRef }} for {{ .variables.requester }} approved",
			}},
		},
	}
}

func createActive(t *testing.T, c *Client, req models.CreateDefinitionRequest) domain.WorkflowDefinition {
	t.Helper()
	def := Expect[domain.WorkflowDefinition](t, c, "POST", "/api/definitions?activate=true", req, http.StatusCreated)
	require.Equal(t, domain.DefinitionActive, def.Status)
	return def
}

func dispatch(t *testing.T, c *Client, event string, data map[string]any) []string {
	t.Helper()
	resp := Expect[models.DispatchEventResponse](t, c, "POST", "/api/events/"+event, models.DispatchEventRequest{Data: data}, http.StatusAccepted)
	require.Empty(t, resp.Errors)
	return resp.InstanceIDs
}

func pendingTask(t *testing.T, c *Client, instanceID string) domain.ApprovalTask {
	t.Helper()
	tasks := Expect[[]domain.ApprovalTask](t, c, "GET", "/api/approvals?instanceId="+instanceID, nil, http.StatusOK)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func vote(t *testing.T, c *Client, taskID, user string, action domain.VoteAction) *http.Response {
	t.Helper()
	return c.Do(t, "POST", "/api/approvals/"+taskID+"/vote", models.VoteRequest{Action: action, UserID: user})
}

// RunApprovalScenario drives an event triggered instance through a two of three
// approval and checks that a late vote is refused.
func RunApprovalScenario(t *testing.T, c *Client) {
	createActive(t, c, expenseDefinition("expense", time.Hour))

	assert.Empty(t, dispatch(t, c, "expense.submitted", map[string]any{"amount": 50}), "below the trigger threshold")
	ids := dispatch(t, c, "expense.submitted", map[string]any{"amount": 500, "requester": "dana"})
	require.Len(t, ids, 1)

	inst := WaitForInstance(t, c, ids[0], waitTimeout, IsWaitingAt(1))
	assert.Equal(t, "B-500", inst.Variables["budgetRef"])
	assert.Equal(t, domain.StepCompleted, inst.Steps[0].Status)

	task := pendingTask(t, c, inst.ID)
	assert.Len(t, task.Approvers, 3)
	assert.Equal(t, 2, task.RequiredApprovals)

	resp := vote(t, c, task.ID, "ann", domain.ActionApprove)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	task = Expect[domain.ApprovalTask](t, c, "GET", "/api/approvals/"+task.ID, nil, http.StatusOK)
	assert.Equal(t, domain.TaskPending, task.Status)

	resp = vote(t, c, task.ID, "bob", domain.ActionApprove)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	inst = WaitForInstance(t, c, inst.ID, waitTimeout, HasStatus(domain.InstanceCompleted))
	assert.Nil(t, inst.Error)
	assert.Equal(t, domain.StepCompleted, inst.Steps[2].Status)
	require.NotNil(t, inst.Ended)

	resp = vote(t, c, task.ID, "carol", domain.ActionReject)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "decided tasks take no more votes")

	actions := Expect[[]internaldomain.InstanceAction](t, c, "GET", "/api/instances/"+inst.ID+"/actions", nil, http.StatusOK)
	require.NotEmpty(t, actions)
	assert.Equal(t, internaldomain.ActionCreated, actions[0].Type)
	types := make([]string, len(actions))
	for i, a := range actions {
		types[i] = a.Type
	}
	assert.Contains(t, types, internaldomain.ActionWaiting)
	assert.Contains(t, types, internaldomain.ActionVote)
	assert.Contains(t, types, internaldomain.ActionCompleted)
}

// RunRejectScenario checks that a single rejection fails the instance at the approval step.
func RunRejectScenario(t *testing.T, c *Client) {
	createActive(t, c, expenseDefinition("refund", time.Hour))
	ids := dispatch(t, c, "refund.submitted", map[string]any{"amount": 200})
	require.Len(t, ids, 1)

	WaitForInstance(t, c, ids[0], waitTimeout, IsWaitingAt(1))
	task := pendingTask(t, c, ids[0])
	resp := vote(t, c, task.ID, "carol", domain.ActionReject)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	inst := WaitForInstance(t, c, ids[0], waitTimeout, HasStatus(domain.InstanceFailed))
	require.NotNil(t, inst.Error)
	assert.Equal(t, flowerrors.CodeApprovalRejected, inst.Error.Code)
	assert.Equal(t, 1, inst.Error.StepIndex)
	assert.Equal(t, domain.StepPending, inst.Steps[2].Status)
}

// RunExpiryScenario moves clock past the approval deadline and waits for the
// sweeper to fail the instance.
func RunExpiryScenario(t *testing.T, c *Client, clock *integration.FakeClock) {
	createActive(t, c, expenseDefinition("travel", 10*time.Minute))
	ids := dispatch(t, c, "travel.submitted", map[string]any{"amount": 900})
	require.Len(t, ids, 1)
	WaitForInstance(t, c, ids[0], waitTimeout, IsWaitingAt(1))

	clock.Add(11 * time.Minute)

	inst := WaitForInstance(t, c, ids[0], waitTimeout, HasStatus(domain.InstanceFailed))
	require.NotNil(t, inst.Error)
	assert.Equal(t, flowerrors.CodeApprovalExpired, inst.Error.Code)
	tasks := Expect[[]domain.ApprovalTask](t, c, "GET", "/api/approvals?instanceId="+inst.ID, nil, http.StatusOK)
	assert.Empty(t, tasks, "the expired task is no longer pending")
}

// RunVersioningScenario revises and activates a new version and checks that new
// instances bind to it while the old version is deactivated.
func RunVersioningScenario(t *testing.T, c *Client) {
	v1 := createActive(t, c, expenseDefinition("purchase", time.Hour))

	desc := "purchase approval, second revision"
	v2 := Expect[domain.WorkflowDefinition](t, c, "PUT", "/api/definitions/"+v1.ID, models.DefinitionUpdate{Description: &desc}, http.StatusCreated)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, domain.DefinitionDraft, v2.Status)

	Expect[domain.WorkflowDefinition](t, c, "POST", "/api/definitions/"+v2.ID+"/activate", nil, http.StatusOK)
	old := Expect[domain.WorkflowDefinition](t, c, "GET", "/api/definitions/"+v1.ID, nil, http.StatusOK)
	assert.Equal(t, domain.DefinitionInactive, old.Status)

	ids := dispatch(t, c, "purchase.submitted", map[string]any{"amount": 150})
	require.Len(t, ids, 1)
	inst := Expect[domain.WorkflowInstance](t, c, "GET", "/api/instances/"+ids[0], nil, http.StatusOK)
	assert.Equal(t, 2, inst.DefinitionVersion)
	assert.Equal(t, v2.ID, inst.DefinitionID)

	resp := c.Do(t, "POST", "/api/instances", models.StartInstanceRequest{DefinitionID: v1.ID, Data: map[string]any{"amount": 150}})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "inactive versions cannot be started")

	cancelled := Expect[domain.WorkflowInstance](t, c, "POST", "/api/instances/"+ids[0]+"/cancel", models.CancelInstanceRequest{Reason: "test over"}, http.StatusOK)
	assert.Equal(t, domain.InstanceCancelled, cancelled.Status)
	again := Expect[domain.WorkflowInstance](t, c, "POST", "/api/instances/"+ids[0]+"/cancel", nil, http.StatusOK)
	assert.Equal(t, domain.InstanceCancelled, again.Status)

	found := Expect[[]domain.WorkflowInstance](t, c, "GET", "/api/instances?definitionName=purchase&status=cancelled", nil, http.StatusOK)
	assert.Len(t, found, 1)
}

// RunWebhookScenario calls out to a local HTTP server and branches on its answer.
func RunWebhookScenario(t *testing.T, c *Client) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"variables":{"ticket":"T-9","priority":3}}`))
	}))
	defer srv.Close()

	def := createActive(t, c, models.CreateDefinitionRequest{
		Name: "ticketing",
		Steps: []domain.StepSpec{
			{Name: "open-ticket", Type: domain.StepWebhook, Config: map[string]any{"url": srv.URL + "/tickets"}},
			{Name: "high-priority", Type: domain.StepCondition, Config: map[string]any{
				"condition": map[string]any{"field": "variables.priority", "operator": ">=", "value": 3},
			}},
		},
	})

	inst := Expect[domain.WorkflowInstance](t, c, "POST", "/api/instances", models.StartInstanceRequest{DefinitionID: def.ID, Data: map[string]any{}}, http.StatusCreated)
	done := WaitForInstance(t, c, inst.ID, waitTimeout, HasStatus(domain.InstanceCompleted))
	assert.Equal(t, "T-9", done.Variables["ticket"])
	assert.EqualValues(t, 200, done.Steps[0].Output["statusCode"])
	assert.Equal(t, true, done.Steps[1].Output["result"])
}
