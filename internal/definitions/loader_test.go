package definitions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

const orderYAML = `
name: order-approval
description: approve large orders
trigger:
  eventName: order.created
  conditions:
    and:
      - field: amount
        operator: ">"
        value: 1000
      - field: currency
        operator: "=="
        value: EUR
variables:
  amount:
    type: number
    required: true
steps:
  - name: manager-sign-off
    type: approval
    config:
      approvalType: multiple
      requiredApprovals: 2
      approvers: [ann, bob, carol]
      deadlineMs: 3600000
  - name: notify
    type: email
    config:
      to: ["{{ .variables.requester }}"]
      subject: Order approved
    retryPolicy:
      maxAttempts: 3
      backoffMultiplier: 2
      initialDelayMs: 500
timeout:
  durationMs: 86400000
  action: fail
`

type MockStore struct {
	existing  map[string]bool
	created   []models.CreateDefinitionRequest
	activated []string
	createErr error
}

func (m *MockStore) ListDefinitions(ctx context.Context, name string) ([]domain.WorkflowDefinition, error) {
	if m.existing[name] {
		return []domain.WorkflowDefinition{{Name: name, Version: 1}}, nil
	}
	return nil, nil
}

func (m *MockStore) CreateDefinition(ctx context.Context, req models.CreateDefinitionRequest) (*domain.WorkflowDefinition, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	return &domain.WorkflowDefinition{ID: "id-" + req.Name, Name: req.Name, Version: 1}, nil
}

func (m *MockStore) ActivateDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	m.activated = append(m.activated, id)
	return &domain.WorkflowDefinition{ID: id, Status: domain.DefinitionActive}, nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestParseDefinitionYAML(t *testing.T) {
	req, err := ParseDefinitionYAML([]byte(orderYAML))
	require.NoError(t, err)

	assert.Equal(t, "order-approval", req.Name)
	assert.Equal(t, "order.created", req.Trigger.EventName)
	require.NotNil(t, req.Trigger.Conditions)
	assert.Equal(t, condition.KindAnd, req.Trigger.Conditions.Kind)
	require.Len(t, req.Trigger.Conditions.Children, 2)
	assert.Equal(t, condition.OpGt, req.Trigger.Conditions.Children[0].Operator)

	require.Len(t, req.Steps, 2)
	assert.Equal(t, domain.StepApproval, req.Steps[0].Type)
	assert.Equal(t, []any{"ann", "bob", "carol"}, req.Steps[0].Config["approvers"])
	assert.Equal(t, 3, req.Steps[1].RetryPolicy.MaxAttempts)
	assert.EqualValues(t, 500, req.Steps[1].RetryPolicy.InitialDelayMs)
	assert.True(t, req.Variables["amount"].Required)
	assert.Equal(t, domain.TimeoutFail, req.Timeout.Action)
	assert.Nil(t, req.Activate)

	_, err = ParseDefinitionYAML([]byte("  \n"))
	assert.Error(t, err)
	_, err = ParseDefinitionYAML([]byte("description: nameless\nsteps: []\n"))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "01-order.yaml", orderYAML)
	writeFile(t, dir, "02-existing.yml", "name: existing\nsteps:\n  - name: a\n    type: delay\n")
	writeFile(t, dir, "03-draft.yaml", "name: draft-only\nactivate: false\nsteps:\n  - name: a\n    type: delay\n")
	writeFile(t, dir, "04-broken.yaml", "name: [unterminated\n")
	writeFile(t, dir, "README.md", "not a definition")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o700))

	store := &MockStore{existing: map[string]bool{"existing": true}}
	res, err := LoadDir(context.Background(), store, dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "04-broken.yaml")
	assert.Equal(t, []string{"order-approval", "draft-only"}, res.Created)
	assert.Equal(t, []string{"existing"}, res.Skipped)
	assert.Equal(t, []string{"id-order-approval"}, store.activated)
	require.Len(t, store.created, 2)
}

func TestLoadDir_ReportsRejectedDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "name: bad\nsteps:\n  - name: a\n    type: fax\n")

	store := &MockStore{createErr: flowerrors.Validation("steps[0].type", "unknown step type %q", "fax")}
	res, err := LoadDir(context.Background(), store, dir)

	require.Error(t, err)
	assert.True(t, flowerrors.IsValidation(err))
	assert.Empty(t, res.Created)
	assert.Empty(t, store.activated)
}

func TestLoadDir_MissingDir(t *testing.T) {
	_, err := LoadDir(context.Background(), &MockStore{}, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
