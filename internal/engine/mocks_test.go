package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	internaldomain "github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// In-memory repositories with the same conditional-write semantics as the SQL ones.

type MemDefinitionRepo struct {
	mu   sync.Mutex
	defs map[string]*domain.WorkflowDefinition
}

func NewMemDefinitionRepo() *MemDefinitionRepo {
	return &MemDefinitionRepo{defs: make(map[string]*domain.WorkflowDefinition)}
}

func (r *MemDefinitionRepo) Save(_ context.Context, def *domain.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.defs {
		if d.Name == def.Name && d.Version == def.Version {
			return flowerrors.Conflict("definition", def.Name, "version %d exists", def.Version)
		}
	}
	r.defs[def.ID] = def.Clone()
	return nil
}

func (r *MemDefinitionRepo) FindByID(_ context.Context, id string) (*domain.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.defs[id]
	if !ok {
		return nil, flowerrors.NotFound("definition", id)
	}
	return d.Clone(), nil
}

func (r *MemDefinitionRepo) filter(keep func(*domain.WorkflowDefinition) bool) []domain.WorkflowDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WorkflowDefinition
	for _, d := range r.defs {
		if keep(d) {
			out = append(out, *d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

func (r *MemDefinitionRepo) FindByName(_ context.Context, name string) ([]domain.WorkflowDefinition, error) {
	return r.filter(func(d *domain.WorkflowDefinition) bool { return d.Name == name }), nil
}

func (r *MemDefinitionRepo) FindActive(_ context.Context) ([]domain.WorkflowDefinition, error) {
	return r.filter(func(d *domain.WorkflowDefinition) bool { return d.Status == domain.DefinitionActive }), nil
}

func (r *MemDefinitionRepo) FindAll(_ context.Context) ([]domain.WorkflowDefinition, error) {
	return r.filter(func(*domain.WorkflowDefinition) bool { return true }), nil
}

func (r *MemDefinitionRepo) MaxVersion(_ context.Context, name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	maxVersion := 0
	for _, d := range r.defs {
		if d.Name == name && d.Version > maxVersion {
			maxVersion = d.Version
		}
	}
	return maxVersion, nil
}

func (r *MemDefinitionRepo) UpdateStatus(_ context.Context, id string, status domain.DefinitionStatus, updated time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.defs[id]
	if !ok {
		return flowerrors.NotFound("definition", id)
	}
	d.Status = status
	d.Updated = updated
	return nil
}

func (r *MemDefinitionRepo) ActivateExclusive(_ context.Context, id string, updated time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.defs[id]
	if !ok {
		return nil, flowerrors.NotFound("definition", id)
	}
	var deactivated []string
	for _, d := range r.defs {
		if d.Name == target.Name && d.ID != id && d.Status == domain.DefinitionActive {
			d.Status = domain.DefinitionInactive
			d.Updated = updated
			deactivated = append(deactivated, d.ID)
		}
	}
	target.Status = domain.DefinitionActive
	target.Updated = updated
	return deactivated, nil
}

type MemInstanceRepo struct {
	mu        sync.Mutex
	instances map[string]*domain.WorkflowInstance
	// UpdateHook runs before every Update, outside the lock.
	UpdateHook func(inst *domain.WorkflowInstance)
}

func NewMemInstanceRepo() *MemInstanceRepo {
	return &MemInstanceRepo{instances: make(map[string]*domain.WorkflowInstance)}
}

func (r *MemInstanceRepo) Save(_ context.Context, inst *domain.WorkflowInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst.Revision = 1
	r.instances[inst.ID] = inst.Clone()
	return nil
}

func (r *MemInstanceRepo) FindByID(_ context.Context, id string) (*domain.WorkflowInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, flowerrors.NotFound("instance", id)
	}
	return inst.Clone(), nil
}

func (r *MemInstanceRepo) Update(_ context.Context, inst *domain.WorkflowInstance) error {
	if r.UpdateHook != nil {
		r.UpdateHook(inst)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.instances[inst.ID]
	if !ok {
		return flowerrors.NotFound("instance", inst.ID)
	}
	if cur.Revision != inst.Revision {
		return flowerrors.Conflict("instance", inst.ID, "revision %d is stale", inst.Revision)
	}
	inst.Revision++
	r.instances[inst.ID] = inst.Clone()
	return nil
}

func (r *MemInstanceRepo) FindRunning(_ context.Context, limit int) ([]domain.WorkflowInstance, error) {
	return r.Search(context.Background(), models.SearchInstancesRequest{Status: domain.InstanceRunning, Limit: limit})
}

func (r *MemInstanceRepo) Search(_ context.Context, req models.SearchInstancesRequest) ([]domain.WorkflowInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WorkflowInstance
	for _, inst := range r.instances {
		if req.Status != "" && inst.Status != req.Status {
			continue
		}
		if req.DefinitionName != "" && inst.DefinitionName != req.DefinitionName {
			continue
		}
		if req.DefinitionID != "" && inst.DefinitionID != req.DefinitionID {
			continue
		}
		out = append(out, *inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (r *MemInstanceRepo) Put(inst *domain.WorkflowInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst.Clone()
}

type MemTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*domain.ApprovalTask
}

func NewMemTaskRepo() *MemTaskRepo {
	return &MemTaskRepo{tasks: make(map[string]*domain.ApprovalTask)}
}

func (r *MemTaskRepo) Save(_ context.Context, task *domain.ApprovalTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task.Revision = 1
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *MemTaskRepo) FindByID(_ context.Context, id string) (*domain.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, flowerrors.NotFound("approval task", id)
	}
	return t.Clone(), nil
}

func (r *MemTaskRepo) FindByInstanceStep(_ context.Context, instanceID string, stepIndex int) (*domain.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.InstanceID == instanceID && t.StepIndex == stepIndex {
			return t.Clone(), nil
		}
	}
	return nil, nil
}

func (r *MemTaskRepo) UpdateIfPending(_ context.Context, task *domain.ApprovalTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tasks[task.ID]
	if !ok {
		return flowerrors.NotFound("approval task", task.ID)
	}
	if cur.Status != domain.TaskPending || cur.Revision != task.Revision {
		return flowerrors.Conflict("approval task", task.ID, "no longer pending at revision %d", task.Revision)
	}
	task.Revision++
	r.tasks[task.ID] = task.Clone()
	return nil
}

func (r *MemTaskRepo) FindExpiredPending(_ context.Context, now time.Time, limit int) ([]domain.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ApprovalTask
	for _, t := range r.tasks {
		if t.Status == domain.TaskPending && !t.Deadline.After(now) {
			out = append(out, *t.Clone())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemTaskRepo) FindPending(_ context.Context, filter models.ApprovalFilter) ([]domain.ApprovalTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ApprovalTask
	for _, t := range r.tasks {
		if t.Status != domain.TaskPending {
			continue
		}
		if filter.InstanceID != "" && t.InstanceID != filter.InstanceID {
			continue
		}
		if filter.User != "" {
			idx := t.ApproverIndex(filter.User)
			if idx < 0 || t.Approvers[idx].Status != domain.VotePending {
				continue
			}
		}
		out = append(out, *t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

type MemActionRepo struct {
	mu      sync.Mutex
	actions []internaldomain.InstanceAction
}

func (r *MemActionRepo) Save(_ context.Context, a *internaldomain.InstanceAction) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = int64(len(r.actions) + 1)
	r.actions = append(r.actions, *a)
	return a.ID, nil
}

func (r *MemActionRepo) FindAllByInstanceID(_ context.Context, instanceID string) ([]internaldomain.InstanceAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []internaldomain.InstanceAction
	for _, a := range r.actions {
		if a.InstanceID == instanceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemActionRepo) Count(instanceID, actionType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.actions {
		if a.InstanceID == instanceID && a.Type == actionType {
			n++
		}
	}
	return n
}

// stepClock never blocks: After records the wait, advances the clock and fires at once.
type stepClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *stepClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}
