package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	internaldomain "github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// voteAttempts bounds the reload-and-reapply loop when concurrent votes race
// on the same task revision.
const voteAttempts = 5

// ApprovalGate owns approval tasks: creating them when an instance reaches an
// approval step, applying votes and expiring them. Decisions are handed to the
// bound InstanceDriver.
type ApprovalGate struct {
	tasks           TaskRepo
	actions         InstanceActionRepo
	clock           core.Clock
	defaultDeadline time.Duration
	driver          InstanceDriver
}

func NewApprovalGate(tasks TaskRepo, actions InstanceActionRepo, clock core.Clock, defaultDeadline time.Duration) *ApprovalGate {
	return &ApprovalGate{tasks: tasks, actions: actions, clock: clock, defaultDeadline: defaultDeadline}
}

// Bind sets the driver resumed or failed on a decision. It must be called before votes arrive.
func (g *ApprovalGate) Bind(driver InstanceDriver) {
	g.driver = driver
}

// approvalConfig is the parsed config of an approval step.
type approvalConfig struct {
	Type               domain.ApprovalType
	Approvers          []string
	RequiredApprovals  int
	RequiredPercentage float64
	Deadline           time.Duration
}

// parseApprovalConfig reads the step config. ctx is used to resolve approver
// references of the form "$variables.managers"; a nil ctx leaves them unresolved.
func parseApprovalConfig(step domain.StepSpec, ctx map[string]any, defaultDeadline time.Duration) (*approvalConfig, error) {
	cfg := &approvalConfig{Type: domain.ApprovalSingle}
	if raw, ok := step.Config["approvalType"]; ok {
		s, _ := raw.(string)
		cfg.Type = domain.ApprovalType(s)
	}
	switch cfg.Type {
	case domain.ApprovalSingle, domain.ApprovalMultiple, domain.ApprovalPercentage:
	default:
		return nil, flowerrors.Validation("approvalType", "unsupported approval type %q", cfg.Type)
	}

	approvers, err := approverList(step.Config["approvers"], ctx)
	if err != nil {
		return nil, err
	}
	cfg.Approvers = approvers

	if cfg.Type == domain.ApprovalMultiple {
		n, ok := toInt(step.Config["requiredApprovals"])
		if !ok {
			n = 1
		}
		if n < 1 {
			return nil, flowerrors.Validation("requiredApprovals", "must be at least 1, got %d", n)
		}
		if ctx != nil && n > len(approvers) {
			return nil, flowerrors.Validation("requiredApprovals", "%d exceeds the %d approvers", n, len(approvers))
		}
		cfg.RequiredApprovals = n
	}
	if cfg.Type == domain.ApprovalPercentage {
		p, ok := toFloat(step.Config["requiredPercentage"])
		if !ok {
			p = 100
		}
		if p <= 0 || p > 100 {
			return nil, flowerrors.Validation("requiredPercentage", "must be in (0, 100], got %v", p)
		}
		cfg.RequiredPercentage = p
	}

	switch ms, ok := toInt(step.Config["deadlineMs"]); {
	case ok && ms > 0:
		cfg.Deadline = time.Duration(ms) * time.Millisecond
	case step.TimeoutMs > 0:
		cfg.Deadline = step.Timeout()
	default:
		cfg.Deadline = defaultDeadline
	}
	return cfg, nil
}

func approverList(raw any, ctx map[string]any) ([]string, error) {
	var entries []any
	switch t := raw.(type) {
	case []any:
		entries = t
	case []string:
		for _, s := range t {
			entries = append(entries, s)
		}
	case string:
		entries = []any{t}
	case nil:
		return nil, flowerrors.Validation("approvers", "at least one approver is required")
	default:
		return nil, flowerrors.Validation("approvers", "expected a list, got %T", raw)
	}

	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, e := range entries {
		s, ok := e.(string)
		if !ok {
			return nil, flowerrors.Validation("approvers", "approver entries must be strings, got %T", e)
		}
		if !strings.HasPrefix(s, "$") {
			add(s)
			continue
		}
		if ctx == nil {
			add(s)
			continue
		}
		v, found := condition.Resolve(ctx, strings.TrimPrefix(s, "$"))
		if !found {
			return nil, flowerrors.Validation("approvers", "reference %s did not resolve", s)
		}
		switch r := v.(type) {
		case string:
			add(r)
		case []any:
			for _, item := range r {
				add(fmt.Sprint(item))
			}
		case []string:
			for _, item := range r {
				add(item)
			}
		default:
			return nil, flowerrors.Validation("approvers", "reference %s resolved to %T", s, v)
		}
	}
	if len(out) == 0 {
		return nil, flowerrors.Validation("approvers", "at least one approver is required")
	}
	return out, nil
}

// CreateTask opens the approval task for inst at stepIndex. Calling it again for
// the same instance and step returns the existing task.
func (g *ApprovalGate) CreateTask(ctx context.Context, inst *domain.WorkflowInstance, stepIndex int, step domain.StepSpec) (*domain.ApprovalTask, error) {
	existing, err := g.tasks.FindByInstanceStep(ctx, inst.ID, stepIndex)
	if err != nil {
		return nil, fmt.Errorf("lookup approval task: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	cfg, err := parseApprovalConfig(step, inst.Context(), g.defaultDeadline)
	if err != nil {
		return nil, err
	}
	now := g.clock.Now().UTC()
	task := &domain.ApprovalTask{
		ID:                 uuid.NewString(),
		InstanceID:         inst.ID,
		StepIndex:          stepIndex,
		StepName:           step.Name,
		Type:               cfg.Type,
		RequiredApprovals:  cfg.RequiredApprovals,
		RequiredPercentage: cfg.RequiredPercentage,
		Deadline:           now.Add(cfg.Deadline),
		Status:             domain.TaskPending,
		Created:            now,
	}
	for _, user := range cfg.Approvers {
		task.Approvers = append(task.Approvers, domain.Approver{User: user, Status: domain.VotePending})
	}
	if err := g.tasks.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("save approval task: %w", err)
	}
	slog.InfoContext(ctx, "Approval task created", "instance_id", inst.ID, "task_id", task.ID, "step", step.Name,
		"type", task.Type, "approvers", len(task.Approvers), "deadline", task.Deadline)
	return task, nil
}

// Vote records an approve or reject from user and applies the resulting decision.
func (g *ApprovalGate) Vote(ctx context.Context, taskID, user string, action domain.VoteAction, comment string) (*domain.ApprovalTask, error) {
	var (
		next    *domain.ApprovalTask
		effects []Effect
	)
	for i := 0; ; i++ {
		task, err := g.tasks.FindByID(ctx, taskID)
		if err != nil {
			return nil, err
		}
		next, effects, err = ApplyVote(task, user, action, comment, g.clock.Now().UTC())
		if err != nil {
			return nil, err
		}
		err = g.tasks.UpdateIfPending(ctx, next)
		if err == nil {
			break
		}
		if !flowerrors.IsConflict(err) || i+1 >= voteAttempts {
			return nil, err
		}
		slog.DebugContext(ctx, "Vote lost a race, reloading task", "task_id", taskID, "user", user)
	}

	slog.InfoContext(ctx, "Vote recorded", "task_id", taskID, "instance_id", next.InstanceID, "user", user, "action", action, "task_status", next.Status)
	g.apply(ctx, next, effects)
	return next, nil
}

// Expire closes an overdue task. It returns false when the task was decided
// concurrently and nothing changed.
func (g *ApprovalGate) Expire(ctx context.Context, task *domain.ApprovalTask) (bool, error) {
	next, effects, err := ExpireTask(task, g.clock.Now().UTC())
	if err != nil {
		if flowerrors.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	if err := g.tasks.UpdateIfPending(ctx, next); err != nil {
		if flowerrors.IsConflict(err) {
			slog.InfoContext(ctx, "Approval task decided before expiry", "task_id", task.ID)
			return false, nil
		}
		return false, err
	}
	slog.WarnContext(ctx, "Approval task expired", "task_id", task.ID, "instance_id", task.InstanceID, "deadline", task.Deadline)
	g.apply(ctx, next, effects)
	return true, nil
}

func (g *ApprovalGate) Get(ctx context.Context, taskID string) (*domain.ApprovalTask, error) {
	return g.tasks.FindByID(ctx, taskID)
}

func (g *ApprovalGate) ListPending(ctx context.Context, filter models.ApprovalFilter) ([]domain.ApprovalTask, error) {
	return g.tasks.FindPending(ctx, filter)
}

// apply runs the effects of a persisted task transition.
func (g *ApprovalGate) apply(ctx context.Context, task *domain.ApprovalTask, effects []Effect) {
	for _, e := range effects {
		switch e.Kind {
		case EffectRecord:
			if g.actions != nil {
				if _, err := g.actions.Save(ctx, &internaldomain.InstanceAction{
					InstanceID: task.InstanceID, StepIndex: e.StepIndex, Type: e.Action,
					Name: task.StepName, Text: e.Text, DateTime: g.clock.Now().UTC(),
				}); err != nil {
					slog.WarnContext(ctx, "Failed to record approval action", "task_id", task.ID, "action", e.Action, "error", err)
				}
			}
		case EffectResume:
			if g.driver == nil {
				slog.ErrorContext(ctx, "Approval gate has no instance driver", "task_id", task.ID)
				continue
			}
			if err := g.driver.Resume(ctx, task.InstanceID, e.StepIndex, e.Output); err != nil {
				slog.ErrorContext(ctx, "Failed to resume instance after approval", "task_id", task.ID, "instance_id", task.InstanceID, "error", err)
			}
		case EffectFail:
			if g.driver == nil {
				slog.ErrorContext(ctx, "Approval gate has no instance driver", "task_id", task.ID)
				continue
			}
			if err := g.driver.Fail(ctx, task.InstanceID, e.StepIndex, e.Err); err != nil {
				slog.ErrorContext(ctx, "Failed to fail instance after approval decision", "task_id", task.ID, "instance_id", task.InstanceID, "error", err)
			}
		}
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
