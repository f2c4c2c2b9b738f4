package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	internaldomain "github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// mutateAttempts bounds reload-and-reapply for writes that must land, such as
// failing or cancelling an instance.
const mutateAttempts = 5

// errSuperseded stops the run loop after another writer changed the instance.
var errSuperseded = errors.New("instance changed concurrently")

// InstanceMachine drives one instance through its steps. It persists after
// every step boundary and never moves CurrentStep.Index backwards.
type InstanceMachine struct {
	definitions DefinitionRepo
	instances   InstanceRepo
	actions     InstanceActionRepo
	executor    *StepExecutor
	gate        *ApprovalGate
	evaluator   *condition.Evaluator
	clock       core.Clock
}

func NewInstanceMachine(definitions DefinitionRepo, instances InstanceRepo, actions InstanceActionRepo,
	executor *StepExecutor, gate *ApprovalGate, evaluator *condition.Evaluator, clock core.Clock) *InstanceMachine {
	return &InstanceMachine{
		definitions: definitions,
		instances:   instances,
		actions:     actions,
		executor:    executor,
		gate:        gate,
		evaluator:   evaluator,
		clock:       clock,
	}
}

// Start creates the instance and runs it until it suspends or terminates.
func (m *InstanceMachine) Start(ctx context.Context, def *domain.WorkflowDefinition, trigger domain.TriggerData) (*domain.WorkflowInstance, error) {
	inst, err := m.Create(ctx, def, trigger)
	if err != nil {
		return nil, err
	}
	return m.Run(ctx, inst.ID)
}

// Create checks the trigger conditions against the trigger data, seeds the
// variables and persists a running instance positioned at step 0.
func (m *InstanceMachine) Create(ctx context.Context, def *domain.WorkflowDefinition, trigger domain.TriggerData) (*domain.WorkflowInstance, error) {
	if def.Status != domain.DefinitionActive {
		return nil, flowerrors.Validation("definition", "%s v%d is %s, only active definitions can be started", def.Name, def.Version, def.Status)
	}
	if trigger.EventName == "" {
		trigger.EventName = def.Trigger.EventName
	}
	if trigger.Data == nil {
		trigger.Data = map[string]any{}
	}
	ok, err := m.evaluator.Check(def.Trigger.Conditions, trigger.Data)
	if err != nil {
		slog.WarnContext(ctx, "Trigger conditions could not be evaluated", "definition", def.Name, "error", err)
	}
	if !ok {
		return nil, flowerrors.Validation("trigger", "conditions of %s v%d are not satisfied by the trigger data", def.Name, def.Version)
	}

	vars, err := seedVariables(def.Variables, trigger.Data)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	started := now
	inst := &domain.WorkflowInstance{
		ID:                uuid.NewString(),
		DefinitionID:      def.ID,
		DefinitionName:    def.Name,
		DefinitionVersion: def.Version,
		Status:            domain.InstanceRunning,
		Trigger:           domain.TriggerData{EventName: trigger.EventName, Data: domain.CopyMap(trigger.Data)},
		Variables:         vars,
		CurrentStep:       domain.CurrentStep{Index: 0},
		Steps:             make([]domain.StepLog, len(def.Steps)),
		CreatedBy:         core.UsernameFrom(ctx),
		Created:           now,
		Started:           &started,
	}
	for i, s := range def.Steps {
		inst.Steps[i] = domain.StepLog{Name: s.Name, Type: s.Type, Status: domain.StepPending}
	}
	if err := m.instances.Save(ctx, inst); err != nil {
		return nil, fmt.Errorf("save instance: %w", err)
	}
	m.record(ctx, inst.ID, 0, internaldomain.ActionCreated, "", fmt.Sprintf("created from %s v%d by event %q", def.Name, def.Version, trigger.EventName))
	slog.InfoContext(ctx, "Instance created", "instance_id", inst.ID, "definition", def.Name, "version", def.Version)
	return inst, nil
}

// Run drives the instance until it completes, fails, or suspends on an approval step.
func (m *InstanceMachine) Run(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	inst, err := m.instances.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	def, err := m.definitions.FindByID(ctx, inst.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("load definition %s: %w", inst.DefinitionID, err)
	}

	for {
		if inst.Status != domain.InstanceRunning {
			return inst, nil
		}
		idx := inst.CurrentStep.Index
		if idx >= len(def.Steps) {
			next, effects := CompleteInstance(inst, m.clock.Now().UTC())
			inst, err = m.commit(ctx, next, effects)
			if errors.Is(err, errSuperseded) {
				return inst, nil
			}
			if err == nil {
				slog.InfoContext(ctx, "Instance completed", "instance_id", inst.ID, "duration_ms", inst.DurationMs)
			}
			return inst, err
		}
		if inst.Steps[idx].Status == domain.StepWaiting {
			return inst, nil
		}

		step := def.Steps[idx]
		next, effects := StartStep(inst, m.clock.Now().UTC())
		if inst, err = m.commit(ctx, next, effects); err != nil {
			return m.stopped(inst, err)
		}

		if step.Type == domain.StepApproval {
			var resumed bool
			inst, resumed, err = m.suspend(ctx, inst, idx, step)
			if err != nil || !resumed {
				return m.stopped(inst, err)
			}
			continue
		}

		slog.InfoContext(ctx, "Executing step", "instance_id", inst.ID, "step", step.Name, "index", idx, "type", step.Type)
		result, execErr := m.executor.Execute(ctx, step, StepContext{
			InstanceID: inst.ID, DefinitionName: inst.DefinitionName, StepIndex: idx, Data: inst.Context(),
		})
		if execErr == nil {
			next, effects = CompleteStep(inst, result.Output, result.Attempts, m.clock.Now().UTC())
			if inst, err = m.commit(ctx, next, effects); err != nil {
				return m.stopped(inst, err)
			}
			continue
		}
		if ctx.Err() != nil {
			// shutting down; recovery picks the instance up again
			slog.WarnContext(ctx, "Run interrupted", "instance_id", inst.ID, "step", step.Name, "error", ctx.Err())
			return inst, ctx.Err()
		}

		inst, err = m.handleFailure(ctx, inst, def, step, idx, execErr)
		if err != nil {
			return m.stopped(inst, err)
		}
	}
}

// handleFailure records the failed step and applies its error handling policy.
func (m *InstanceMachine) handleFailure(ctx context.Context, inst *domain.WorkflowInstance, def *domain.WorkflowDefinition,
	step domain.StepSpec, idx int, execErr error) (*domain.WorkflowInstance, error) {
	attempts := attemptsOf(execErr)
	next, effects := FailStep(inst, execErr, attempts, m.clock.Now().UTC())
	inst, err := m.commit(ctx, next, effects)
	if err != nil {
		return inst, err
	}

	policy := step.ErrorHandling
	switch {
	case policy.ContinueOnError || policy.FallbackAction == domain.FallbackSkip:
		slog.WarnContext(ctx, "Continuing past failed step", "instance_id", inst.ID, "step", step.Name, "error", execErr)
		next, effects = ContinueAfterFailure(inst)
		return m.commit(ctx, next, effects)

	case policy.FallbackAction == domain.FallbackAlternate && policy.Alternate != nil:
		alt := *policy.Alternate
		slog.InfoContext(ctx, "Running alternate step", "instance_id", inst.ID, "step", step.Name, "alternate", alt.Name)
		result, altErr := m.executor.Execute(ctx, alt, StepContext{
			InstanceID: inst.ID, DefinitionName: inst.DefinitionName, StepIndex: idx, Data: inst.Context(),
		})
		if altErr == nil {
			output := domain.CopyMap(result.Output)
			if output == nil {
				output = map[string]any{}
			}
			output["alternate"] = alt.Name
			next, effects = CompleteStep(inst, output, attempts+result.Attempts, m.clock.Now().UTC())
			return m.commit(ctx, next, effects)
		}
		execErr = fmt.Errorf("%w; alternate %s: %v", execErr, alt.Name, altErr)

	case policy.FallbackAction == domain.FallbackRetry:
		slog.DebugContext(ctx, "Retry fallback has no attempts left", "instance_id", inst.ID, "step", step.Name, "attempts", attempts)
	}

	next, effects = FailInstance(inst, execErr, idx, m.clock.Now().UTC())
	inst, err = m.commit(ctx, next, effects)
	if err == nil {
		slog.ErrorContext(ctx, "Instance failed", "instance_id", inst.ID, "step", step.Name, "index", idx, "error", execErr)
	}
	return inst, err
}

// suspend opens the approval task and parks the instance on it. A task that was
// decided before the instance was parked is settled at once; resumed reports
// whether this call advanced past the step.
func (m *InstanceMachine) suspend(ctx context.Context, inst *domain.WorkflowInstance, idx int,
	step domain.StepSpec) (out *domain.WorkflowInstance, resumed bool, err error) {
	task, err := m.gate.CreateTask(ctx, inst, idx, step)
	if err != nil {
		slog.ErrorContext(ctx, "Approval task could not be created", "instance_id", inst.ID, "step", step.Name, "error", err)
		cause := err
		if !flowerrors.IsValidation(err) {
			cause = &flowerrors.StepExecutionError{StepIndex: idx, StepName: step.Name, Attempts: 1, Err: err}
		}
		next, effects := FailInstance(inst, cause, idx, m.clock.Now().UTC())
		out, err = m.commit(ctx, next, effects)
		return out, false, err
	}
	next, effects := WaitStep(inst, task.ID)
	if inst, err = m.commit(ctx, next, effects); err != nil {
		return inst, false, err
	}
	slog.InfoContext(ctx, "Instance waiting for approval", "instance_id", inst.ID, "step", step.Name, "task_id", task.ID)

	// votes landing between task creation and the commit above found the step
	// still running and were dropped as stale
	task, err = m.gate.Get(ctx, task.ID)
	if err != nil {
		return inst, false, fmt.Errorf("reload approval task: %w", err)
	}
	return m.Settle(ctx, inst.ID, task)
}

// Settle applies a decided task to the instance parked on it: approved tasks
// advance the step, rejected and expired ones fail the instance. It is a no-op
// for pending tasks and for instances no longer waiting on the task's step.
// resumed is true only when this call advanced the step.
func (m *InstanceMachine) Settle(ctx context.Context, id string, task *domain.ApprovalTask) (*domain.WorkflowInstance, bool, error) {
	effect, decided := DecisionEffect(task)
	if !decided {
		inst, err := m.instances.FindByID(ctx, id)
		return inst, false, err
	}
	idx := task.StepIndex
	resumed := false
	inst, err := m.mutate(ctx, id, func(cur *domain.WorkflowInstance) (*domain.WorkflowInstance, []Effect) {
		if cur.Status != domain.InstanceRunning || cur.CurrentStep.Index != idx ||
			idx >= len(cur.Steps) || cur.Steps[idx].Status != domain.StepWaiting {
			return cur, nil
		}
		if effect.Kind == EffectResume {
			next, effects, ok := AdvanceApproval(cur, idx, effect.Output, m.clock.Now().UTC())
			resumed = ok
			return next, effects
		}
		return FailInstance(cur, effect.Err, idx, m.clock.Now().UTC())
	})
	if err == nil && inst != nil && (resumed || inst.Status == domain.InstanceFailed) {
		slog.InfoContext(ctx, "Settled decided approval task", "instance_id", id, "task_id", task.ID,
			"task_status", task.Status, "instance_status", inst.Status)
	}
	return inst, resumed, err
}

// Resume completes the approval step at stepIndex and continues the run.
// Stale resumes are no-ops.
func (m *InstanceMachine) Resume(ctx context.Context, id string, stepIndex int, output map[string]any) error {
	advanced, err := m.AdvanceApproval(ctx, id, stepIndex, output)
	if err != nil || !advanced {
		return err
	}
	_, err = m.Run(ctx, id)
	return err
}

// AdvanceApproval is Resume without continuing the run.
func (m *InstanceMachine) AdvanceApproval(ctx context.Context, id string, stepIndex int, output map[string]any) (bool, error) {
	advanced := false
	_, err := m.mutate(ctx, id, func(inst *domain.WorkflowInstance) (*domain.WorkflowInstance, []Effect) {
		next, effects, ok := AdvanceApproval(inst, stepIndex, output, m.clock.Now().UTC())
		advanced = ok
		return next, effects
	})
	if err == nil && !advanced {
		slog.InfoContext(ctx, "Ignoring stale resume", "instance_id", id, "step_index", stepIndex)
	}
	return advanced, err
}

// Fail marks the instance failed at stepIndex. It is a no-op on terminal instances.
func (m *InstanceMachine) Fail(ctx context.Context, id string, stepIndex int, cause error) error {
	_, err := m.mutate(ctx, id, func(inst *domain.WorkflowInstance) (*domain.WorkflowInstance, []Effect) {
		return FailInstance(inst, cause, stepIndex, m.clock.Now().UTC())
	})
	return err
}

// Cancel stops the instance. A running step handler is not interrupted but its
// result is discarded.
func (m *InstanceMachine) Cancel(ctx context.Context, id, reason string) (*domain.WorkflowInstance, error) {
	return m.mutate(ctx, id, func(inst *domain.WorkflowInstance) (*domain.WorkflowInstance, []Effect) {
		return CancelInstance(inst, reason, m.clock.Now().UTC())
	})
}

// TimeOut applies the definition's overall timeout action. It returns false if
// the instance was already terminal.
func (m *InstanceMachine) TimeOut(ctx context.Context, inst *domain.WorkflowInstance, def *domain.WorkflowDefinition) (bool, error) {
	if inst.Status.Terminal() {
		return false, nil
	}
	cause := &flowerrors.WorkflowTimeoutError{Timeout: def.Timeout.Duration()}
	idx := inst.CurrentStep.Index

	if def.Timeout.Action == domain.TimeoutCallback && def.Timeout.Callback != "" {
		callback := domain.StepSpec{
			Name:      "timeout-callback",
			Type:      domain.StepFunction,
			Config:    map[string]any{"name": def.Timeout.Callback},
			TimeoutMs: def.Timeout.DurationMs,
		}
		if _, err := m.executor.Execute(ctx, callback, StepContext{
			InstanceID: inst.ID, DefinitionName: inst.DefinitionName, StepIndex: idx, Data: inst.Context(),
		}); err != nil {
			slog.ErrorContext(ctx, "Timeout callback failed", "instance_id", inst.ID, "callback", def.Timeout.Callback, "error", err)
		}
	}

	changed := false
	_, err := m.mutate(ctx, inst.ID, func(cur *domain.WorkflowInstance) (*domain.WorkflowInstance, []Effect) {
		var (
			next    *domain.WorkflowInstance
			effects []Effect
		)
		if def.Timeout.Action == domain.TimeoutComplete {
			next, effects = CompleteInstance(cur, m.clock.Now().UTC())
		} else {
			next, effects = FailInstance(cur, cause, cur.CurrentStep.Index, m.clock.Now().UTC())
		}
		if len(effects) > 0 {
			changed = true
			effects = append(effects, record(internaldomain.ActionTimedOut, cur.CurrentStep.Index, "%s", cause.Error()))
		}
		return next, effects
	})
	if changed && err == nil {
		slog.WarnContext(ctx, "Instance timed out", "instance_id", inst.ID, "action", def.Timeout.Action, "timeout", cause.Timeout.String())
	}
	return changed, err
}

// mutate loads the instance, applies fn and writes the result, reloading and
// reapplying when another writer got there first.
func (m *InstanceMachine) mutate(ctx context.Context, id string,
	fn func(*domain.WorkflowInstance) (*domain.WorkflowInstance, []Effect)) (*domain.WorkflowInstance, error) {
	for i := 0; ; i++ {
		inst, err := m.instances.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		next, effects := fn(inst)
		if len(effects) == 0 {
			return inst, nil
		}
		out, err := m.commit(ctx, next, effects)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, errSuperseded) || i+1 >= mutateAttempts {
			return out, err
		}
	}
}

// commit persists next with a compare-and-swap on its revision and writes the
// audit rows. On a lost race it returns the stored instance and errSuperseded.
func (m *InstanceMachine) commit(ctx context.Context, next *domain.WorkflowInstance, effects []Effect) (*domain.WorkflowInstance, error) {
	for _, e := range effects {
		if e.Kind != EffectPersist {
			continue
		}
		if err := m.instances.Update(ctx, next); err != nil {
			if !flowerrors.IsConflict(err) {
				return next, fmt.Errorf("update instance %s: %w", next.ID, err)
			}
			fresh, ferr := m.instances.FindByID(ctx, next.ID)
			if ferr != nil {
				return next, ferr
			}
			slog.InfoContext(ctx, "Instance changed concurrently", "instance_id", next.ID, "status", fresh.Status, "revision", fresh.Revision)
			return fresh, errSuperseded
		}
		break
	}
	for _, e := range effects {
		if e.Kind == EffectRecord {
			name := ""
			if e.StepIndex >= 0 && e.StepIndex < len(next.Steps) {
				name = next.Steps[e.StepIndex].Name
			}
			m.record(ctx, next.ID, e.StepIndex, e.Action, name, e.Text)
		}
	}
	return next, nil
}

// stopped ends a run after a lost race without reporting an error.
func (m *InstanceMachine) stopped(inst *domain.WorkflowInstance, err error) (*domain.WorkflowInstance, error) {
	if errors.Is(err, errSuperseded) {
		return inst, nil
	}
	return inst, err
}

func (m *InstanceMachine) record(ctx context.Context, instanceID string, stepIndex int, action, name, text string) {
	if m.actions == nil {
		return
	}
	if _, err := m.actions.Save(ctx, &internaldomain.InstanceAction{
		InstanceID: instanceID,
		StepIndex:  stepIndex,
		Type:       action,
		Name:       name,
		Text:       text,
		DateTime:   m.clock.Now().UTC(),
	}); err != nil {
		slog.WarnContext(ctx, "Failed to record instance action", "instance_id", instanceID, "action", action, "error", err)
	}
}

func attemptsOf(err error) int {
	var se *flowerrors.StepExecutionError
	if errors.As(err, &se) {
		return se.Attempts
	}
	return 1
}

// seedVariables applies schema defaults, then values from the trigger data for
// declared variables, and enforces required and typed variables.
func seedVariables(schema map[string]domain.VariableSpec, data map[string]any) (map[string]any, error) {
	vars := make(map[string]any, len(schema))
	for name, spec := range schema {
		if spec.DefaultValue != nil {
			vars[name] = domain.CopyValue(spec.DefaultValue)
		}
		if v, ok := data[name]; ok {
			vars[name] = domain.CopyValue(v)
		}
		v, present := vars[name]
		if !present || v == nil {
			if spec.Required {
				return nil, flowerrors.Validation("variables."+name, "required variable is missing")
			}
			continue
		}
		if !matchesType(spec.Type, v) {
			return nil, flowerrors.Validation("variables."+name, "expected %s, got %T", spec.Type, v)
		}
	}
	return vars, nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "", domain.VarAny:
		return true
	case domain.VarString:
		_, ok := v.(string)
		return ok
	case domain.VarNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64, uint, uint32, uint64:
			return true
		}
		return false
	case domain.VarBoolean:
		_, ok := v.(bool)
		return ok
	case domain.VarObject:
		_, ok := v.(map[string]any)
		return ok
	case domain.VarArray:
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	}
	return false
}
