package engine

import (
	"fmt"
	"time"

	internaldomain "github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// Transitions never mutate their input. They return the next state and the
// side effects the caller has to apply once the new state is persisted.

type EffectKind int

const (
	EffectPersist EffectKind = iota + 1
	EffectResume
	EffectFail
	EffectRecord
)

type Effect struct {
	Kind      EffectKind
	StepIndex int
	Output    map[string]any
	Err       error
	// Action and Text describe an audit row for EffectRecord.
	Action string
	Text   string
}

func persist() Effect { return Effect{Kind: EffectPersist} }

func record(action string, stepIndex int, format string, args ...any) Effect {
	return Effect{Kind: EffectRecord, Action: action, StepIndex: stepIndex, Text: fmt.Sprintf(format, args...)}
}

// ---- approval tasks ----

// ApplyVote records user's vote and recomputes the task status.
func ApplyVote(task *domain.ApprovalTask, user string, action domain.VoteAction, comment string, now time.Time) (*domain.ApprovalTask, []Effect, error) {
	if task.Status.Terminal() {
		return nil, nil, flowerrors.Conflict("approval task", task.ID, "already %s", task.Status)
	}
	var vote domain.VoteStatus
	switch action {
	case domain.ActionApprove:
		vote = domain.VoteApproved
	case domain.ActionReject:
		vote = domain.VoteRejected
	default:
		return nil, nil, flowerrors.Validation("action", "must be %q or %q, got %q", domain.ActionApprove, domain.ActionReject, action)
	}
	idx := task.ApproverIndex(user)
	if idx < 0 {
		return nil, nil, flowerrors.NotFound("approver", user)
	}

	next := task.Clone()
	ts := now
	next.Approvers[idx] = domain.Approver{User: user, Status: vote, Comment: comment, Timestamp: &ts}

	effects := []Effect{persist(), record(internaldomain.ActionVote, task.StepIndex, "%s voted %s", user, action)}
	switch decide(next) {
	case domain.TaskRejected:
		next.Status = domain.TaskRejected
		next.DecidedBy = user
		next.Resolved = &ts
	case domain.TaskApproved:
		next.Status = domain.TaskApproved
		next.DecidedBy = user
		next.Resolved = &ts
	}
	if effect, decided := DecisionEffect(next); decided {
		effects = append(effects, effect)
	}
	return next, effects, nil
}

// ExpireTask closes a pending task whose deadline passed.
func ExpireTask(task *domain.ApprovalTask, now time.Time) (*domain.ApprovalTask, []Effect, error) {
	if task.Status.Terminal() {
		return nil, nil, flowerrors.Conflict("approval task", task.ID, "already %s", task.Status)
	}
	if now.Before(task.Deadline) {
		return nil, nil, flowerrors.Conflict("approval task", task.ID, "deadline %s not reached", task.Deadline.UTC().Format(time.RFC3339))
	}
	next := task.Clone()
	ts := now
	next.Status = domain.TaskExpired
	next.DecidedBy = domain.DecidedBySystemExpiry
	next.Resolved = &ts
	effect, _ := DecisionEffect(next)
	return next, []Effect{persist(), effect}, nil
}

// DecisionEffect is the resume or fail effect a decided task has on its
// instance. decided is false while the task is pending.
func DecisionEffect(task *domain.ApprovalTask) (effect Effect, decided bool) {
	switch task.Status {
	case domain.TaskApproved:
		return Effect{Kind: EffectResume, StepIndex: task.StepIndex, Output: approvalOutput(task)}, true
	case domain.TaskRejected:
		comment := ""
		if i := task.ApproverIndex(task.DecidedBy); i >= 0 {
			comment = task.Approvers[i].Comment
		}
		return Effect{
			Kind:      EffectFail,
			StepIndex: task.StepIndex,
			Err: &flowerrors.ApprovalRejectedError{
				TaskID: task.ID, StepIndex: task.StepIndex, Approver: task.DecidedBy, Comment: comment,
			},
		}, true
	case domain.TaskExpired:
		return Effect{
			Kind:      EffectFail,
			StepIndex: task.StepIndex,
			Err:       &flowerrors.ApprovalExpiredError{TaskID: task.ID, StepIndex: task.StepIndex, Deadline: task.Deadline},
		}, true
	}
	return Effect{}, false
}

// decide applies the veto rule first, then the quorum of the task type.
func decide(task *domain.ApprovalTask) domain.TaskStatus {
	for _, a := range task.Approvers {
		if a.Status == domain.VoteRejected {
			return domain.TaskRejected
		}
	}
	if quorumReached(task) {
		return domain.TaskApproved
	}
	return domain.TaskPending
}

func quorumReached(task *domain.ApprovalTask) bool {
	approved := task.ApprovedCount()
	switch task.Type {
	case domain.ApprovalMultiple:
		return approved >= task.RequiredApprovals
	case domain.ApprovalPercentage:
		if len(task.Approvers) == 0 {
			return false
		}
		return float64(approved)/float64(len(task.Approvers))*100 >= task.RequiredPercentage
	default:
		return approved >= 1
	}
}

func approvalOutput(task *domain.ApprovalTask) map[string]any {
	approvers := make([]any, 0, len(task.Approvers))
	for _, a := range task.Approvers {
		approvers = append(approvers, map[string]any{"user": a.User, "status": string(a.Status), "comment": a.Comment})
	}
	return map[string]any{
		"taskId":    task.ID,
		"status":    string(task.Status),
		"decidedBy": task.DecidedBy,
		"approved":  task.ApprovedCount(),
		"approvers": approvers,
	}
}

// ---- instances ----

// StartStep marks the current step running.
func StartStep(inst *domain.WorkflowInstance, now time.Time) (*domain.WorkflowInstance, []Effect) {
	next := inst.Clone()
	idx := next.CurrentStep.Index
	ts := now
	next.CurrentStep.StartTime = &ts
	next.CurrentStep.RetryCount = 0
	log := &next.Steps[idx]
	log.Status = domain.StepRunning
	log.StartTime = &ts
	log.EndTime = nil
	log.Error = ""
	return next, []Effect{persist(), record(internaldomain.ActionStepStarted, idx, "step %s started", log.Name)}
}

// WaitStep suspends the instance on an approval task without advancing.
func WaitStep(inst *domain.WorkflowInstance, taskID string) (*domain.WorkflowInstance, []Effect) {
	next := inst.Clone()
	idx := next.CurrentStep.Index
	next.Steps[idx].Status = domain.StepWaiting
	next.Steps[idx].Output = map[string]any{"taskId": taskID}
	return next, []Effect{persist(), record(internaldomain.ActionWaiting, idx, "waiting on approval task %s", taskID)}
}

// CompleteStep stores output, merges output variables and advances the index.
func CompleteStep(inst *domain.WorkflowInstance, output map[string]any, attempts int, now time.Time) (*domain.WorkflowInstance, []Effect) {
	next := inst.Clone()
	idx := next.CurrentStep.Index
	ts := now
	log := &next.Steps[idx]
	log.Status = domain.StepCompleted
	log.EndTime = &ts
	log.Attempts = attempts
	log.Error = ""
	log.Output = domain.CopyMap(output)
	mergeVariables(next, output)
	advance(next)
	return next, []Effect{persist(), record(internaldomain.ActionStepCompleted, idx, "step %s completed after %d attempt(s)", log.Name, attempts)}
}

// FailStep records a failed step without touching the instance status.
func FailStep(inst *domain.WorkflowInstance, cause error, attempts int, now time.Time) (*domain.WorkflowInstance, []Effect) {
	next := inst.Clone()
	idx := next.CurrentStep.Index
	ts := now
	log := &next.Steps[idx]
	log.Status = domain.StepFailed
	log.EndTime = &ts
	log.Attempts = attempts
	log.Error = cause.Error()
	next.CurrentStep.RetryCount = max(attempts-1, 0)
	return next, []Effect{persist(), record(internaldomain.ActionStepFailed, idx, "step %s failed: %v", log.Name, cause)}
}

// ContinueAfterFailure advances past a failed step whose error handling allows it.
func ContinueAfterFailure(inst *domain.WorkflowInstance) (*domain.WorkflowInstance, []Effect) {
	next := inst.Clone()
	idx := next.CurrentStep.Index
	advance(next)
	return next, []Effect{persist(), record(internaldomain.ActionStepSkipped, idx, "continuing past failed step %s", next.Steps[idx].Name)}
}

// AdvanceApproval completes a waiting approval step. ok is false for stale
// requests: wrong index, instance not running or step not waiting.
func AdvanceApproval(inst *domain.WorkflowInstance, stepIndex int, output map[string]any, now time.Time) (*domain.WorkflowInstance, []Effect, bool) {
	if inst.Status != domain.InstanceRunning || inst.CurrentStep.Index != stepIndex ||
		stepIndex >= len(inst.Steps) || inst.Steps[stepIndex].Status != domain.StepWaiting {
		return inst, nil, false
	}
	next := inst.Clone()
	ts := now
	log := &next.Steps[stepIndex]
	log.Status = domain.StepCompleted
	log.EndTime = &ts
	log.Output = domain.CopyMap(output)
	advance(next)
	return next, []Effect{persist(), record(internaldomain.ActionResumed, stepIndex, "approval step %s completed", log.Name)}, true
}

// FailInstance is a no-op on terminal instances.
func FailInstance(inst *domain.WorkflowInstance, cause error, stepIndex int, now time.Time) (*domain.WorkflowInstance, []Effect) {
	if inst.Status.Terminal() {
		return inst, nil
	}
	next := inst.Clone()
	finish(next, domain.InstanceFailed, now)
	next.Error = &domain.InstanceError{Code: flowerrors.Code(cause), Message: cause.Error(), StepIndex: stepIndex}
	if stepIndex >= 0 && stepIndex < len(next.Steps) {
		log := &next.Steps[stepIndex]
		if log.Status == domain.StepWaiting || log.Status == domain.StepRunning {
			ts := now
			log.Status = domain.StepFailed
			log.EndTime = &ts
			log.Error = cause.Error()
		}
	}
	return next, []Effect{persist(), record(internaldomain.ActionFailed, stepIndex, "%s", cause.Error())}
}

// CompleteInstance is a no-op on terminal instances.
func CompleteInstance(inst *domain.WorkflowInstance, now time.Time) (*domain.WorkflowInstance, []Effect) {
	if inst.Status.Terminal() {
		return inst, nil
	}
	next := inst.Clone()
	finish(next, domain.InstanceCompleted, now)
	return next, []Effect{persist(), record(internaldomain.ActionCompleted, next.CurrentStep.Index, "instance completed")}
}

// CancelInstance is a no-op on terminal instances.
func CancelInstance(inst *domain.WorkflowInstance, reason string, now time.Time) (*domain.WorkflowInstance, []Effect) {
	if inst.Status.Terminal() {
		return inst, nil
	}
	next := inst.Clone()
	finish(next, domain.InstanceCancelled, now)
	cause := &flowerrors.CancelledError{Reason: reason}
	next.Error = &domain.InstanceError{Code: flowerrors.CodeCancelled, Message: cause.Error(), StepIndex: next.CurrentStep.Index}
	return next, []Effect{persist(), record(internaldomain.ActionCancelled, next.CurrentStep.Index, "%s", cause.Error())}
}

func advance(inst *domain.WorkflowInstance) {
	if inst.CurrentStep.Index < len(inst.Steps) {
		inst.CurrentStep.Index++
	}
	inst.CurrentStep.StartTime = nil
	inst.CurrentStep.RetryCount = 0
}

func finish(inst *domain.WorkflowInstance, status domain.InstanceStatus, now time.Time) {
	ts := now
	inst.Status = status
	inst.Ended = &ts
	start := inst.Created
	if inst.Started != nil {
		start = *inst.Started
	}
	inst.DurationMs = now.Sub(start).Milliseconds()
}

func mergeVariables(inst *domain.WorkflowInstance, output map[string]any) {
	vars, ok := output["variables"].(map[string]any)
	if !ok {
		return
	}
	if inst.Variables == nil {
		inst.Variables = make(map[string]any, len(vars))
	}
	for k, v := range vars {
		inst.Variables[k] = domain.CopyValue(v)
	}
}
