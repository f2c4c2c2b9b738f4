package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	"github.com/RealZimboGuy/stepflow/internal/config"
	internaldomain "github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// WorkflowManager is the API surface of the engine: definition versioning,
// instance lifecycle, approvals and event dispatch. Instances are driven by a
// pool of workers reading instance ids from a queue.
type WorkflowManager struct {
	DefinitionRepo DefinitionRepo
	InstanceRepo   InstanceRepo
	TaskRepo       TaskRepo
	ActionRepo     InstanceActionRepo

	handlers  *HandlerRegistry
	evaluator *condition.Evaluator
	validator *DefinitionValidator
	executor  *StepExecutor
	machine   *InstanceMachine
	gate      *ApprovalGate
	triggers  *TriggerRegistry
	sweeper   *ExpirySweeper
	clock     core.Clock

	queue           chan string
	workers         int
	synchronous     bool
	defaultDeadline time.Duration
	sweepBatch      int

	// activation is serialised so triggers match the stored active version.
	activation sync.Mutex
}

type Option func(*WorkflowManager)

// WithSynchronousExecution runs instances on the calling goroutine instead of
// the worker pool. StartInstance and Vote return after the run suspends or ends.
func WithSynchronousExecution() Option {
	return func(wm *WorkflowManager) { wm.synchronous = true }
}

func WithWorkers(n int) Option {
	return func(wm *WorkflowManager) {
		if n > 0 {
			wm.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(wm *WorkflowManager) {
		if n > 0 {
			wm.queue = make(chan string, n)
		}
	}
}

func WithEvaluator(e *condition.Evaluator) Option {
	return func(wm *WorkflowManager) { wm.evaluator = e }
}

func WithDefaultApprovalDeadline(d time.Duration) Option {
	return func(wm *WorkflowManager) {
		if d > 0 {
			wm.defaultDeadline = d
		}
	}
}

func WithSweepBatchSize(n int) Option {
	return func(wm *WorkflowManager) { wm.sweepBatch = n }
}

func NewWorkflowManager(definitionRepo DefinitionRepo, instanceRepo InstanceRepo, taskRepo TaskRepo, actionRepo InstanceActionRepo,
	handlers *HandlerRegistry, clock core.Clock, opts ...Option) *WorkflowManager {
	wm := &WorkflowManager{
		DefinitionRepo:  definitionRepo,
		InstanceRepo:    instanceRepo,
		TaskRepo:        taskRepo,
		ActionRepo:      actionRepo,
		handlers:        handlers,
		clock:           clock,
		workers:         config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE),
		defaultDeadline: config.GetSystemSettingDuration(config.APPROVAL_DEFAULT_DEADLINE),
		sweepBatch:      config.GetSystemSettingInteger(config.ENGINE_EXPIRY_BATCH_SIZE),
	}
	for _, opt := range opts {
		opt(wm)
	}
	if wm.evaluator == nil {
		wm.evaluator = condition.New(condition.WithMaxDepth(config.GetSystemSettingInteger(config.CONDITION_MAX_DEPTH)))
	}
	if wm.queue == nil {
		size := config.GetSystemSettingInteger(config.ENGINE_QUEUE_SIZE)
		if size <= 0 {
			size = 100
		}
		wm.queue = make(chan string, size)
	}
	if wm.workers <= 0 {
		wm.workers = 1
	}

	wm.validator = NewDefinitionValidator(wm.evaluator, handlers)
	wm.executor = NewStepExecutor(handlers, clock)
	wm.gate = NewApprovalGate(taskRepo, actionRepo, clock, wm.defaultDeadline)
	wm.machine = NewInstanceMachine(definitionRepo, instanceRepo, actionRepo, wm.executor, wm.gate, wm.evaluator, clock)
	wm.gate.Bind(&queuedDriver{wm: wm})
	wm.triggers = NewTriggerRegistry(wm.evaluator)
	wm.triggers.Bind(wm)
	wm.sweeper = NewExpirySweeper(taskRepo, instanceRepo, definitionRepo, wm.gate, wm.machine, clock, wm.sweepBatch)
	return wm
}

func (wm *WorkflowManager) Triggers() *TriggerRegistry { return wm.triggers }
func (wm *WorkflowManager) Sweeper() *ExpirySweeper    { return wm.sweeper }
func (wm *WorkflowManager) Machine() *InstanceMachine  { return wm.machine }

// StepTypes lists the step types that have a registered handler. Approval is always supported.
func (wm *WorkflowManager) StepTypes() []domain.StepType {
	return append(wm.handlers.Types(), domain.StepApproval)
}

// ---- definitions ----

// CreateDefinition stores a new draft. A name that already exists gets the next version.
func (wm *WorkflowManager) CreateDefinition(ctx context.Context, req models.CreateDefinitionRequest) (*domain.WorkflowDefinition, error) {
	def := newDefinition(req)
	def.CreatedBy = core.UsernameFrom(ctx)
	if err := wm.validator.Validate(def); err != nil {
		return nil, err
	}
	if err := wm.saveNewVersion(ctx, def); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Definition created", "definition_id", def.ID, "name", def.Name, "version", def.Version)
	return def, nil
}

// ReviseDefinition stores a new draft version of the definition behind id with
// update applied. The revised version is left untouched.
func (wm *WorkflowManager) ReviseDefinition(ctx context.Context, id string, update models.DefinitionUpdate) (*domain.WorkflowDefinition, error) {
	base, err := wm.DefinitionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	def := reviseDefinition(base, update)
	def.CreatedBy = core.UsernameFrom(ctx)
	if err := wm.validator.Validate(def); err != nil {
		return nil, err
	}
	if err := wm.saveNewVersion(ctx, def); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Definition revised", "definition_id", def.ID, "name", def.Name, "version", def.Version, "from_version", base.Version)
	return def, nil
}

func (wm *WorkflowManager) saveNewVersion(ctx context.Context, def *domain.WorkflowDefinition) error {
	maxVersion, err := wm.DefinitionRepo.MaxVersion(ctx, def.Name)
	if err != nil {
		return fmt.Errorf("read max version of %s: %w", def.Name, err)
	}
	now := wm.clock.Now().UTC()
	def.ID = uuid.NewString()
	def.Version = maxVersion + 1
	def.Status = domain.DefinitionDraft
	def.Created = now
	def.Updated = now
	if err := wm.DefinitionRepo.Save(ctx, def); err != nil {
		return fmt.Errorf("save definition %s v%d: %w", def.Name, def.Version, err)
	}
	return nil
}

// ActivateDefinition makes id the only active version of its name and moves the
// trigger listener over to it.
func (wm *WorkflowManager) ActivateDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	wm.activation.Lock()
	defer wm.activation.Unlock()

	def, err := wm.DefinitionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := wm.validator.Validate(def); err != nil {
		return nil, err
	}
	deactivated, err := wm.DefinitionRepo.ActivateExclusive(ctx, id, wm.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("activate %s: %w", id, err)
	}
	for _, old := range deactivated {
		wm.triggers.Unregister(old)
	}
	def, err = wm.DefinitionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := wm.triggers.Register(def); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Definition activated", "definition_id", id, "name", def.Name, "version", def.Version, "deactivated", len(deactivated))
	return def, nil
}

func (wm *WorkflowManager) DeactivateDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	wm.activation.Lock()
	defer wm.activation.Unlock()

	def, err := wm.DefinitionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if def.Status != domain.DefinitionActive {
		return nil, flowerrors.Conflict("definition", id, "is %s, not active", def.Status)
	}
	if err := wm.DefinitionRepo.UpdateStatus(ctx, id, domain.DefinitionInactive, wm.clock.Now().UTC()); err != nil {
		return nil, err
	}
	wm.triggers.Unregister(id)
	slog.InfoContext(ctx, "Definition deactivated", "definition_id", id, "name", def.Name, "version", def.Version)
	return wm.DefinitionRepo.FindByID(ctx, id)
}

func (wm *WorkflowManager) GetDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	return wm.DefinitionRepo.FindByID(ctx, id)
}

// ListDefinitions returns every version of name, or all definitions when name is empty.
func (wm *WorkflowManager) ListDefinitions(ctx context.Context, name string) ([]domain.WorkflowDefinition, error) {
	if name != "" {
		return wm.DefinitionRepo.FindByName(ctx, name)
	}
	return wm.DefinitionRepo.FindAll(ctx)
}

// ---- instances ----

// StartInstance creates an instance of the definition and hands it to the workers.
func (wm *WorkflowManager) StartInstance(ctx context.Context, definitionID string, trigger domain.TriggerData) (*domain.WorkflowInstance, error) {
	def, err := wm.DefinitionRepo.FindByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	inst, err := wm.machine.Create(ctx, def, trigger)
	if err != nil {
		return nil, err
	}
	if wm.synchronous {
		return wm.machine.Run(ctx, inst.ID)
	}
	wm.schedule(ctx, inst.ID)
	return inst, nil
}

func (wm *WorkflowManager) GetInstance(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	return wm.InstanceRepo.FindByID(ctx, id)
}

func (wm *WorkflowManager) SearchInstances(ctx context.Context, req models.SearchInstancesRequest) ([]domain.WorkflowInstance, error) {
	return wm.InstanceRepo.Search(ctx, req)
}

// CancelInstance is idempotent: cancelling a terminal instance returns it unchanged.
func (wm *WorkflowManager) CancelInstance(ctx context.Context, id, reason string) (*domain.WorkflowInstance, error) {
	if reason == "" {
		if user := core.UsernameFrom(ctx); user != "" {
			reason = "cancelled by " + user
		}
	}
	return wm.machine.Cancel(ctx, id, reason)
}

func (wm *WorkflowManager) ListInstanceActions(ctx context.Context, id string) ([]internaldomain.InstanceAction, error) {
	if _, err := wm.InstanceRepo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return wm.ActionRepo.FindAllByInstanceID(ctx, id)
}

// ---- approvals ----

func (wm *WorkflowManager) Vote(ctx context.Context, taskID, userID string, action domain.VoteAction, comment string) (*domain.ApprovalTask, error) {
	if userID == "" {
		return nil, flowerrors.Validation("userId", "is required")
	}
	return wm.gate.Vote(ctx, taskID, userID, action, comment)
}

func (wm *WorkflowManager) GetTask(ctx context.Context, id string) (*domain.ApprovalTask, error) {
	return wm.gate.Get(ctx, id)
}

func (wm *WorkflowManager) ListPendingApprovals(ctx context.Context, filter models.ApprovalFilter) ([]domain.ApprovalTask, error) {
	return wm.gate.ListPending(ctx, filter)
}

// ---- events ----

func (wm *WorkflowManager) DispatchEvent(ctx context.Context, eventName string, data map[string]any) ([]*domain.WorkflowInstance, error) {
	if eventName == "" {
		return nil, flowerrors.Validation("eventName", "is required")
	}
	return wm.triggers.Dispatch(ctx, eventName, data)
}

// ---- engine loop ----

// StartEngine registers the triggers of active definitions, starts the workers
// and the expiry sweeper, re-queues running instances and blocks until ctx is done.
func (wm *WorkflowManager) StartEngine(ctx context.Context, sweepInterval time.Duration) {
	if err := wm.RegisterActiveTriggers(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to register active triggers", "error", err)
	}

	slog.InfoContext(ctx, "Starting workflow engine", "workers", wm.workers, "queue_size", cap(wm.queue))
	var wg sync.WaitGroup
	for i := 0; i < wm.workers; i++ {
		wg.Add(1)
		workerContext := context.WithValue(ctx, core.CtxKeyWorkerId, i)
		go func(id int) {
			defer wg.Done()
			Worker(workerContext, id, wm.machine, wm.queue)
		}(i)
	}

	wm.recoverRunning(ctx)

	go wm.sweeper.Start(ctx, sweepInterval)
	slog.InfoContext(ctx, "Workflow engine started", "sweep_interval", sweepInterval.String())

	<-ctx.Done()
	slog.InfoContext(ctx, "Workflow engine stopping due to context cancel")
	wg.Wait()
}

// RegisterActiveTriggers subscribes every active definition.
func (wm *WorkflowManager) RegisterActiveTriggers(ctx context.Context) error {
	defs, err := wm.DefinitionRepo.FindActive(ctx)
	if err != nil {
		return err
	}
	for i := range defs {
		if err := wm.triggers.Register(&defs[i]); err != nil {
			slog.WarnContext(ctx, "Skipping trigger registration", "name", defs[i].Name, "error", err)
		}
	}
	return nil
}

// recoverRunning re-queues instances left running by a previous process. Instances
// parked on an approval stay parked unless their task was already decided.
func (wm *WorkflowManager) recoverRunning(ctx context.Context) {
	running, err := wm.InstanceRepo.FindRunning(ctx, cap(wm.queue))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to find running instances for recovery", "error", err)
		return
	}
	for _, inst := range running {
		idx := inst.CurrentStep.Index
		if idx < len(inst.Steps) && inst.Steps[idx].Status == domain.StepWaiting {
			wm.reconcileWaiting(ctx, &inst)
			continue
		}
		slog.WarnContext(ctx, "Recovering running instance", "instance_id", inst.ID, "step_index", idx)
		if _, err := wm.ActionRepo.Save(ctx, &internaldomain.InstanceAction{
			InstanceID: inst.ID, StepIndex: idx, Type: internaldomain.ActionRecovered,
			Text: "re-queued after engine start", DateTime: wm.clock.Now().UTC(),
		}); err != nil {
			slog.WarnContext(ctx, "Failed to record instance action", "instance_id", inst.ID, "action", internaldomain.ActionRecovered, "error", err)
		}
		wm.schedule(ctx, inst.ID)
	}
}

// reconcileWaiting settles an instance whose approval task was decided while
// nothing was listening for it.
func (wm *WorkflowManager) reconcileWaiting(ctx context.Context, inst *domain.WorkflowInstance) {
	task, err := wm.TaskRepo.FindByInstanceStep(ctx, inst.ID, inst.CurrentStep.Index)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load approval task for recovery", "instance_id", inst.ID, "error", err)
		return
	}
	if task == nil || !task.Status.Terminal() {
		return
	}
	_, resumed, err := wm.machine.Settle(ctx, inst.ID, task)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to settle decided approval task", "instance_id", inst.ID, "task_id", task.ID, "error", err)
		return
	}
	if resumed {
		wm.schedule(ctx, inst.ID)
	}
}

// schedule hands id to the workers, or runs it inline in synchronous mode.
func (wm *WorkflowManager) schedule(ctx context.Context, id string) {
	if wm.synchronous {
		if _, err := wm.machine.Run(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Instance run failed", "instance_id", id, "error", err)
		}
		return
	}
	select {
	case wm.queue <- id:
		slog.DebugContext(ctx, "Instance queued", "instance_id", id)
	default:
		slog.WarnContext(ctx, "Instance queue full, waiting for a worker", "instance_id", id, "queue_size", cap(wm.queue))
		go func() { wm.queue <- id }()
	}
}

// queuedDriver resumes instances through the worker queue so a vote does not
// run the rest of the workflow on the caller's goroutine.
type queuedDriver struct {
	wm *WorkflowManager
}

func (d *queuedDriver) Resume(ctx context.Context, instanceID string, stepIndex int, output map[string]any) error {
	advanced, err := d.wm.machine.AdvanceApproval(ctx, instanceID, stepIndex, output)
	if err != nil || !advanced {
		return err
	}
	d.wm.schedule(ctx, instanceID)
	return nil
}

func (d *queuedDriver) Fail(ctx context.Context, instanceID string, stepIndex int, cause error) error {
	return d.wm.machine.Fail(ctx, instanceID, stepIndex, cause)
}
