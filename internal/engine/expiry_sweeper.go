package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

type SweepResult struct {
	Expired  int
	TimedOut int
}

// ExpirySweeper periodically expires overdue approval tasks and enforces the
// overall timeout of running instances.
type ExpirySweeper struct {
	tasks       TaskRepo
	instances   InstanceRepo
	definitions DefinitionRepo
	gate        *ApprovalGate
	machine     *InstanceMachine
	clock       core.Clock
	batchSize   int
}

func NewExpirySweeper(tasks TaskRepo, instances InstanceRepo, definitions DefinitionRepo, gate *ApprovalGate,
	machine *InstanceMachine, clock core.Clock, batchSize int) *ExpirySweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweeper{
		tasks:       tasks,
		instances:   instances,
		definitions: definitions,
		gate:        gate,
		machine:     machine,
		clock:       clock,
		batchSize:   batchSize,
	}
}

// Start runs SweepOnce every interval until ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.InfoContext(ctx, "Expiry sweeper started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Expiry sweeper stopping due to context cancel")
			return
		case <-ticker.C:
			res, err := s.SweepOnce(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "Expiry sweep failed", "error", err)
				continue
			}
			if res.Expired > 0 || res.TimedOut > 0 {
				slog.InfoContext(ctx, "Expiry sweep finished", "expired_tasks", res.Expired, "timed_out_instances", res.TimedOut)
			}
		}
	}
}

// SweepOnce does a single pass. Tasks decided concurrently are skipped, so
// repeated passes over the same task fail its instance at most once.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.clock.Now().UTC()

	tasks, err := s.tasks.FindExpiredPending(ctx, now, s.batchSize)
	if err != nil {
		return res, err
	}
	for i := range tasks {
		expired, err := s.gate.Expire(ctx, &tasks[i])
		if err != nil {
			slog.ErrorContext(ctx, "Failed to expire approval task", "task_id", tasks[i].ID, "error", err)
			continue
		}
		if expired {
			res.Expired++
		}
	}

	running, err := s.instances.FindRunning(ctx, s.batchSize)
	if err != nil {
		return res, err
	}
	defs := make(map[string]*domain.WorkflowDefinition)
	for i := range running {
		inst := &running[i]
		def, ok := defs[inst.DefinitionID]
		if !ok {
			def, err = s.definitions.FindByID(ctx, inst.DefinitionID)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to load definition for timeout check", "instance_id", inst.ID, "error", err)
				continue
			}
			defs[inst.DefinitionID] = def
		}
		if def.Timeout.DurationMs <= 0 {
			continue
		}
		start := inst.Created
		if inst.Started != nil {
			start = *inst.Started
		}
		if now.Before(start.Add(def.Timeout.Duration())) {
			continue
		}
		changed, err := s.machine.TimeOut(ctx, inst, def)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to time out instance", "instance_id", inst.ID, "error", err)
			continue
		}
		if changed {
			res.TimedOut++
		}
	}
	return res, nil
}
