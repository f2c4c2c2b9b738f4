package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// StepContext identifies the instance a step runs for.
type StepContext struct {
	InstanceID     string
	DefinitionName string
	StepIndex      int
	Data           map[string]any
}

type StepResult struct {
	Output   map[string]any
	Attempts int
}

// StepExecutor calls a step handler bounded by the step timeout and retries it
// per the step retry policy. It is stateless and safe for concurrent use.
type StepExecutor struct {
	handlers *HandlerRegistry
	clock    core.Clock
}

func NewStepExecutor(handlers *HandlerRegistry, clock core.Clock) *StepExecutor {
	return &StepExecutor{handlers: handlers, clock: clock}
}

// Execute runs step until an attempt succeeds or the retry policy is exhausted.
// The final error is a *flowerrors.StepExecutionError, or a *flowerrors.StepTimeoutError
// when the last attempt timed out.
func (x *StepExecutor) Execute(ctx context.Context, step domain.StepSpec, sc StepContext) (*StepResult, error) {
	handler, ok := x.handlers.Lookup(step.Type)
	if !ok {
		return nil, &flowerrors.StepExecutionError{
			StepIndex: sc.StepIndex, StepName: step.Name, Attempts: 0,
			Err: fmt.Errorf("no handler registered for step type %q", step.Type),
		}
	}

	maxAttempts := step.RetryPolicy.Attempts()
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if delay := step.RetryPolicy.DelayBefore(attempt); delay > 0 {
			slog.DebugContext(ctx, "Backing off before retry", "instance_id", sc.InstanceID, "step", step.Name, "attempt", attempt, "delay", delay.String())
			select {
			case <-x.clock.After(delay):
			case <-ctx.Done():
				return nil, x.wrap(step, sc, attempt-1, ctx.Err())
			}
		}

		output, err := x.attempt(ctx, handler, step, sc, attempt)
		if err == nil {
			return &StepResult{Output: output, Attempts: attempt}, nil
		}
		lastErr = err
		slog.WarnContext(ctx, "Step attempt failed", "instance_id", sc.InstanceID, "step", step.Name, "attempt", attempt, "max_attempts", maxAttempts, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, x.wrap(step, sc, attempt, lastErr)
}

func (x *StepExecutor) wrap(step domain.StepSpec, sc StepContext, attempts int, err error) error {
	base := flowerrors.StepExecutionError{StepIndex: sc.StepIndex, StepName: step.Name, Attempts: attempts, Err: err}
	if errors.Is(err, flowerrors.ErrAttemptTimeout) {
		return &flowerrors.StepTimeoutError{StepExecutionError: base, Timeout: step.Timeout()}
	}
	return &base
}

type attemptResult struct {
	output map[string]any
	err    error
}

func (x *StepExecutor) attempt(ctx context.Context, handler StepHandler, step domain.StepSpec, sc StepContext, attempt int) (map[string]any, error) {
	var (
		attemptCtx context.Context
		cancel     context.CancelFunc
	)
	if timeout := step.Timeout(); timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	req := StepRequest{
		InstanceID:     sc.InstanceID,
		DefinitionName: sc.DefinitionName,
		StepIndex:      sc.StepIndex,
		Step:           step,
		Attempt:        attempt,
		Context:        sc.Data,
	}

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, err := handler.Handle(attemptCtx, req)
		done <- attemptResult{output: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", flowerrors.ErrAttemptTimeout, step.Timeout(), r.err)
		}
		return r.output, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", flowerrors.ErrAttemptTimeout, step.Timeout())
	}
}
