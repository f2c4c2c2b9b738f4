package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
)

// DelayHandler waits config.durationMs before completing.
type DelayHandler struct {
	clock core.Clock
}

func NewDelayHandler(clock core.Clock) *DelayHandler {
	return &DelayHandler{clock: clock}
}

func (h *DelayHandler) Handle(ctx context.Context, req engine.StepRequest) (map[string]any, error) {
	ms, ok := configInt(req.Step.Config, "durationMs")
	if !ok || ms < 0 {
		return nil, fmt.Errorf("delay step %s needs a non-negative durationMs", req.Step.Name)
	}
	select {
	case <-h.clock.After(time.Duration(ms) * time.Millisecond):
		return map[string]any{"delayedMs": ms}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
