package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// ParallelHandler runs the steps listed in config.branches one after another
// through the handler registry and collects their outputs by name. The first
// failing branch fails the step.
type ParallelHandler struct {
	registry *engine.HandlerRegistry
}

func NewParallelHandler(registry *engine.HandlerRegistry) *ParallelHandler {
	return &ParallelHandler{registry: registry}
}

func (h *ParallelHandler) Handle(ctx context.Context, req engine.StepRequest) (map[string]any, error) {
	branches, err := decodeBranches(req.Step.Config["branches"])
	if err != nil {
		return nil, fmt.Errorf("parallel step %s: %w", req.Step.Name, err)
	}
	outputs := make(map[string]any, len(branches))
	for _, b := range branches {
		if b.Type == domain.StepParallel || b.Type == domain.StepApproval {
			return nil, fmt.Errorf("branch %s: %s steps cannot be nested", b.Name, b.Type)
		}
		handler, ok := h.registry.Lookup(b.Type)
		if !ok {
			return nil, fmt.Errorf("branch %s: no handler for step type %q", b.Name, b.Type)
		}
		branchReq := req
		branchReq.Step = b
		out, err := handler.Handle(ctx, branchReq)
		if err != nil {
			return nil, fmt.Errorf("branch %s: %w", b.Name, err)
		}
		outputs[b.Name] = out
	}
	return map[string]any{"branches": outputs}, nil
}

func decodeBranches(raw any) ([]domain.StepSpec, error) {
	if raw == nil {
		return nil, fmt.Errorf("branches are required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var branches []domain.StepSpec
	if err := json.Unmarshal(data, &branches); err != nil {
		return nil, fmt.Errorf("decode branches: %w", err)
	}
	for i, b := range branches {
		if b.Name == "" {
			return nil, fmt.Errorf("branch %d has no name", i)
		}
	}
	return branches, nil
}
