package handlers

import (
	"context"
	"fmt"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	"github.com/RealZimboGuy/stepflow/internal/engine"
)

// ConditionHandler evaluates config.condition against the instance context.
// With failOnFalse set a false result fails the step.
type ConditionHandler struct {
	evaluator *condition.Evaluator
}

func NewConditionHandler(evaluator *condition.Evaluator) *ConditionHandler {
	return &ConditionHandler{evaluator: evaluator}
}

func (h *ConditionHandler) Handle(ctx context.Context, req engine.StepRequest) (map[string]any, error) {
	node, err := condition.FromValue(req.Step.Config["condition"])
	if err != nil {
		return nil, fmt.Errorf("condition step %s: %w", req.Step.Name, err)
	}
	result := h.evaluator.Evaluate(&node, req.Context)
	if !result && configBool(req.Step.Config, "failOnFalse") {
		return nil, fmt.Errorf("condition step %s evaluated to false", req.Step.Name)
	}
	return map[string]any{"result": result}, nil
}
