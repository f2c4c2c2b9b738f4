package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// StepRequest is everything a handler gets for one attempt.
type StepRequest struct {
	InstanceID     string
	DefinitionName string
	StepIndex      int
	Step           domain.StepSpec
	Attempt        int
	// Context holds trigger data, variables and earlier step outputs, see WorkflowInstance.Context.
	Context map[string]any
}

// StepHandler performs the business action of one step type. A returned
// output map under the key "variables" is merged into the instance variables.
type StepHandler interface {
	Handle(ctx context.Context, req StepRequest) (map[string]any, error)
}

type StepHandlerFunc func(ctx context.Context, req StepRequest) (map[string]any, error)

func (f StepHandlerFunc) Handle(ctx context.Context, req StepRequest) (map[string]any, error) {
	return f(ctx, req)
}

// HandlerRegistry maps step types to handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[domain.StepType]StepHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[domain.StepType]StepHandler)}
}

// Register installs h for t, replacing any previous handler. Approval steps are
// driven by the approval gate and cannot have a handler.
func (r *HandlerRegistry) Register(t domain.StepType, h StepHandler) error {
	if !t.Valid() {
		return fmt.Errorf("unknown step type %q", t)
	}
	if t == domain.StepApproval {
		return fmt.Errorf("step type %q is handled by the approval gate", t)
	}
	if h == nil {
		return fmt.Errorf("nil handler for step type %q", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
	return nil
}

func (r *HandlerRegistry) Lookup(t domain.StepType) (StepHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

func (r *HandlerRegistry) Types() []domain.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.StepType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
