package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RealZimboGuy/stepflow/internal/engine"
)

// Function is application code callable from a function step.
type Function func(ctx context.Context, req engine.StepRequest) (map[string]any, error)

// FunctionRegistry serves the function step type, dispatching on config.name.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: make(map[string]Function)}
}

func (r *FunctionRegistry) Register(name string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = fn
}

func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for n := range r.functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *FunctionRegistry) Handle(ctx context.Context, req engine.StepRequest) (map[string]any, error) {
	name := configString(req.Step.Config, "name")
	r.mu.RLock()
	fn, ok := r.functions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("function %q is not registered", name)
	}
	return fn(ctx, req)
}
