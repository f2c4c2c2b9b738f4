package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// Event is a named domain event delivered to the trigger registry.
type Event struct {
	Name string
	Data map[string]any
}

type listener struct {
	definitionID string
	name         string
	version      int
	eventName    string
	conditions   *condition.Node
}

// ListenerInfo describes one registered trigger.
type ListenerInfo struct {
	DefinitionID string `json:"definitionId"`
	Name         string `json:"name"`
	Version      int    `json:"version"`
	EventName    string `json:"eventName"`
}

// TriggerRegistry maps event names to the active definitions listening on them.
// At most one version per workflow name is registered.
type TriggerRegistry struct {
	mu        sync.RWMutex
	byName    map[string]*listener
	evaluator *condition.Evaluator
	starter   InstanceStarter
}

func NewTriggerRegistry(evaluator *condition.Evaluator) *TriggerRegistry {
	return &TriggerRegistry{byName: make(map[string]*listener), evaluator: evaluator}
}

// Bind sets the starter invoked for matching events.
func (r *TriggerRegistry) Bind(starter InstanceStarter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starter = starter
}

// Register subscribes def to its trigger event, replacing any other version of
// the same workflow name. Definitions without an event name are not registered.
func (r *TriggerRegistry) Register(def *domain.WorkflowDefinition) error {
	if def.Status != domain.DefinitionActive {
		return flowerrors.Validation("status", "only active definitions can be registered, %s v%d is %s", def.Name, def.Version, def.Status)
	}
	if def.Trigger.EventName == "" {
		r.Unregister(def.ID)
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[def.Name]; ok && prev.definitionID != def.ID {
		slog.Info("Replacing trigger listener", "name", def.Name, "previous_version", prev.version, "version", def.Version)
	}
	r.byName[def.Name] = &listener{
		definitionID: def.ID,
		name:         def.Name,
		version:      def.Version,
		eventName:    def.Trigger.EventName,
		conditions:   def.Trigger.Conditions,
	}
	slog.Info("Trigger registered", "name", def.Name, "version", def.Version, "event", def.Trigger.EventName)
	return nil
}

// Unregister removes the listener of definitionID and reports whether one existed.
func (r *TriggerRegistry) Unregister(definitionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, l := range r.byName {
		if l.definitionID == definitionID {
			delete(r.byName, name)
			slog.Info("Trigger unregistered", "name", name, "version", l.version, "event", l.eventName)
			return true
		}
	}
	return false
}

func (r *TriggerRegistry) Listeners() []ListenerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ListenerInfo, 0, len(r.byName))
	for _, l := range r.byName {
		out = append(out, ListenerInfo{DefinitionID: l.definitionID, Name: l.name, Version: l.version, EventName: l.eventName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch starts an instance for every listener on eventName whose conditions
// hold for data. Conditions that cannot be evaluated are treated as false.
func (r *TriggerRegistry) Dispatch(ctx context.Context, eventName string, data map[string]any) ([]*domain.WorkflowInstance, error) {
	r.mu.RLock()
	starter := r.starter
	var matched []*listener
	for _, l := range r.byName {
		if l.eventName == eventName {
			matched = append(matched, l)
		}
	}
	r.mu.RUnlock()

	if starter == nil {
		return nil, fmt.Errorf("trigger registry has no instance starter")
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].name < matched[j].name })

	var (
		started []*domain.WorkflowInstance
		errs    []error
	)
	for _, l := range matched {
		if !r.evaluator.Evaluate(l.conditions, data) {
			slog.DebugContext(ctx, "Trigger conditions not met", "event", eventName, "name", l.name)
			continue
		}
		inst, err := starter.StartInstance(ctx, l.definitionID, domain.TriggerData{EventName: eventName, Data: data})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to start instance for event", "event", eventName, "name", l.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
			continue
		}
		started = append(started, inst)
	}
	return started, errors.Join(errs...)
}

// Consume dispatches events from ch until it is closed or ctx is done.
func (r *TriggerRegistry) Consume(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Event consumer stopping due to context cancel")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if _, err := r.Dispatch(ctx, ev.Name, ev.Data); err != nil {
				slog.ErrorContext(ctx, "Event dispatch failed", "event", ev.Name, "error", err)
			}
		}
	}
}
