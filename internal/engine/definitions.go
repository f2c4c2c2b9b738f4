package engine

import (
	"fmt"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// DefinitionValidator rejects malformed definitions before they are persisted.
type DefinitionValidator struct {
	evaluator *condition.Evaluator
	handlers  *HandlerRegistry
}

func NewDefinitionValidator(evaluator *condition.Evaluator, handlers *HandlerRegistry) *DefinitionValidator {
	return &DefinitionValidator{evaluator: evaluator, handlers: handlers}
}

func (v *DefinitionValidator) Validate(def *domain.WorkflowDefinition) error {
	if def.Name == "" {
		return flowerrors.Validation("name", "is required")
	}
	if len(def.Steps) == 0 {
		return flowerrors.Validation("steps", "at least one step is required")
	}
	if err := v.evaluator.Validate(def.Trigger.Conditions); err != nil {
		return flowerrors.Validation("trigger.conditions", "%v", err)
	}

	names := make(map[string]bool, len(def.Steps))
	for i, step := range def.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if step.Name == "" {
			return flowerrors.Validation(field+".name", "is required")
		}
		if names[step.Name] {
			return flowerrors.Validation(field+".name", "duplicate step name %q", step.Name)
		}
		names[step.Name] = true
		if err := v.validateStep(field, step, true); err != nil {
			return err
		}
	}

	for name, spec := range def.Variables {
		switch spec.Type {
		case "", domain.VarAny, domain.VarString, domain.VarNumber, domain.VarBoolean, domain.VarObject, domain.VarArray:
		default:
			return flowerrors.Validation("variables."+name, "unsupported type %q", spec.Type)
		}
		if spec.DefaultValue != nil && !matchesType(spec.Type, spec.DefaultValue) {
			return flowerrors.Validation("variables."+name, "default value does not match type %s", spec.Type)
		}
	}

	t := def.Timeout
	if t.DurationMs < 0 {
		return flowerrors.Validation("timeout.durationMs", "must not be negative")
	}
	switch t.Action {
	case "", domain.TimeoutFail, domain.TimeoutComplete:
	case domain.TimeoutCallback:
		if t.Callback == "" {
			return flowerrors.Validation("timeout.callback", "is required for the callback action")
		}
		if _, ok := v.handlers.Lookup(domain.StepFunction); !ok {
			return flowerrors.Validation("timeout.callback", "no function handler is registered")
		}
	default:
		return flowerrors.Validation("timeout.action", "unsupported action %q", t.Action)
	}
	return nil
}

// ValidateRequest checks a create request as the draft it would become.
func (v *DefinitionValidator) ValidateRequest(req models.CreateDefinitionRequest) error {
	return v.Validate(newDefinition(req))
}

func (v *DefinitionValidator) validateStep(field string, step domain.StepSpec, allowApproval bool) error {
	if !step.Type.Valid() {
		return flowerrors.Validation(field+".type", "unknown step type %q", step.Type)
	}
	if step.Type == domain.StepApproval {
		if !allowApproval {
			return flowerrors.Validation(field+".type", "approval steps cannot be used here")
		}
		if _, err := parseApprovalConfig(step, nil, 0); err != nil {
			return err
		}
	} else if _, ok := v.handlers.Lookup(step.Type); !ok {
		return flowerrors.Validation(field+".type", "no handler registered for step type %q", step.Type)
	}
	if step.Type == domain.StepCondition {
		raw, ok := step.Config["condition"]
		if !ok {
			return flowerrors.Validation(field+".config.condition", "is required")
		}
		node, err := condition.FromValue(raw)
		if err != nil {
			return flowerrors.Validation(field+".config.condition", "%v", err)
		}
		if err := v.evaluator.Validate(&node); err != nil {
			return flowerrors.Validation(field+".config.condition", "%v", err)
		}
	}

	rp := step.RetryPolicy
	if rp.MaxAttempts < 0 || rp.BackoffMultiplier < 0 || rp.InitialDelayMs < 0 {
		return flowerrors.Validation(field+".retryPolicy", "values must not be negative")
	}
	if step.TimeoutMs < 0 {
		return flowerrors.Validation(field+".timeoutMs", "must not be negative")
	}

	eh := step.ErrorHandling
	switch eh.FallbackAction {
	case "", domain.FallbackSkip, domain.FallbackRetry, domain.FallbackFail:
	case domain.FallbackAlternate:
		if eh.Alternate == nil {
			return flowerrors.Validation(field+".errorHandling.alternate", "is required for the alternate fallback")
		}
		if eh.Alternate.Name == "" {
			return flowerrors.Validation(field+".errorHandling.alternate.name", "is required")
		}
		if err := v.validateStep(field+".errorHandling.alternate", *eh.Alternate, false); err != nil {
			return err
		}
	default:
		return flowerrors.Validation(field+".errorHandling.fallbackAction", "unsupported action %q", eh.FallbackAction)
	}
	return nil
}

// newDefinition builds a draft from a create request.
func newDefinition(req models.CreateDefinitionRequest) *domain.WorkflowDefinition {
	def := &domain.WorkflowDefinition{
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		Status:      domain.DefinitionDraft,
		Trigger:     req.Trigger,
		Steps:       make([]domain.StepSpec, len(req.Steps)),
		Variables:   req.Variables,
		Timeout:     req.Timeout,
	}
	for i, s := range req.Steps {
		def.Steps[i] = s.Clone()
	}
	return def
}

// reviseDefinition returns a draft copy of base with update applied. base is not modified.
func reviseDefinition(base *domain.WorkflowDefinition, update models.DefinitionUpdate) *domain.WorkflowDefinition {
	next := base.Clone()
	next.Status = domain.DefinitionDraft
	if update.Type != nil {
		next.Type = *update.Type
	}
	if update.Description != nil {
		next.Description = *update.Description
	}
	if update.Trigger != nil {
		next.Trigger = *update.Trigger
	}
	if update.Steps != nil {
		next.Steps = make([]domain.StepSpec, len(update.Steps))
		for i, s := range update.Steps {
			next.Steps[i] = s.Clone()
		}
	}
	if update.Variables != nil {
		next.Variables = update.Variables
	}
	if update.Timeout != nil {
		next.Timeout = *update.Timeout
	}
	return next
}
