package handlers

import (
	"time"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

type Options struct {
	Notifier       Notifier
	Functions      *FunctionRegistry
	WebhookTimeout time.Duration
}

// RegisterDefaults installs a handler for every step type except approval,
// which the engine handles itself.
func RegisterDefaults(registry *engine.HandlerRegistry, evaluator *condition.Evaluator, clock core.Clock, opts Options) error {
	if opts.Functions == nil {
		opts.Functions = NewFunctionRegistry()
	}
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = 30 * time.Second
	}
	handlers := map[domain.StepType]engine.StepHandler{
		domain.StepNotification: NewNotifyHandler(domain.StepNotification, opts.Notifier),
		domain.StepEmail:        NewNotifyHandler(domain.StepEmail, opts.Notifier),
		domain.StepSMS:          NewNotifyHandler(domain.StepSMS, opts.Notifier),
		domain.StepWebhook:      NewWebhookHandler(opts.WebhookTimeout),
		domain.StepFunction:     opts.Functions,
		domain.StepDelay:        NewDelayHandler(clock),
		domain.StepCondition:    NewConditionHandler(evaluator),
		domain.StepParallel:     NewParallelHandler(registry),
	}
	for t, h := range handlers {
		if err := registry.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}
