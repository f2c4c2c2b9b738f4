package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// Message is one rendered notification.
type Message struct {
	Channel    domain.StepType
	Recipients []string
	Subject    string
	Body       string
	InstanceID string
}

// Notifier delivers rendered messages. Deployments plug in their mail or SMS gateway here.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of delivering them.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "Notification", "channel", msg.Channel, "instance_id", msg.InstanceID,
		"recipients", strings.Join(msg.Recipients, ","), "subject", msg.Subject, "body", msg.Body)
	return nil
}

// NotifyHandler serves the notification, email and sms step types. Config keys:
// to (string, list or $reference), subject, message (a text/template over the
// instance context).
type NotifyHandler struct {
	channel  domain.StepType
	notifier Notifier
}

func NewNotifyHandler(channel domain.StepType, notifier Notifier) *NotifyHandler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &NotifyHandler{channel: channel, notifier: notifier}
}

func (h *NotifyHandler) Handle(ctx context.Context, req engine.StepRequest) (map[string]any, error) {
	cfg := req.Step.Config
	msg := Message{
		Channel:    h.channel,
		Recipients: stringList(cfg["to"], req.Context),
		InstanceID: req.InstanceID,
	}
	if h.channel != domain.StepNotification && len(msg.Recipients) == 0 {
		return nil, fmt.Errorf("%s step %s has no recipients", h.channel, req.Step.Name)
	}
	if h.channel == domain.StepEmail && configString(cfg, "subject") == "" {
		return nil, fmt.Errorf("email step %s has no subject", req.Step.Name)
	}

	var err error
	if msg.Subject, err = render("subject", configString(cfg, "subject"), req.Context); err != nil {
		return nil, err
	}
	if msg.Body, err = render("message", configString(cfg, "message"), req.Context); err != nil {
		return nil, err
	}
	if err := h.notifier.Notify(ctx, msg); err != nil {
		return nil, fmt.Errorf("deliver %s: %w", h.channel, err)
	}
	return map[string]any{
		"channel":    string(h.channel),
		"recipients": len(msg.Recipients),
		"subject":    msg.Subject,
		"delivered":  true,
	}, nil
}
