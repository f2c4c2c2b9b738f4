package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RealZimboGuy/stepflow/internal/condition"
	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

type MockNotifier struct {
	Sent       []Message
	NotifyFunc func(ctx context.Context, msg Message) error
}

func (m *MockNotifier) Notify(ctx context.Context, msg Message) error {
	m.Sent = append(m.Sent, msg)
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, msg)
	}
	return nil
}

// blockingClock never fires so only ctx can end a delay.
type blockingClock struct{ waited []time.Duration }

func (c *blockingClock) Now() time.Time { return time.Time{} }
func (c *blockingClock) After(d time.Duration) <-chan time.Time {
	c.waited = append(c.waited, d)
	return make(chan time.Time)
}

type instantClock struct{ waited []time.Duration }

func (c *instantClock) Now() time.Time { return time.Time{} }
func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.waited = append(c.waited, d)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func request(step domain.StepSpec, data map[string]any) engine.StepRequest {
	return engine.StepRequest{InstanceID: "inst-1", DefinitionName: "wf", Step: step, Attempt: 1, Context: data}
}

func TestNotifyHandler_RendersTemplates(t *testing.T) {
	notifier := &MockNotifier{}
	h := NewNotifyHandler(domain.StepEmail, notifier)
	data := map[string]any{
		"variables": map[string]any{"name": "Ann", "managers": []any{"m1@x.io", "m2@x.io"}},
	}

	out, err := h.Handle(context.Background(), request(domain.StepSpec{
		Name: "mail", Type: domain.StepEmail,
		Config: map[string]any{
			"to":      []any{"$variables.managers", "audit@x.io"},
			"subject": "Expense from {{.variables.name}}",
			"message": "Hello, {{.variables.name}} needs approval",
		},
	}, data))

	require.NoError(t, err)
	require.Len(t, notifier.Sent, 1)
	msg := notifier.Sent[0]
	assert.Equal(t, []string{"m1@x.io", "m2@x.io", "audit@x.io"}, msg.Recipients)
	assert.Equal(t, "Expense from Ann", msg.Subject)
	assert.Equal(t, "Hello, Ann needs approval", msg.Body)
	assert.Equal(t, 3, out["recipients"])
}

func TestNotifyHandler_Validation(t *testing.T) {
	notifier := &MockNotifier{}

	_, err := NewNotifyHandler(domain.StepSMS, notifier).Handle(context.Background(),
		request(domain.StepSpec{Name: "sms", Type: domain.StepSMS, Config: map[string]any{"message": "hi"}}, nil))
	assert.Error(t, err)

	_, err = NewNotifyHandler(domain.StepEmail, notifier).Handle(context.Background(),
		request(domain.StepSpec{Name: "mail", Type: domain.StepEmail, Config: map[string]any{"to": "a@x.io"}}, nil))
	assert.Error(t, err)

	failing := &MockNotifier{NotifyFunc: func(context.Context, Message) error { return errors.New("smtp down") }}
	_, err = NewNotifyHandler(domain.StepNotification, failing).Handle(context.Background(),
		request(domain.StepSpec{Name: "n", Type: domain.StepNotification, Config: map[string]any{"message": "hi"}}, nil))
	assert.ErrorContains(t, err, "smtp down")
	assert.Empty(t, notifier.Sent)
}

func TestWebhookHandler_PostsJSON(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer t-1", r.Header.Get("Authorization"))
		assert.Equal(t, "inst-1", r.Header.Get("X-Stepflow-Instance"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"variables":{"ticket":"T-9"}}`))
	}))
	defer server.Close()

	h := NewWebhookHandler(time.Second)
	out, err := h.Handle(context.Background(), request(domain.StepSpec{
		Name: "hook", Type: domain.StepWebhook,
		Config: map[string]any{
			"url":     server.URL + "/orders/{{.variables.id}}",
			"method":  "put",
			"headers": map[string]any{"Authorization": "Bearer {{.variables.token}}"},
			"body":    map[string]any{"status": "paid"},
		},
	}, map[string]any{"variables": map[string]any{"id": 7, "token": "t-1"}}))

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "paid"}, got)
	assert.Equal(t, http.StatusOK, out["statusCode"])
	assert.Equal(t, map[string]any{"ticket": "T-9"}, out["variables"])
}

func TestWebhookHandler_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewWebhookHandler(time.Second).Handle(context.Background(), request(domain.StepSpec{
		Name: "hook", Type: domain.StepWebhook, Config: map[string]any{"url": server.URL},
	}, nil))

	var statusErr *WebhookStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestWebhookHandler_MissingURL(t *testing.T) {
	_, err := NewWebhookHandler(time.Second).Handle(context.Background(), request(domain.StepSpec{Name: "hook", Type: domain.StepWebhook}, nil))
	assert.Error(t, err)
}

func TestFunctionRegistry(t *testing.T) {
	reg := NewFunctionRegistry()
	reg.Register("double", func(_ context.Context, req engine.StepRequest) (map[string]any, error) {
		n := req.Context["n"].(int)
		return map[string]any{"result": n * 2}, nil
	})

	out, err := reg.Handle(context.Background(), request(domain.StepSpec{
		Name: "f", Type: domain.StepFunction, Config: map[string]any{"name": "double"},
	}, map[string]any{"n": 21}))
	require.NoError(t, err)
	assert.Equal(t, 42, out["result"])
	assert.Equal(t, []string{"double"}, reg.Names())

	_, err = reg.Handle(context.Background(), request(domain.StepSpec{
		Name: "f", Type: domain.StepFunction, Config: map[string]any{"name": "missing"},
	}, nil))
	assert.ErrorContains(t, err, "not registered")
}

func TestDelayHandler(t *testing.T) {
	clock := &instantClock{}
	out, err := NewDelayHandler(clock).Handle(context.Background(), request(domain.StepSpec{
		Name: "wait", Type: domain.StepDelay, Config: map[string]any{"durationMs": float64(1500)},
	}, nil))
	require.NoError(t, err)
	assert.EqualValues(t, 1500, out["delayedMs"])
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, clock.waited)

	_, err = NewDelayHandler(clock).Handle(context.Background(), request(domain.StepSpec{Name: "wait", Type: domain.StepDelay}, nil))
	assert.Error(t, err)
}

func TestDelayHandler_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewDelayHandler(&blockingClock{}).Handle(ctx, request(domain.StepSpec{
		Name: "wait", Type: domain.StepDelay, Config: map[string]any{"durationMs": 60000},
	}, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConditionHandler(t *testing.T) {
	h := NewConditionHandler(condition.New())
	step := domain.StepSpec{
		Name: "check", Type: domain.StepCondition,
		Config: map[string]any{"condition": map[string]any{"field": "variables.amount", "operator": ">", "value": 100}},
	}

	out, err := h.Handle(context.Background(), request(step, map[string]any{"variables": map[string]any{"amount": 250}}))
	require.NoError(t, err)
	assert.Equal(t, true, out["result"])

	out, err = h.Handle(context.Background(), request(step, map[string]any{"variables": map[string]any{"amount": 5}}))
	require.NoError(t, err)
	assert.Equal(t, false, out["result"])

	step.Config["failOnFalse"] = true
	_, err = h.Handle(context.Background(), request(step, map[string]any{"variables": map[string]any{"amount": 5}}))
	assert.Error(t, err)
}

func TestParallelHandler_RunsBranches(t *testing.T) {
	registry := engine.NewHandlerRegistry()
	clock := &instantClock{}
	notifier := &MockNotifier{}
	require.NoError(t, RegisterDefaults(registry, condition.New(), clock, Options{Notifier: notifier}))
	h, ok := registry.Lookup(domain.StepParallel)
	require.True(t, ok)

	out, err := h.Handle(context.Background(), request(domain.StepSpec{
		Name: "fan-out", Type: domain.StepParallel,
		Config: map[string]any{"branches": []any{
			map[string]any{"name": "ping", "type": "notification", "config": map[string]any{"message": "hi"}},
			map[string]any{"name": "pause", "type": "delay", "config": map[string]any{"durationMs": 10}},
		}},
	}, nil))

	require.NoError(t, err)
	branches := out["branches"].(map[string]any)
	assert.Contains(t, branches, "ping")
	assert.Contains(t, branches, "pause")
	assert.Len(t, notifier.Sent, 1)

	_, err = h.Handle(context.Background(), request(domain.StepSpec{
		Name: "bad", Type: domain.StepParallel,
		Config: map[string]any{"branches": []any{map[string]any{"name": "a", "type": "approval"}}},
	}, nil))
	assert.Error(t, err)
}

func TestRegisterDefaults_CoversEveryHandledType(t *testing.T) {
	registry := engine.NewHandlerRegistry()
	require.NoError(t, RegisterDefaults(registry, condition.New(), &instantClock{}, Options{}))
	for _, typ := range domain.StepTypes {
		_, ok := registry.Lookup(typ)
		assert.Equal(t, typ != domain.StepApproval, ok, string(typ))
	}
}
