package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/engine"
)

// WebhookHandler calls an HTTP endpoint with a JSON body. Config keys: url,
// method (default POST), headers, body (defaults to the instance context).
// A non-2xx status fails the attempt so the retry policy applies.
type WebhookHandler struct {
	HTTPClient *http.Client
}

func NewWebhookHandler(timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{HTTPClient: &http.Client{Timeout: timeout}}
}

// WebhookStatusError is returned for a non-2xx response.
type WebhookStatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *WebhookStatusError) Error() string {
	return fmt.Sprintf("webhook %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

func (h *WebhookHandler) Handle(ctx context.Context, req engine.StepRequest) (map[string]any, error) {
	cfg := req.Step.Config
	url, err := render("url", configString(cfg, "url"), req.Context)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("webhook step %s has no url", req.Step.Name)
	}
	method := strings.ToUpper(configString(cfg, "method"))
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if method != http.MethodGet && method != http.MethodDelete {
		payload, ok := cfg["body"]
		if !ok {
			payload = req.Context
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode webhook body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Stepflow-Instance", req.InstanceID)
	if headers, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range headers {
			value, err := render("header", fmt.Sprint(v), req.Context)
			if err != nil {
				return nil, err
			}
			httpReq.Header.Set(k, value)
		}
	}

	resp, err := h.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call webhook %s: %w", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &WebhookStatusError{URL: url, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	out := map[string]any{"statusCode": resp.StatusCode}
	var decoded any
	if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
		out["body"] = decoded
		// a JSON object carrying "variables" is merged into the instance
		if m, ok := decoded.(map[string]any); ok {
			if vars, ok := m["variables"].(map[string]any); ok {
				out["variables"] = vars
			}
		}
	} else if len(raw) > 0 {
		out["body"] = string(raw)
	}
	return out, nil
}
