// Package common holds the HTTP scenarios shared by the per-database integration suites.
package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/util"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

// AdminAPIKey is the key every suite bootstraps its admin user with.
const AdminAPIKey = "b5f0e8c4-daa6-465c-bded-50ca22b798b2"

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewClient(port int) *Client {
	return &Client{
		BaseURL: fmt.Sprintf("http://localhost:%d", port),
		APIKey:  AdminAPIKey,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Do sends body as JSON and returns the raw response. The caller closes it.
func (c *Client) Do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// Expect sends the request, checks the status and decodes the JSON response into T.
func Expect[T any](t *testing.T, c *Client, method, path string, body any, status int) T {
	t.Helper()
	resp := c.Do(t, method, path, body)
	if resp.StatusCode != status {
		defer resp.Body.Close()
		var raw bytes.Buffer
		_, _ = raw.ReadFrom(resp.Body)
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, status, resp.StatusCode, raw.String())
	}
	out, err := util.DecodeJSONBodyResponse[T](resp)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return out
}

// WaitForServer polls until the API answers or the timeout passes.
func WaitForServer(t *testing.T, c *Client, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, _ := http.NewRequest("GET", c.BaseURL+"/api/handlers", nil)
		req.Header.Set("X-API-Key", c.APIKey)
		if resp, err := c.HTTP.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s did not come up within %s", c.BaseURL, timeout)
}

// WaitForInstance polls the instance until done returns true.
func WaitForInstance(t *testing.T, c *Client, id string, timeout time.Duration, done func(*domain.WorkflowInstance) bool) *domain.WorkflowInstance {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var inst domain.WorkflowInstance
	for time.Now().Before(deadline) {
		inst = Expect[domain.WorkflowInstance](t, c, "GET", "/api/instances/"+id, nil, http.StatusOK)
		if done(&inst) {
			return &inst
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("instance %s did not reach the expected state within %s, last status %s", id, timeout, inst.Status)
	return nil
}

func HasStatus(status domain.InstanceStatus) func(*domain.WorkflowInstance) bool {
	return func(inst *domain.WorkflowInstance) bool { return inst.Status == status }
}

// IsWaitingAt reports whether the instance is parked on an approval at step idx.
func IsWaitingAt(idx int) func(*domain.WorkflowInstance) bool {
	return func(inst *domain.WorkflowInstance) bool {
		return inst.CurrentStep.Index == idx && idx < len(inst.Steps) && inst.Steps[idx].Status == domain.StepWaiting
	}
}
