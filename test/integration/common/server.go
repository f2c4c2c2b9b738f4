package common

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/config"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow"
	"github.com/RealZimboGuy/stepflow/test/integration"
)

// StartServer boots a full engine on port against the database configured in
// the environment and stops it when the test ends. The sweeper ticks quickly so
// that moving clock forward expires approval tasks within a test.
func StartServer(t *testing.T, port int, clock *integration.FakeClock) *Client {
	t.Helper()
	t.Setenv("HTTP_ADDR", ":"+strconv.Itoa(port))
	t.Setenv(config.ADMIN_USERNAME, "admin")
	t.Setenv(config.ADMIN_API_KEY, AdminAPIKey)
	t.Setenv(config.ENGINE_EXPIRY_SWEEP_INTERVAL, "100ms")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- stepflow.Start(ctx, stepflow.Options{Functions: Functions(), Clock: clock})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Logf("server stopped with error: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Log("server did not stop in time")
		}
	})

	c := NewClient(port)
	WaitForServer(t, c, 30*time.Second)
	return c
}
