package postgres

import (
	"testing"

	"github.com/RealZimboGuy/stepflow/test/integration"
	"github.com/RealZimboGuy/stepflow/test/integration/common"
)

func TestPostgresApprovalWorkflow(t *testing.T) {
	runTestWithSetup(t, func(t *testing.T, c *common.Client, _ *integration.FakeClock) {
		common.RunApprovalScenario(t, c)
		common.RunRejectScenario(t, c)
		common.RunVersioningScenario(t, c)
	})
}

func TestPostgresApprovalExpiry(t *testing.T) {
	runTestWithSetup(t, func(t *testing.T, c *common.Client, clock *integration.FakeClock) {
		common.RunExpiryScenario(t, c, clock)
		common.RunWebhookScenario(t, c)
	})
}
