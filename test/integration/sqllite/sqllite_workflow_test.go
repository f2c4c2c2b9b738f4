package sqllite

import (
	"testing"

	"github.com/RealZimboGuy/stepflow/test/integration"
	"github.com/RealZimboGuy/stepflow/test/integration/common"
)

func TestSqlLiteApprovalWorkflow(t *testing.T) {
	runTestWithSetup(t, func(t *testing.T, c *common.Client, _ *integration.FakeClock) {
		common.RunApprovalScenario(t, c)
		common.RunRejectScenario(t, c)
	})
}

func TestSqlLiteApprovalExpiry(t *testing.T) {
	runTestWithSetup(t, func(t *testing.T, c *common.Client, clock *integration.FakeClock) {
		common.RunExpiryScenario(t, c, clock)
	})
}

func TestSqlLiteDefinitionVersioning(t *testing.T) {
	runTestWithSetup(t, func(t *testing.T, c *common.Client, _ *integration.FakeClock) {
		common.RunVersioningScenario(t, c)
	})
}

func TestSqlLiteWebhookWorkflow(t *testing.T) {
	runTestWithSetup(t, func(t *testing.T, c *common.Client, _ *integration.FakeClock) {
		common.RunWebhookScenario(t, c)
	})
}
