package mysql

import (
	"testing"

	"github.com/RealZimboGuy/stepflow/test/integration"
	"github.com/RealZimboGuy/stepflow/test/integration/common"
)

func TestMySQLApprovalWorkflow(t *testing.T) {
	runTestWithSetup(t, func(t *testing.T, c *common.Client, _ *integration.FakeClock) {
		common.RunApprovalScenario(t, c)
		common.RunRejectScenario(t, c)
		common.RunVersioningScenario(t, c)
	})
}

func TestMySQLApprovalExpiry(t *testing.T) {
	runTestWithSetup(t, func(t *testing.T, c *common.Client, clock *integration.FakeClock) {
		common.RunExpiryScenario(t, c, clock)
	})
}
