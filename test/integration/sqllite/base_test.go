package sqllite

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/config"
	"github.com/RealZimboGuy/stepflow/test/integration"
	"github.com/RealZimboGuy/stepflow/test/integration/common"
)

var portBase int32 = 9018

func nextPort() int {
	return int(atomic.AddInt32(&portBase, 1))
}

func runTestWithSetup(t *testing.T, testFunc func(t *testing.T, c *common.Client, clock *integration.FakeClock)) {
	t.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	t.Setenv(config.DATABASE_SQLLITE_FILE_NAME, filepath.Join(t.TempDir(), "stepflow-test.db"))
	clock := integration.NewFakeClock(time.Now().UTC())
	c := common.StartServer(t, nextPort(), clock)
	testFunc(t, c, clock)
}
