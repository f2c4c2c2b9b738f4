package stepflow

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RealZimboGuy/stepflow/internal/config"
)

const leaveYAML = `
name: leave-request
trigger:
  eventName: leave.requested
  conditions:
    field: days
    operator: ">="
    value: 3
variables:
  days:
    type: number
    required: true
steps:
  - name: lead
    type: approval
    config:
      approvalType: single
      approvers: [ann]
  - name: tell-hr
    type: notification
    config:
      message: "{{ .variables.days }} days approved"
`

const brokenYAML = `
name: broken
steps:
  - name: mystery
    type: teleport
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateDefinitionFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "leave.yaml", leaveYAML)
	bad := writeFile(t, dir, "broken.yaml", brokenYAML)

	assert.NoError(t, ValidateDefinitionFiles(good))

	err := ValidateDefinitionFiles(good, bad, filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
	assert.Contains(t, err.Error(), "teleport")
	assert.Contains(t, err.Error(), "missing.yaml")
	assert.NotContains(t, err.Error(), "leave.yaml")
}

func TestMigrate_SqlLite(t *testing.T) {
	file := filepath.Join(t.TempDir(), "migrate.db")
	t.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	t.Setenv(config.DATABASE_SQLLITE_FILE_NAME, file)

	require.NoError(t, Migrate())
	// a second run finds nothing to apply
	require.NoError(t, Migrate())

	db, err := sql.Open("sqlite3", file)
	require.NoError(t, err)
	defer db.Close()
	for _, table := range []string{"workflow_definitions", "workflow_instances", "approval_tasks", "instance_actions", "users"} {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n), table)
		assert.Zero(t, n, table)
	}
}

func TestMigrate_UnknownDatabaseType(t *testing.T) {
	t.Setenv(config.DATABASE_TYPE, "ORACLE")
	err := Migrate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.DATABASE_TYPE)
}
