package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

type WorkflowInstanceRepository struct {
	db *sql.DB
}

func NewWorkflowInstanceRepository(db *sql.DB) *WorkflowInstanceRepository {
	return &WorkflowInstanceRepository{db: db}
}

const instanceColumns = ` id, definition_id, definition_name, definition_version, status, trigger_data,
		       variables, current_step, steps, error, created_by, created, started, ended,
		       duration_ms, revision `

const defaultSearchLimit = 100

func scanInstance(row rowScanner) (*domain.WorkflowInstance, error) {
	var (
		inst                               domain.WorkflowInstance
		trigger, variables, current, steps sql.NullString
		instErr, createdBy                 sql.NullString
		started, ended                     sql.NullTime
	)
	err := row.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.DefinitionName,
		&inst.DefinitionVersion,
		&inst.Status,
		&trigger,
		&variables,
		&current,
		&steps,
		&instErr,
		&createdBy,
		&inst.Created,
		&started,
		&ended,
		&inst.DurationMs,
		&inst.Revision,
	)
	if err != nil {
		return nil, err
	}
	inst.Created = inst.Created.UTC()
	inst.Started = nullTimePtr(started)
	inst.Ended = nullTimePtr(ended)
	inst.CreatedBy = createdBy.String
	for _, col := range []struct {
		value sql.NullString
		out   any
	}{
		{trigger, &inst.Trigger},
		{variables, &inst.Variables},
		{current, &inst.CurrentStep},
		{steps, &inst.Steps},
		{instErr, &inst.Error},
	} {
		if err := fromJSON(col.value, col.out); err != nil {
			return nil, fmt.Errorf("decode instance %s: %w", inst.ID, err)
		}
	}
	return &inst, nil
}

func instanceJSON(inst *domain.WorkflowInstance) (trigger, variables, current, steps string, instErr any, err error) {
	if trigger, err = toJSON(inst.Trigger); err != nil {
		return
	}
	if variables, err = toJSON(inst.Variables); err != nil {
		return
	}
	if current, err = toJSON(inst.CurrentStep); err != nil {
		return
	}
	if steps, err = toJSON(inst.Steps); err != nil {
		return
	}
	if inst.Error != nil {
		instErr, err = toJSON(inst.Error)
	}
	return
}

// Save inserts a new instance at revision 1.
func (r *WorkflowInstanceRepository) Save(ctx context.Context, inst *domain.WorkflowInstance) error {
	trigger, variables, current, steps, instErr, err := instanceJSON(inst)
	if err != nil {
		return err
	}
	inst.Revision = 1
	query := `
		INSERT INTO workflow_instances (` + instanceColumns + `)
		VALUES (` + placeholders(1, 16) + `)`
	_, err = r.db.ExecContext(ctx, query,
		inst.ID,
		inst.DefinitionID,
		inst.DefinitionName,
		inst.DefinitionVersion,
		inst.Status,
		trigger,
		variables,
		current,
		steps,
		instErr,
		inst.CreatedBy,
		formatDateInDatabase(inst.Created),
		formatDateInDatabaseNull(inst.Started),
		formatDateInDatabaseNull(inst.Ended),
		inst.DurationMs,
		inst.Revision,
	)
	return err
}

func (r *WorkflowInstanceRepository) FindByID(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances WHERE id = ` + placeholder(1)
	inst, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flowerrors.NotFound("instance", id)
	}
	return inst, err
}

// Update writes inst only if the stored revision still equals inst.Revision,
// then bumps inst.Revision. A stale revision is a ConflictError.
func (r *WorkflowInstanceRepository) Update(ctx context.Context, inst *domain.WorkflowInstance) error {
	trigger, variables, current, steps, instErr, err := instanceJSON(inst)
	if err != nil {
		return err
	}
	query := `
		UPDATE workflow_instances
		SET status = ` + placeholder(1) + `,
		    trigger_data = ` + placeholder(2) + `,
		    variables = ` + placeholder(3) + `,
		    current_step = ` + placeholder(4) + `,
		    steps = ` + placeholder(5) + `,
		    error = ` + placeholder(6) + `,
		    started = ` + placeholder(7) + `,
		    ended = ` + placeholder(8) + `,
		    duration_ms = ` + placeholder(9) + `,
		    revision = revision + 1
		WHERE id = ` + placeholder(10) + ` AND revision = ` + placeholder(11)
	res, err := r.db.ExecContext(ctx, query,
		inst.Status,
		trigger,
		variables,
		current,
		steps,
		instErr,
		formatDateInDatabaseNull(inst.Started),
		formatDateInDatabaseNull(inst.Ended),
		inst.DurationMs,
		inst.ID,
		inst.Revision,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_instances WHERE id = `+placeholder(1), inst.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return flowerrors.NotFound("instance", inst.ID)
		}
		return flowerrors.Conflict("instance", inst.ID, "revision %d is stale", inst.Revision)
	}
	inst.Revision++
	return nil
}

// FindRunning returns running instances, oldest first.
func (r *WorkflowInstanceRepository) FindRunning(ctx context.Context, limit int) ([]domain.WorkflowInstance, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE status = ` + placeholder(1) + `
		ORDER BY created ASC
		LIMIT ` + placeholder(2)
	return r.list(ctx, query, domain.InstanceRunning, limit)
}

// Search filters on definition and status, newest first.
func (r *WorkflowInstanceRepository) Search(ctx context.Context, req models.SearchInstancesRequest) ([]domain.WorkflowInstance, error) {
	var (
		where []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, column+" = "+placeholder(len(args)))
	}
	if req.DefinitionName != "" {
		add("definition_name", req.DefinitionName)
	}
	if req.DefinitionID != "" {
		add("definition_id", req.DefinitionID)
	}
	if req.Status != "" {
		add("status", req.Status)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	offset := max(req.Offset, 0)

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += " ORDER BY created DESC LIMIT " + placeholder(len(args)-1) + " OFFSET " + placeholder(len(args))
	return r.list(ctx, query, args...)
}

func (r *WorkflowInstanceRepository) list(ctx context.Context, query string, args ...any) ([]domain.WorkflowInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.WorkflowInstance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}
