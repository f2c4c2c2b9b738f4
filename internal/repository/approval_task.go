package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

type ApprovalTaskRepository struct {
	db *sql.DB
}

func NewApprovalTaskRepository(db *sql.DB) *ApprovalTaskRepository {
	return &ApprovalTaskRepository{db: db}
}

const taskColumns = ` id, instance_id, step_index, step_name, type, approvers, required_approvals,
		       required_percentage, deadline, status, decided_by, created, resolved, revision `

func scanTask(row rowScanner) (*domain.ApprovalTask, error) {
	var (
		task                 domain.ApprovalTask
		approvers, decidedBy sql.NullString
		resolved             sql.NullTime
	)
	err := row.Scan(
		&task.ID,
		&task.InstanceID,
		&task.StepIndex,
		&task.StepName,
		&task.Type,
		&approvers,
		&task.RequiredApprovals,
		&task.RequiredPercentage,
		&task.Deadline,
		&task.Status,
		&decidedBy,
		&task.Created,
		&resolved,
		&task.Revision,
	)
	if err != nil {
		return nil, err
	}
	task.Deadline = task.Deadline.UTC()
	task.Created = task.Created.UTC()
	task.Resolved = nullTimePtr(resolved)
	task.DecidedBy = decidedBy.String
	if err := fromJSON(approvers, &task.Approvers); err != nil {
		return nil, fmt.Errorf("decode approvers of task %s: %w", task.ID, err)
	}
	return &task, nil
}

// Save inserts a task at revision 1. A second task for the same instance step
// is a ConflictError.
func (r *ApprovalTaskRepository) Save(ctx context.Context, task *domain.ApprovalTask) error {
	approvers, err := toJSON(task.Approvers)
	if err != nil {
		return err
	}
	task.Revision = 1
	query := `
		INSERT INTO approval_tasks (` + taskColumns + `)
		VALUES (` + placeholders(1, 14) + `)`
	_, err = r.db.ExecContext(ctx, query,
		task.ID,
		task.InstanceID,
		task.StepIndex,
		task.StepName,
		task.Type,
		approvers,
		task.RequiredApprovals,
		task.RequiredPercentage,
		formatDateInDatabase(task.Deadline),
		task.Status,
		task.DecidedBy,
		formatDateInDatabase(task.Created),
		formatDateInDatabaseNull(task.Resolved),
		task.Revision,
	)
	if isUniqueViolation(err) {
		return flowerrors.Conflict("approval task", task.InstanceID, "step %d already has a task", task.StepIndex)
	}
	return err
}

func (r *ApprovalTaskRepository) FindByID(ctx context.Context, id string) (*domain.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks WHERE id = ` + placeholder(1)
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flowerrors.NotFound("approval task", id)
	}
	return task, err
}

// FindByInstanceStep returns (nil, nil) when the step has no task yet.
func (r *ApprovalTaskRepository) FindByInstanceStep(ctx context.Context, instanceID string, stepIndex int) (*domain.ApprovalTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM approval_tasks
		WHERE instance_id = ` + placeholder(1) + ` AND step_index = ` + placeholder(2)
	task, err := scanTask(r.db.QueryRowContext(ctx, query, instanceID, stepIndex))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// UpdateIfPending writes the task only while it is still pending at the same
// revision, then bumps task.Revision. Otherwise it returns a ConflictError.
func (r *ApprovalTaskRepository) UpdateIfPending(ctx context.Context, task *domain.ApprovalTask) error {
	approvers, err := toJSON(task.Approvers)
	if err != nil {
		return err
	}
	query := `
		UPDATE approval_tasks
		SET approvers = ` + placeholder(1) + `,
		    status = ` + placeholder(2) + `,
		    decided_by = ` + placeholder(3) + `,
		    resolved = ` + placeholder(4) + `,
		    revision = revision + 1
		WHERE id = ` + placeholder(5) + ` AND revision = ` + placeholder(6) + ` AND status = ` + placeholder(7)
	res, err := r.db.ExecContext(ctx, query,
		approvers,
		task.Status,
		task.DecidedBy,
		formatDateInDatabaseNull(task.Resolved),
		task.ID,
		task.Revision,
		domain.TaskPending,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.FindByID(ctx, task.ID); err != nil {
			return err
		}
		return flowerrors.Conflict("approval task", task.ID, "no longer pending at revision %d", task.Revision)
	}
	task.Revision++
	return nil
}

// FindExpiredPending returns pending tasks whose deadline is at or before now.
func (r *ApprovalTaskRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalTask, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query := `
		SELECT ` + taskColumns + `
		FROM approval_tasks
		WHERE status = ` + placeholder(1) + ` AND ` + dateNotAfter("deadline", 2) + `
		ORDER BY deadline ASC
		LIMIT ` + placeholder(3)
	return r.list(ctx, query, domain.TaskPending, formatDateInDatabase(now), limit)
}

// FindPending lists pending tasks, soonest deadline first. With filter.User set
// only tasks where that user has not voted yet are returned.
func (r *ApprovalTaskRepository) FindPending(ctx context.Context, filter models.ApprovalFilter) ([]domain.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks WHERE status = ` + placeholder(1)
	args := []any{domain.TaskPending}
	if filter.InstanceID != "" {
		args = append(args, filter.InstanceID)
		query += ` AND instance_id = ` + placeholder(len(args))
	}
	query += ` ORDER BY deadline ASC`

	tasks, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	out := make([]domain.ApprovalTask, 0, len(tasks))
	for _, t := range tasks {
		if filter.User != "" {
			idx := t.ApproverIndex(filter.User)
			if idx < 0 || t.Approvers[idx].Status != domain.VotePending {
				continue
			}
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *ApprovalTaskRepository) list(ctx context.Context, query string, args ...any) ([]domain.ApprovalTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ApprovalTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}
