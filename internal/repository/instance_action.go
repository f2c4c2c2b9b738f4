package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/RealZimboGuy/stepflow/internal/domain"
)

// InstanceActionRepository persists the audit trail of instances.
type InstanceActionRepository struct {
	db *sql.DB
}

func NewInstanceActionRepository(db *sql.DB) *InstanceActionRepository {
	return &InstanceActionRepository{db: db}
}

// Save inserts a new action and returns its ID.
func (r *InstanceActionRepository) Save(ctx context.Context, a *domain.InstanceAction) (int64, error) {
	base := `
		INSERT INTO instance_actions (instance_id, step_index, type, name, text, date_time)
		VALUES (` + placeholders(1, 6) + `)`
	id, err := insertReturningID(ctx, r.db, base,
		a.InstanceID,
		a.StepIndex,
		a.Type,
		a.Name,
		a.Text,
		formatDateInDatabase(a.DateTime),
	)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to save instance action", "instance_id", a.InstanceID, "type", a.Type, "error", err)
		return 0, err
	}
	a.ID = id
	return id, nil
}

// FindAllByInstanceID returns the trail of an instance in insertion order.
func (r *InstanceActionRepository) FindAllByInstanceID(ctx context.Context, instanceID string) ([]domain.InstanceAction, error) {
	query := `
		SELECT id, instance_id, step_index, type, name, text, date_time
		FROM instance_actions
		WHERE instance_id = ` + placeholder(1) + `
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := make([]domain.InstanceAction, 0)
	for rows.Next() {
		var (
			a          domain.InstanceAction
			name, text sql.NullString
		)
		if err := rows.Scan(
			&a.ID,
			&a.InstanceID,
			&a.StepIndex,
			&a.Type,
			&name,
			&text,
			&a.DateTime,
		); err != nil {
			return nil, err
		}
		a.Name = name.String
		a.Text = text.String
		a.DateTime = a.DateTime.UTC()
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
