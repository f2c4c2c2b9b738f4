package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"
)

type WorkflowDefinitionRepository struct {
	db *sql.DB
}

func NewWorkflowDefinitionRepository(db *sql.DB) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{db: db}
}

const definitionColumns = ` id, name, version, type, description, status, trigger_def, steps,
		       variables, timeout_def, created_by, created, updated `

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*domain.WorkflowDefinition, error) {
	var (
		def                                     domain.WorkflowDefinition
		typ, desc, createdBy                    sql.NullString
		trigger, steps, variables, timeoutValue sql.NullString
	)
	err := row.Scan(
		&def.ID,
		&def.Name,
		&def.Version,
		&typ,
		&desc,
		&def.Status,
		&trigger,
		&steps,
		&variables,
		&timeoutValue,
		&createdBy,
		&def.Created,
		&def.Updated,
	)
	if err != nil {
		return nil, err
	}
	def.Type = typ.String
	def.Description = desc.String
	def.CreatedBy = createdBy.String
	def.Created = def.Created.UTC()
	def.Updated = def.Updated.UTC()
	if err := fromJSON(trigger, &def.Trigger); err != nil {
		return nil, fmt.Errorf("decode trigger of %s: %w", def.ID, err)
	}
	if err := fromJSON(steps, &def.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of %s: %w", def.ID, err)
	}
	if err := fromJSON(variables, &def.Variables); err != nil {
		return nil, fmt.Errorf("decode variables of %s: %w", def.ID, err)
	}
	if err := fromJSON(timeoutValue, &def.Timeout); err != nil {
		return nil, fmt.Errorf("decode timeout of %s: %w", def.ID, err)
	}
	return &def, nil
}

// Save inserts a new definition version. Versions are immutable so there is no update path.
func (r *WorkflowDefinitionRepository) Save(ctx context.Context, def *domain.WorkflowDefinition) error {
	trigger, err := toJSON(def.Trigger)
	if err != nil {
		return err
	}
	steps, err := toJSON(def.Steps)
	if err != nil {
		return err
	}
	variables, err := toJSON(def.Variables)
	if err != nil {
		return err
	}
	timeoutValue, err := toJSON(def.Timeout)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO workflow_definitions (` + definitionColumns + `)
		VALUES (` + placeholders(1, 13) + `)`
	_, err = r.db.ExecContext(ctx, query,
		def.ID,
		def.Name,
		def.Version,
		def.Type,
		def.Description,
		def.Status,
		trigger,
		steps,
		variables,
		timeoutValue,
		def.CreatedBy,
		formatDateInDatabase(def.Created),
		formatDateInDatabase(def.Updated),
	)
	if isUniqueViolation(err) {
		return flowerrors.Conflict("definition", def.Name, "version %d already exists", def.Version)
	}
	return err
}

func (r *WorkflowDefinitionRepository) FindByID(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions WHERE id = ` + placeholder(1)
	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flowerrors.NotFound("definition", id)
	}
	return def, err
}

func (r *WorkflowDefinitionRepository) query(ctx context.Context, where string, args ...any) ([]domain.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions ` + where + `
		ORDER BY name, version`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]domain.WorkflowDefinition, 0)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

// FindByName returns every version of name, oldest first.
func (r *WorkflowDefinitionRepository) FindByName(ctx context.Context, name string) ([]domain.WorkflowDefinition, error) {
	return r.query(ctx, "WHERE name = "+placeholder(1), name)
}

func (r *WorkflowDefinitionRepository) FindActive(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	return r.query(ctx, "WHERE status = "+placeholder(1), domain.DefinitionActive)
}

func (r *WorkflowDefinitionRepository) FindAll(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	return r.query(ctx, "")
}

// MaxVersion returns the highest stored version of name, or 0 when there is none.
func (r *WorkflowDefinitionRepository) MaxVersion(ctx context.Context, name string) (int, error) {
	var v sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(version) FROM workflow_definitions WHERE name = `+placeholder(1), name).Scan(&v)
	if err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

func (r *WorkflowDefinitionRepository) UpdateStatus(ctx context.Context, id string, status domain.DefinitionStatus, updated time.Time) error {
	query := `
		UPDATE workflow_definitions
		SET status = ` + placeholder(1) + `, updated = ` + placeholder(2) + `
		WHERE id = ` + placeholder(3)
	res, err := r.db.ExecContext(ctx, query, status, formatDateInDatabase(updated), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return flowerrors.NotFound("definition", id)
	}
	return nil
}

// ActivateExclusive activates id and deactivates every other active version of
// the same name in one transaction. It returns the ids it deactivated.
func (r *WorkflowDefinitionRepository) ActivateExclusive(ctx context.Context, id string, updated time.Time) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var name string
	err = tx.QueryRowContext(ctx, `SELECT name FROM workflow_definitions WHERE id = `+placeholder(1), id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flowerrors.NotFound("definition", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM workflow_definitions
		WHERE name = `+placeholder(1)+` AND status = `+placeholder(2)+` AND id <> `+placeholder(3),
		name, domain.DefinitionActive, id)
	if err != nil {
		return nil, err
	}
	var siblings []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			rows.Close()
			return nil, err
		}
		siblings = append(siblings, sid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ts := formatDateInDatabase(updated)
	if len(siblings) > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE workflow_definitions SET status = `+placeholder(1)+`, updated = `+placeholder(2)+`
			WHERE name = `+placeholder(3)+` AND status = `+placeholder(4)+` AND id <> `+placeholder(5),
			domain.DefinitionInactive, ts, name, domain.DefinitionActive, id)
		if err != nil {
			return nil, err
		}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_definitions SET status = `+placeholder(1)+`, updated = `+placeholder(2)+`
		WHERE id = `+placeholder(3),
		domain.DefinitionActive, ts, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return siblings, nil
}
