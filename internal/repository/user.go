package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
)

// UserRepository provides persistence methods for the users table.
type UserRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewUserRepository(db *sql.DB, clock core.Clock) *UserRepository {
	return &UserRepository{db: db, clock: clock}
}

const userColumns = ` id, username, password, api_key, admin, created, enabled `

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Password,
		&u.ApiKey,
		&u.Admin,
		&u.Created,
		&u.Enabled,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Save inserts a new user and returns its generated id.
// It will set Created to now if it's not provided (null or zero).
func (r *UserRepository) Save(ctx context.Context, u *domain.User) (int64, error) {
	if !u.Created.Valid {
		u.Created = sql.NullTime{Time: r.clock.Now().UTC(), Valid: true}
	}
	if !u.Enabled.Valid {
		u.Enabled = sql.NullBool{Bool: true, Valid: true}
	}
	base := `
        INSERT INTO users (username, password, api_key, admin, created, enabled)
        VALUES (` + placeholders(1, 6) + `)
    `
	id, err := insertReturningID(ctx, r.db, base,
		u.Username,
		u.Password,
		u.ApiKey,
		u.Admin,
		formatDateInDatabase(u.Created.Time),
		u.Enabled,
	)
	if isUniqueViolation(err) {
		return 0, flowerrors.Conflict("user", u.Username, "username already exists")
	}
	if err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

// FindByUsername fetches a user by exact username. Returns (nil, nil) if not found.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ` + placeholder(1) + ` LIMIT 1`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// FindByApiKey fetches a user by api_key (exact match). Returns (nil, nil) if not found.
func (r *UserRepository) FindByApiKey(ctx context.Context, apiKey string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE api_key = ` + placeholder(1) + ` LIMIT 1`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// FindAll returns all users ordered by id ascending.
func (r *UserRepository) FindAll(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
