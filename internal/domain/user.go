package domain

import (
	"database/sql"
)

type User struct {
	ID       int64          `json:"id"`
	Username string         `json:"username"`
	Password string         `json:"-"` // bcrypt hash
	ApiKey   sql.NullString `json:"-"`
	Admin    bool           `json:"admin"`
	Created  sql.NullTime   `json:"created"`
	Enabled  sql.NullBool   `json:"enabled"`
}

func (u *User) IsEnabled() bool {
	return !u.Enabled.Valid || u.Enabled.Bool
}
