package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/flowerrors"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

func TestUsersController_CreateUser(t *testing.T) {
	var saved *domain.User
	repo := keyedUsers()
	repo.SaveFunc = func(ctx context.Context, user *domain.User) (int64, error) {
		if user.Username == "taken" {
			return 0, flowerrors.Conflict("user", user.Username, "username already exists")
		}
		saved = user
		return 7, nil
	}
	mux := http.NewServeMux()
	NewUsersController(repo).RegisterRoutes(mux)

	w := call(mux, "POST", "/api/users", "admin-key", `{"username":"carol","password":"pw","apiKey":"carol-key"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp models.CreateUserResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 7, resp.ID)

	require.NotNil(t, saved)
	assert.NotEqual(t, "pw", saved.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(saved.Password), []byte("pw")))
	assert.Equal(t, "carol-key", saved.ApiKey.String)
	assert.False(t, saved.Admin)

	assert.Equal(t, http.StatusBadRequest, call(mux, "POST", "/api/users", "admin-key", `{"username":"dave"}`).Code)
	assert.Equal(t, http.StatusConflict, call(mux, "POST", "/api/users", "admin-key", `{"username":"taken","password":"pw"}`).Code)
	assert.Equal(t, http.StatusForbidden, call(mux, "POST", "/api/users", "user-key", `{"username":"eve","password":"pw"}`).Code)
}

func TestUsersController_GetUsers(t *testing.T) {
	repo := keyedUsers()
	repo.FindAllFunc = func(ctx context.Context) ([]domain.User, error) {
		return []domain.User{{ID: 1, Username: "root", Password: "hash", Admin: true}}, nil
	}
	mux := http.NewServeMux()
	NewUsersController(repo).RegisterRoutes(mux)

	w := call(mux, "GET", "/api/users", "admin-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "hash")
}
