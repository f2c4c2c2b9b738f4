package controllers

import (
	"database/sql"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/internal/util"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/models"
)

// UsersController manages API users. Every route is admin only.
type UsersController struct {
	AuthController
}

func NewUsersController(userRepo engine.UserRepo) *UsersController {
	return &UsersController{AuthController: AuthController{UserRepo: userRepo}}
}

// handleGetUsers returns all users
func (c *UsersController) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := c.UserRepo.FindAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, users)
}

// handleCreateUser creates a new user with a bcrypt hashed password
func (c *UsersController) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateUserRequest](r)
	if err != nil {
		badRequest(w, "invalid user data")
		return
	}
	if req.Username == "" || (req.Password == "" && req.ApiKey == "") {
		badRequest(w, "username and a password or apiKey are required")
		return
	}

	user := &domain.User{Username: req.Username, Admin: req.Admin}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			slog.ErrorContext(r.Context(), "Failed to hash password", "error", err)
			writeError(w, r, err)
			return
		}
		user.Password = string(hash)
	}
	if req.ApiKey != "" {
		user.ApiKey = sql.NullString{String: req.ApiKey, Valid: true}
	}

	id, err := c.UserRepo.Save(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "User created", "username", user.Username, "admin", user.Admin)
	util.WriteJSONResponse(w, http.StatusCreated, models.CreateUserResponse{ID: id})
}
