package controllers

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/RealZimboGuy/stepflow/internal/engine"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
)

type AuthController struct {
	UserRepo engine.UserRepo
}

func NewBaseController(userRepo engine.UserRepo) *AuthController {
	return &AuthController{UserRepo: userRepo}
}

// RequireAuth accepts an X-API-Key header or HTTP Basic credentials. The
// authenticated username and admin flag are stored on the request context.
func (wc *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 1) API key
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			u, err := wc.UserRepo.FindByApiKey(r.Context(), apiKey)
			if err != nil {
				slog.ErrorContext(r.Context(), "Failed to look up api key", "error", err)
			}
			if err == nil && u != nil && u.IsEnabled() {
				next(w, r.WithContext(withUser(r.Context(), u.Username, u.Admin)))
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		// 2) Basic auth against the bcrypt hash
		if username, password, ok := r.BasicAuth(); ok {
			u, err := wc.UserRepo.FindByUsername(r.Context(), username)
			if err != nil {
				slog.ErrorContext(r.Context(), "Failed to look up user", "username", username, "error", err)
			}
			if err == nil && u != nil && u.IsEnabled() &&
				bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil {
				next(w, r.WithContext(withUser(r.Context(), u.Username, u.Admin)))
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="stepflow"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}

// RequireAdmin is RequireAuth restricted to admin users.
func (wc *AuthController) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return wc.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !core.IsAdmin(r.Context()) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func withUser(ctx context.Context, username string, admin bool) context.Context {
	ctx = context.WithValue(ctx, core.CtxKeyUsername, username)
	return context.WithValue(ctx, core.CtxKeyAdmin, admin)
}
