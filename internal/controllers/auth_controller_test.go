package controllers

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/RealZimboGuy/stepflow/internal/domain"
	"github.com/RealZimboGuy/stepflow/pkg/stepflow/core"
)

// MockUserRepo implements engine.UserRepo for testing
type MockUserRepo struct {
	FindByApiKeyFunc   func(ctx context.Context, apiKey string) (*domain.User, error)
	FindByUsernameFunc func(ctx context.Context, username string) (*domain.User, error)
	SaveFunc           func(ctx context.Context, user *domain.User) (int64, error)
	FindAllFunc        func(ctx context.Context) ([]domain.User, error)
}

func (m *MockUserRepo) FindByApiKey(ctx context.Context, apiKey string) (*domain.User, error) {
	if m.FindByApiKeyFunc != nil {
		return m.FindByApiKeyFunc(ctx, apiKey)
	}
	return nil, nil
}
func (m *MockUserRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	if m.FindByUsernameFunc != nil {
		return m.FindByUsernameFunc(ctx, username)
	}
	return nil, nil
}
func (m *MockUserRepo) Save(ctx context.Context, user *domain.User) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, user)
	}
	return 0, nil
}
func (m *MockUserRepo) FindAll(ctx context.Context) ([]domain.User, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc(ctx)
	}
	return nil, nil
}

// keyedUsers resolves "user-key" to a plain user and "admin-key" to an admin.
func keyedUsers() *MockUserRepo {
	return &MockUserRepo{
		FindByApiKeyFunc: func(ctx context.Context, apiKey string) (*domain.User, error) {
			switch apiKey {
			case "user-key":
				return &domain.User{Username: "ann"}, nil
			case "admin-key":
				return &domain.User{Username: "root", Admin: true}, nil
			}
			return nil, nil
		},
	}
}

func TestAuthController_RequireAuth_ApiKey(t *testing.T) {
	ac := NewBaseController(keyedUsers())

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if username := core.UsernameFrom(r.Context()); username != "root" {
			t.Errorf("Expected username in context, got %v", username)
		}
		if !core.IsAdmin(r.Context()) {
			t.Errorf("Expected admin flag in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "admin-key")
	w := httptest.NewRecorder()

	ac.RequireAuth(nextHandler).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestAuthController_RequireAuth_BasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	mockRepo := &MockUserRepo{
		FindByUsernameFunc: func(ctx context.Context, username string) (*domain.User, error) {
			if username == "bob" {
				return &domain.User{Username: "bob", Password: string(hash)}, nil
			}
			return nil, nil
		},
	}
	ac := NewBaseController(mockRepo)

	called := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if username := core.UsernameFrom(r.Context()); username != "bob" {
			t.Errorf("Expected username bob in context, got %v", username)
		}
		if core.IsAdmin(r.Context()) {
			t.Errorf("bob is not an admin")
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.SetBasicAuth("bob", "s3cret")
	w := httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusOK || !called {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	// wrong password
	called = false
	req = httptest.NewRequest("GET", "/protected", nil)
	req.SetBasicAuth("bob", "guess")
	w = httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized || called {
		t.Errorf("Expected unauthorized 401, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Errorf("Expected a WWW-Authenticate challenge")
	}
}

func TestAuthController_RequireAuth_Unauthorized(t *testing.T) {
	mockRepo := keyedUsers()
	mockRepo.FindByApiKeyFunc = func(ctx context.Context, apiKey string) (*domain.User, error) {
		if apiKey == "disabled-key" {
			return &domain.User{Username: "gone", Enabled: sql.NullBool{Bool: false, Valid: true}}, nil
		}
		return nil, nil
	}
	ac := NewBaseController(mockRepo)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Next handler should not be called")
	})

	// Case 1: No credentials
	req := httptest.NewRequest("GET", "/protected", nil)
	w := httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected unauthorized 401, got %d", w.Code)
	}

	// Case 2: Invalid API Key
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "invalid_key")
	w = httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected unauthorized 401, got %d", w.Code)
	}

	// Case 3: Disabled user
	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "disabled-key")
	w = httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected unauthorized 401, got %d", w.Code)
	}
}

func TestAuthController_RequireAdmin(t *testing.T) {
	ac := NewBaseController(keyedUsers())
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/users", nil)
	req.Header.Set("X-API-Key", "user-key")
	w := httptest.NewRecorder()
	ac.RequireAdmin(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected forbidden 403, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/users", nil)
	req.Header.Set("X-API-Key", "admin-key")
	w = httptest.NewRecorder()
	ac.RequireAdmin(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
