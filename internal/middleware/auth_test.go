package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/supercopa/totem/internal/logging"
	"github.com/supercopa/totem/supabase/client"
)

var testSecret = []byte("super-secret-jwt-token-with-at-least-32-characters")

func generateTestToken(t *testing.T, method jwt.SigningMethod, key interface{}, subject string, expired bool) string {
	t.Helper()
	claims := &Claims{
		Email: "staff@supercopa.test",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	}

	tokenString, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

type fakeUsers struct {
	user *client.User
	err  error
	seen string
}

func (f *fakeUsers) GetUser(_ context.Context, token string) (*client.User, error) {
	f.seen = token
	return f.user, f.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewAuthMiddleware(t *testing.T) {
	middleware := NewAuthMiddleware(testSecret, nil, logging.NewNop(), []string{"/api/auth/login", "/healthz"})

	if len(middleware.skipPaths) != 2 {
		t.Errorf("skipPaths length = %d, want 2", len(middleware.skipPaths))
	}
	if !middleware.skipPaths["/api/auth/login"] {
		t.Error("skipPaths does not contain /api/auth/login")
	}
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, nil, logging.NewNop(), []string{"/api/auth/login"}).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/auth/login", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_InvalidAuthHeader(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, nil, logging.NewNop(), nil).Handler(okHandler())

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"no bearer prefix", "token123"},
		{"wrong prefix", "Basic token123"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/dashboard", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidHS256Token(t *testing.T) {
	var capturedUserID, capturedEmail, capturedRole string
	handler := NewAuthMiddleware(testSecret, nil, logging.NewNop(), nil).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedUserID = GetUserID(r.Context())
			capturedEmail = GetUserEmail(r.Context())
			capturedRole = GetUserRole(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	token := generateTestToken(t, jwt.SigningMethodHS256, testSecret, "user-123", false)
	req := httptest.NewRequest("GET", "/api/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("User ID = %v, want user-123", capturedUserID)
	}
	if capturedEmail != "staff@supercopa.test" {
		t.Errorf("Email = %v", capturedEmail)
	}
	if capturedRole != "authenticated" {
		t.Errorf("Role = %v, want authenticated", capturedRole)
	}
}

func TestAuthMiddleware_Handler_RejectedTokens(t *testing.T) {
	handler := NewAuthMiddleware(testSecret, nil, logging.NewNop(), nil).Handler(okHandler())

	tests := []struct {
		name  string
		token string
	}{
		{"expired", generateTestToken(t, jwt.SigningMethodHS256, testSecret, "user-123", true)},
		{"wrong secret", generateTestToken(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret-000"), "user-123", false)},
		{"hs512", generateTestToken(t, jwt.SigningMethodHS512, testSecret, "user-123", false)},
		{"no subject", generateTestToken(t, jwt.SigningMethodHS256, testSecret, "", false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/dashboard", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Handler_RemoteLookup(t *testing.T) {
	users := &fakeUsers{user: &client.User{ID: "user-9", Email: "ops@supercopa.test", Role: "authenticated"}}

	var capturedUserID string
	handler := NewAuthMiddleware(nil, users, logging.NewNop(), nil).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedUserID = GetUserID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest("GET", "/api/dashboard", nil)
	req.Header.Set("Authorization", "Bearer opaque-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if users.seen != "opaque-token" {
		t.Errorf("lookup token = %q", users.seen)
	}
	if capturedUserID != "user-9" {
		t.Errorf("User ID = %v, want user-9", capturedUserID)
	}

	users.err = errors.New("invalid JWT")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_Handler_Unconfigured(t *testing.T) {
	handler := NewAuthMiddleware(nil, nil, logging.NewNop(), nil).Handler(okHandler())

	req := httptest.NewRequest("GET", "/api/dashboard", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestBearerTokenWebsocketQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/dashboard/live?access_token=abc", nil)
	if _, err := BearerToken(req); err == nil {
		t.Error("query token without upgrade should be rejected")
	}

	req.Header.Set("Upgrade", "websocket")
	token, err := BearerToken(req)
	if err != nil || token != "abc" {
		t.Errorf("BearerToken = %q, %v", token, err)
	}
}
