package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supercopa/totem/internal/logging"
	"github.com/supercopa/totem/internal/middleware"
	"github.com/supercopa/totem/supabase/client"
)

var secret = []byte("dashboard-jwt-secret-with-at-least-32-chars")

type fakeProvider struct {
	signInErr  error
	signOutErr error
	signedOut  string
}

func (f *fakeProvider) SignIn(_ context.Context, email, password string) (*client.AuthResponse, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return &client.AuthResponse{
		AccessToken:  "access-" + email,
		RefreshToken: "refresh",
		ExpiresIn:    3600,
		User:         &client.User{ID: "user-1", Email: email, Role: "authenticated"},
	}, nil
}

func (f *fakeProvider) GetUser(_ context.Context, token string) (*client.User, error) {
	return &client.User{ID: "user-1"}, nil
}

func (f *fakeProvider) SignOut(_ context.Context, token string) error {
	f.signedOut = token
	return f.signOutErr
}

func newRouter(p Provider) *mux.Router {
	r := mux.NewRouter()
	authMW := middleware.NewAuthMiddleware(secret, nil, logging.NewNop(), nil)
	NewHandler(p, logging.NewNop()).Register(r, authMW.Handler)
	return r
}

func signedToken(t *testing.T) string {
	t.Helper()
	claims := &middleware.Claims{
		Email: "ops@supercopa.test",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestLogin(t *testing.T) {
	r := newRouter(&fakeProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":" ops@supercopa.test ","password":"pw"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "access-ops@supercopa.test", out.AccessToken)
	assert.Equal(t, "user-1", out.User.ID)
}

func TestLoginRejected(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing password", `{"email":"a@b.c"}`, nil, http.StatusBadRequest},
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"bad credentials", `{"email":"a@b.c","password":"x"}`, &client.APIError{StatusCode: 400, Message: "Invalid login credentials"}, http.StatusUnauthorized},
		{"auth down", `{"email":"a@b.c","password":"x"}`, errors.New("dial tcp: refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(&fakeProvider{signInErr: tt.err})
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestLoginWithoutProvider(t *testing.T) {
	r := newRouter(nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMe(t *testing.T) {
	r := newRouter(&fakeProvider{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var user User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, User{ID: "user-1", Email: "ops@supercopa.test", Role: "authenticated"}, user)
}

func TestLogout(t *testing.T) {
	p := &fakeProvider{signOutErr: errors.New("already revoked")}
	r := newRouter(p)
	token := signedToken(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, token, p.signedOut)
}
