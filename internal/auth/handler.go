// Package auth exposes the dashboard sign-in endpoints backed by Supabase Auth.
package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/supercopa/totem/internal/errors"
	"github.com/supercopa/totem/internal/httputil"
	"github.com/supercopa/totem/internal/logging"
	"github.com/supercopa/totem/internal/middleware"
	"github.com/supercopa/totem/supabase/client"
)

// Provider is the subset of the Supabase auth client the handlers use.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*client.AuthResponse, error)
	GetUser(ctx context.Context, accessToken string) (*client.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the tokens the dashboard sends back as bearer.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int    `json:"expiresIn"`
	User         User   `json:"user"`
}

// User is the signed-in dashboard operator.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

const invalidCredentials = "Email ou senha inválidos"

type Handler struct {
	provider Provider
	logger   *logging.Logger
}

// NewHandler returns the auth handlers. A nil provider makes every endpoint
// answer 503.
func NewHandler(provider Provider, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{provider: provider, logger: logger}
}

// Register mounts the routes under r. protect guards the endpoints that
// need a signed-in operator.
func (h *Handler) Register(r *mux.Router, protect mux.MiddlewareFunc) {
	r.HandleFunc("/api/auth/login", h.login).Methods(http.MethodPost)

	private := r.PathPrefix("/api/auth").Subrouter()
	private.Use(protect)
	private.HandleFunc("/me", h.me).Methods(http.MethodGet)
	private.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		httputil.WriteServiceError(w, r, errors.Unavailable("Dashboard authentication is not configured", nil))
		return
	}

	var req LoginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		httputil.WriteServiceError(w, r, errors.BadRequest("email and password are required"))
		return
	}

	resp, err := h.provider.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.LogSecurityEvent(r.Context(), "login_failed", map[string]interface{}{
			"email": req.Email,
			"error": err.Error(),
		})
		httputil.WriteServiceError(w, r, signInError(err))
		return
	}

	out := LoginResponse{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}
	if resp.User != nil {
		out.User = User{ID: resp.User.ID, Email: resp.User.Email, Role: resp.User.Role}
	}
	h.logger.LogSecurityEvent(r.Context(), "login", map[string]interface{}{"user_id": out.User.ID})
	httputil.WriteJSON(w, http.StatusOK, out)
}

// signInError maps Supabase rejections of the credentials to 401 and
// anything else to 503.
func signInError(err error) error {
	var apiErr *client.APIError
	if stderrors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return errors.Unauthorized(invalidCredentials)
	}
	return errors.Unavailable("Authentication service unavailable", err)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	httputil.WriteJSON(w, http.StatusOK, User{
		ID:    middleware.GetUserID(ctx),
		Email: middleware.GetUserEmail(ctx),
		Role:  middleware.GetUserRole(ctx),
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.BearerToken(r)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if h.provider != nil {
		if err := h.provider.SignOut(r.Context(), token); err != nil {
			// The token stays valid until it expires; the dashboard drops it anyway.
			h.logger.WithContext(r.Context()).WithError(err).Warn("sign out failed")
		}
	}
	h.logger.LogSecurityEvent(r.Context(), "logout", map[string]interface{}{"user_id": middleware.GetUserID(r.Context())})
	w.WriteHeader(http.StatusNoContent)
}
