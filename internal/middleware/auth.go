// Package middleware provides HTTP middleware for the totem API
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/supercopa/totem/internal/errors"
	internalhttputil "github.com/supercopa/totem/internal/httputil"
	"github.com/supercopa/totem/internal/logging"
	"github.com/supercopa/totem/supabase/client"
)

type emailKey struct{}

// Claims are the Supabase access token claims the dashboard relies on.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserLookup resolves an access token against the auth server.
type UserLookup interface {
	GetUser(ctx context.Context, accessToken string) (*client.User, error)
}

// AuthMiddleware authenticates dashboard requests. With a JWT secret tokens
// are verified locally (HS256); otherwise each token is checked with users.
type AuthMiddleware struct {
	secret    []byte
	users     UserLookup
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(secret []byte, users UserLookup, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		secret:    secret,
		users:     users,
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := BearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		claims, err := m.validateToken(r.Context(), tokenString)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.Subject)
		if claims.Role != "" {
			ctx = context.WithValue(ctx, logging.RoleKey, claims.Role)
		}
		if claims.Email != "" {
			ctx = context.WithValue(ctx, emailKey{}, claims.Email)
		}

		m.logger.WithContext(ctx).Debug("Authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
// Browsers cannot set headers on websocket upgrades, so the access_token
// query parameter is accepted for those.
func BearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" && isWebsocketUpgrade(r) {
			return token, nil
		}
		return "", errors.Unauthorized("Missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.Unauthorized("Invalid Authorization header format")
	}
	return parts[1], nil
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (m *AuthMiddleware) validateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if len(m.secret) > 0 {
		return m.parseLocal(tokenString)
	}
	if m.users == nil {
		return nil, errors.Unavailable("Dashboard authentication is not configured", nil)
	}

	user, err := m.users.GetUser(ctx, tokenString)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	return &Claims{
		Email:            user.Email,
		Role:             user.Role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
	}, nil
}

func (m *AuthMiddleware) parseLocal(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.InvalidToken(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims")
	}
	if claims.Subject == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("Authentication failed")
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

// GetUserEmail extracts the authenticated email from context
func GetUserEmail(ctx context.Context) string {
	v, _ := ctx.Value(emailKey{}).(string)
	return v
}
