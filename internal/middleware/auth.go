package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/auth"
)

type contextKey string

const (
	AuthTypeContextKey contextKey = "auth_type"
	ClaimsContextKey   contextKey = "claims"
)

type AuthType string

const (
	AuthTypeMasterKey AuthType = "master_key"
	AuthTypeJWT       AuthType = "jwt"
	AuthTypeNone      AuthType = "none"
)

type AuthMiddleware struct {
	logger      *zap.Logger
	tokens      *auth.TokenService
	masterKey   string
	requireAuth bool
}

type AuthConfig struct {
	Logger      *zap.Logger
	Tokens      *auth.TokenService
	MasterKey   string
	RequireAuth bool
}

func NewAuthMiddleware(config *AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{
		logger:      config.Logger.Named("auth"),
		tokens:      config.Tokens,
		masterKey:   config.MasterKey,
		requireAuth: config.RequireAuth,
	}
}

// Authenticate accepts the master key (Bearer or X-API-Key) or an HS256
// service token. Without RequireAuth, requests carrying no credentials pass
// as AuthTypeNone; invalid credentials are always rejected.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for health check and metrics
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		credentials := extractCredentials(r)
		if credentials == "" {
			if m.requireAuth {
				m.sendError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			ctx := context.WithValue(r.Context(), AuthTypeContextKey, AuthTypeNone)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if auth.MatchKey(m.masterKey, credentials) {
			ctx := context.WithValue(r.Context(), AuthTypeContextKey, AuthTypeMasterKey)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if m.tokens == nil {
			m.sendError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		claims, err := m.tokens.Validate(credentials)
		if err != nil {
			m.logger.Debug("Token rejected", zap.Error(err))
			m.sendError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), AuthTypeContextKey, AuthTypeJWT)
		ctx = context.WithValue(ctx, ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin guards state-changing endpoints. The master key and admin
// tokens pass; when auth is optional, anonymous requests pass too.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch GetAuthType(r.Context()) {
		case AuthTypeMasterKey:
			next.ServeHTTP(w, r)
			return
		case AuthTypeJWT:
			if claims, ok := GetClaims(r.Context()); ok && claims.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
		case AuthTypeNone:
			if !m.requireAuth {
				next.ServeHTTP(w, r)
				return
			}
		}
		m.sendError(w, http.StatusForbidden, "Admin access required")
	})
}

func extractCredentials(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.Header.Get("X-API-Key")
}

func (m *AuthMiddleware) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "authentication_error",
			"code":    statusCode,
		},
	})
}

func GetAuthType(ctx context.Context) AuthType {
	authType, ok := ctx.Value(AuthTypeContextKey).(AuthType)
	if !ok {
		return AuthTypeNone
	}
	return authType
}

func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*auth.Claims)
	return claims, ok
}
