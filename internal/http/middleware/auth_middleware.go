package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/millatvt/millat-backend/internal/apperr"
	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/http/response"
	"github.com/millatvt/millat-backend/internal/observability"
	"github.com/millatvt/millat-backend/internal/security"
)

type contextKey string

const authContextKey contextKey = "auth"

// AuthContext is the identity resolved from the access token of a request.
type AuthContext struct {
	Principal domain.Principal
	TokenID   string
	ExpiresAt time.Time
}

type PrincipalChecker interface {
	IsActive(ctx context.Context, p domain.Principal) (bool, error)
}

// AuthMiddleware accepts the accessToken cookie or a bearer header. Purpose
// scoped tokens are rejected. When checker is set, banned principals are
// refused even while their access token is still valid.
func AuthMiddleware(jwtMgr *security.JWTManager, checker PrincipalChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := accessTokenFromRequest(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				unauthorized(w, r, "Authentication required")
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", source)
				unauthorized(w, r, "Invalid or expired token")
				return
			}
			if claims.Purpose != "" {
				observability.RecordAccessTokenValidation(r.Context(), "wrong_purpose", source)
				unauthorized(w, r, "Invalid token type")
				return
			}
			p, err := claims.Principal()
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", source)
				unauthorized(w, r, "Invalid or expired token")
				return
			}
			if checker != nil {
				active, err := checker.IsActive(r.Context(), p)
				if err != nil {
					response.FromError(w, r, apperr.Internal(err, "check principal status"), false)
					return
				}
				if !active {
					observability.RecordAccessTokenValidation(r.Context(), "inactive", source)
					response.Error(w, r, http.StatusForbidden, string(apperr.KindForbidden), "Account is banned or deactivated", nil)
					return
				}
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid", source)
			auth := AuthContext{Principal: p, TokenID: claims.ID}
			if claims.ExpiresAt != nil {
				auth.ExpiresAt = claims.ExpiresAt.Time
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), auth)))
		})
	}
}

func accessTokenFromRequest(r *http.Request) (string, string) {
	if raw := security.GetCookie(r, security.AccessTokenCookie); raw != "" {
		return raw, "cookie"
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:]), "bearer"
	}
	return "", "none"
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	response.Error(w, r, http.StatusUnauthorized, string(apperr.KindAuthentication), message, nil)
}

func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	a, ok := ctx.Value(authContextKey).(AuthContext)
	return a, ok
}

// RequireKind lets through only principals of the listed kinds.
func RequireKind(kinds ...domain.PrincipalKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := AuthFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "Authentication required")
				return
			}
			for _, k := range kinds {
				if auth.Principal.Kind == k {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, r, http.StatusForbidden, string(apperr.KindForbidden), "Insufficient permissions", nil)
		})
	}
}
