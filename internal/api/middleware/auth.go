package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Rrens/flowbot/internal/api/response"
	"github.com/Rrens/flowbot/internal/repository/redis"
	"github.com/Rrens/flowbot/internal/security"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	ClaimsKey   contextKey = "claims"
	TenantIDKey contextKey = "tenantID"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	jwtManager *security.JWTManager
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtManager *security.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager}
}

// Authenticate validates the bearer token and stores its claims
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.Unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.Unauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.jwtManager.ValidateAccessToken(parts[1])
		if err != nil {
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims gets the operator claims from context
func GetClaims(ctx context.Context) (*security.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*security.Claims)
	return claims, ok
}

// GetTenantID gets the tenant id resolved from the URL
func GetTenantID(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(string)
	return tenantID, ok && tenantID != ""
}

// TenantContext extracts the tenant id from the URL
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
		if tenantID == "" {
			response.BadRequest(w, "missing tenant ID")
			return
		}

		ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantScope rejects operators whose token does not cover the URL tenant.
// It runs after Authenticate and TenantContext.
func TenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok {
			response.Unauthorized(w, "unauthorized")
			return
		}
		tenantID, ok := GetTenantID(r.Context())
		if !ok || !claims.CanAccess(tenantID) {
			response.Forbidden(w, "access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Limiter counts requests per key
type Limiter interface {
	Allow(ctx context.Context, key string) (redis.Decision, error)
}

// RateLimitMiddleware limits operator requests per user
type RateLimitMiddleware struct {
	limiter Limiter
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(limiter Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

// Limit applies rate limiting based on the operator id
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok {
			response.Unauthorized(w, "unauthorized")
			return
		}

		if !Enforce(w, r, m.limiter, "operator:"+claims.UserID.String()) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Enforce checks key against limiter, writes the rate headers and a 429 when
// the key is over its limit. Limiter failures let the request through.
func Enforce(w http.ResponseWriter, r *http.Request, limiter Limiter, key string) bool {
	if limiter == nil {
		return true
	}
	d, err := limiter.Allow(r.Context(), key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Rate limiter unavailable")
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", d.ResetAt.UTC().Format("2006-01-02T15:04:05Z"))

	if !d.Allowed {
		response.TooManyRequests(w, "rate limit exceeded")
		return false
	}
	return true
}
