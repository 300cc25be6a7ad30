/**
 * @description
 * Authentication, authorization and rate limiting middleware for the rewards
 * API.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5 (through app.TokenIssuer): session tokens.
 * - app.RateLimiter: Redis-backed fixed-window limiter with in-memory fallback.
 */
package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/finboost/rewards-service/internal/app"
	"github.com/sirupsen/logrus"
)

type contextKey string

const claimsContextKey = contextKey("claims")

// TokenParser verifies session tokens.
type TokenParser interface {
	Parse(raw string) (*app.AccessClaims, error)
}

// AuthMiddleware requires a valid bearer token and stores its claims in the
// request context.
func AuthMiddleware(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminMiddleware admits server-to-server calls carrying the internal API key
// and sessions whose token has the admin role.
func AdminMiddleware(tokens TokenParser, internalKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if provided := strings.TrimSpace(r.Header.Get("X-Internal-API-Key")); provided != "" {
				if internalKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(internalKey)) != 1 {
					writeError(w, http.StatusUnauthorized, "Unauthorized")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			if claims.Role != app.RoleAdmin {
				writeError(w, http.StatusForbidden, "Admin access required")
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware limits requests per client IP within scope. A limiter
// error lets the request through.
func RateLimitMiddleware(limiter app.RateLimiter, scope string, perMinute int, log logrus.FieldLogger) func(http.Handler) http.Handler {
	logger := log.WithFields(logrus.Fields{"component": "rate_limit", "scope": scope})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || perMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := getClientIP(r)
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, clientIP, perMinute, time.Minute)
			if err != nil {
				logger.WithError(err).Warn("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			remaining := perMinute - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if count > perMinute {
				logger.WithField("client_ip", clientIP).Info("rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext returns the session claims set by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (*app.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*app.AccessClaims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
