// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"crypto/subtle"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/tinychat/internal/status"
)

// ============================================================================
// Auth Configuration and Middleware
// ============================================================================

// AuthConfig contains authentication configuration options.
type AuthConfig struct {
	// Enabled indicates whether authentication is required.
	Enabled bool

	// BearerToken is the expected bearer token for API authentication.
	// If empty and Enabled is true, all requests will be rejected.
	BearerToken string
}

// DefaultAuthConfig returns a default AuthConfig with authentication disabled.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{}
}

// TokenAuthConfig returns an AuthConfig requiring token, or a disabled one
// when token is empty.
func TokenAuthConfig(token string) *AuthConfig {
	return &AuthConfig{Enabled: token != "", BearerToken: token}
}

// AuthMiddleware returns HTTP middleware that requires a bearer token.
//
// The token is read from the Authorization header, or from the token query
// parameter for clients such as EventSource that cannot set headers.
// Returns 401 Unauthorized if authentication fails.
func AuthMiddleware(config *AuthConfig, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config == nil || !config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			token := r.URL.Query().Get("token")
			if h := r.Header.Get("Authorization"); h != "" {
				if !strings.HasPrefix(h, "Bearer ") {
					logger.Warn().Str("ip", GetClientIP(r)).Str("reason", "invalid_auth_format").Msg("auth denied")
					writeUnauthorized(w)
					return
				}
				token = strings.TrimPrefix(h, "Bearer ")
			}

			if !ValidateBearerToken(token, config.BearerToken) {
				logger.Warn().Str("ip", GetClientIP(r)).Str("reason", "invalid_token").Msg("auth denied")
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(w, http.StatusUnauthorized, status.Result[any]{Code: status.C500, Message: "unauthorized"})
}

// ValidateBearerToken compares tokens using constant-time comparison.
// Returns false if either token is empty.
func ValidateBearerToken(token, expected string) bool {
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// ============================================================================
// Rate Limiter
// ============================================================================

// visitorTTL is how long an idle client keeps its limiter.
const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per client IP.
type RateLimiter struct {
	rate  rate.Limit
	burst int

	mu          sync.Mutex
	visitors    map[string]*visitor
	lastCleanup time.Time
}

// NewRateLimiter creates a limiter allowing perSecond sustained requests
// and bursts of burst per IP.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:        rate.Limit(perSecond),
		burst:       burst,
		visitors:    make(map[string]*visitor),
		lastCleanup: time.Now(),
	}
}

// DefaultRateLimiter returns a RateLimiter with default settings: 20 requests
// per second with bursts of 60.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(20, 60)
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.get(ip).Allow()
}

func (rl *RateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCleanup) > visitorTTL {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(rl.visitors, k)
			}
		}
		rl.lastCleanup = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// RateLimitMiddleware returns HTTP middleware that enforces rate limiting.
// Returns 429 Too Many Requests if the rate limit is exceeded.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow(GetClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, status.Result[any]{Code: status.C500, Message: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Request Logging Middleware
// ============================================================================

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code before writing it.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingMiddleware returns HTTP middleware that logs every request.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			ev := logger.Debug()
			if wrapped.statusCode >= http.StatusInternalServerError {
				ev = logger.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// ============================================================================
// Security Headers Middleware
// ============================================================================

// SecurityHeadersMiddleware returns HTTP middleware that adds security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Recovery Middleware
// ============================================================================

// RecoveryMiddleware returns HTTP middleware that recovers from panics and
// answers 500 with a C500 envelope.
func RecoveryMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error().
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Interface("panic", err).
						Str("stack", string(debug.Stack())).
						Msg("panic recovered")
					writeJSON(w, http.StatusInternalServerError, status.Result[any]{Code: status.C500, Message: status.C500.Message()})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// Middleware Chain Helper
// ============================================================================

// Chain composes multiple middleware functions into a single middleware.
// Middlewares are applied in the order provided.
//
// Example:
//
//	handler := Chain(RecoveryMiddleware(l), LoggingMiddleware(l))(mux)
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// GetClientIP returns the IP of the direct peer. Forwarded headers are
// ignored since the server only listens locally.
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
