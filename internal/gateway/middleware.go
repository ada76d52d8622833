package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bioplatform/access-gateway/pkg/monitoring"
	"github.com/bioplatform/access-gateway/pkg/types"

	"github.com/bioplatform/access-gateway/internal/token"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// ClaimsFromContext returns the verified token claims for the request, if
// the authentication middleware ran.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*token.Claims)
	return claims, ok
}

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs every request and feeds the HTTP metrics.
func (s *Service) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		s.logger.HTTPRequest(r.Method, r.URL.Path, clientIP(r), recorder.status, duration.Milliseconds())
		monitoring.RecordHTTPRequest(r.Method, r.URL.Path, recorder.status, duration)
	})
}

// securityHeadersMiddleware sets the response headers every gateway reply
// carries.
func (s *Service) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// authMiddleware verifies the bearer token and stores its claims in the
// request context. Failures count against the client's throttle budget;
// nothing is written to the audit trail because no authenticated subject
// exists yet.
func (s *Service) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		exceeded, err := s.throttle.Exceeded(r.Context(), "token:"+ip)
		if err != nil {
			s.logger.WithError(err).Warn("Throttle lookup failed")
		}
		if exceeded {
			writeError(w, &types.GatewayError{
				Kind:    types.KindRateLimited,
				Code:    types.ErrCodeTooManyAttempts,
				Message: "Too many failed authentication attempts",
			})
			return
		}

		tokenString, ok := bearerToken(r)
		if !ok {
			s.bumpThrottle(r.Context(), "token:"+ip)
			writeError(w, types.NewUnauthenticatedError(types.ErrCodeInvalidSignature, "Missing bearer token"))
			return
		}

		claims, err := s.tokens.VerifyAccess(r.Context(), tokenString)
		if err != nil {
			s.bumpThrottle(r.Context(), "token:"+ip)
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) bumpThrottle(ctx context.Context, key string) {
	if _, err := s.throttle.Bump(ctx, key); err != nil {
		s.logger.WithError(err).Warn("Throttle bump failed")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// clientIP extracts the originating client address, honoring the first hop
// of X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
