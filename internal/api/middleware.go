package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/unklstewy/windaloft/internal/auth"
	"github.com/unklstewy/windaloft/internal/logging"
)

// requestLogger carries chi's request id into the logging context and logs
// one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		reqID := middleware.GetReqID(ctx)
		if reqID == "" {
			ctx, reqID = logging.EnsureRequestID(ctx)
		} else {
			ctx = logging.ContextWithRequestID(ctx, reqID)
		}
		ctx = logging.ContextWithLogger(ctx, s.log)
		w.Header().Set(middleware.RequestIDHeader, reqID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []logging.Field{
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("duration", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			s.log.Warn(ctx, "request failed", fields...)
			return
		}
		s.log.Debug(ctx, "request served", fields...)
	})
}

// rateLimit rejects requests above the configured server-wide rate.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.limiter.Reserve()
		if !res.OK() {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole rejects requests without a valid bearer token carrying at
// least role.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.AuthDisabled {
				next.ServeHTTP(w, r)
				return
			}
			if s.deps.Auth == nil {
				respondError(w, http.StatusUnauthorized, "authentication not configured")
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				respondError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				respondError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims, err := s.deps.Auth.ValidateToken(token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if !auth.HasRole(claims.Role, role) {
				respondError(w, http.StatusForbidden, "insufficient role")
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			logging.FromContext(ctx, s.log).Debug(ctx, "client authenticated",
				logging.String("subject", claims.Subject),
				logging.String("role", claims.Role),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
