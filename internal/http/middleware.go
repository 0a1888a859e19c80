package http

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"semaphore/auth-core/internal/apperrors"
)

const (
	headerTraceID   = "X-Trace-ID"
	headerRequestID = "X-Request-ID"
	maxTraceIDLen   = 128
)

type traceKey struct{}

type subjectKey struct{}

// traceMiddleware adopts the caller's trace id or mints one, and echoes it
// on both headers.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.TrimSpace(r.Header.Get(headerTraceID))
		if traceID == "" {
			traceID = strings.TrimSpace(r.Header.Get(headerRequestID))
		}
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = uuid.NewString()
		}
		w.Header().Set(headerTraceID, traceID)
		w.Header().Set(headerRequestID, traceID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceKey{}, traceID)))
	})
}

func traceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(traceKey{}).(string)
	return traceID
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(r.Method, route, status, elapsed)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"trace_id", traceIDFromContext(r.Context()),
			"ip", clientIP(r),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("panic recovered", "panic", rec, "stack", string(debug.Stack()), "trace_id", traceIDFromContext(r.Context()))
			s.writeAppError(w, r, apperrors.Internal("", nil))
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the fixed-window budget per client IP. It fails open when
// Redis is unreachable.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || !s.cfg.RateLimitEnabled {
			next.ServeHTTP(w, r)
			return
		}
		decision, err := s.limiter.Allow(r.Context(), "ip:"+clientIP(r))
		if err != nil {
			s.logger.Warn("rate limiter unavailable", "error", err, "trace_id", traceIDFromContext(r.Context()))
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			s.metrics.RateLimited()
			s.logger.Warn("rate limit exceeded", "ip", clientIP(r), "trace_id", traceIDFromContext(r.Context()))
			writeRateLimited(w, r, decision.RetryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := s.codec.SubjectIfAccess(bearerToken(r.Header.Get("Authorization")))
		if !ok {
			s.writeAppError(w, r, apperrors.Unauthorized("Invalid or expired token"))
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey{}, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func subjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// realIP lets forwarding headers rewrite RemoteAddr only when the peer is a
// trusted proxy. Anyone else could rotate X-Forwarded-For to dodge the
// per-IP rate limit.
func (s *Server) realIP(next http.Handler) http.Handler {
	forwarded := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.trustedPeer(r.RemoteAddr) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) trustedPeer(remoteAddr string) bool {
	if len(s.proxies) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range s.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP reads RemoteAddr, which realIP has already rewritten from the
// forwarding headers when the peer is a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
