package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"semaphore/auth-core/internal/auth"
	"semaphore/auth-core/internal/config"
	"semaphore/auth-core/internal/identity"
	"semaphore/auth-core/internal/metrics"
	"semaphore/auth-core/internal/ratelimit"
)

const apiPrefix = "/api/v1/auth"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Authenticator *identity.Authenticator
	Accounts      *identity.Accounts
	Codec         *auth.Codec
	Store         Pinger
	// Limiter is optional; nil disables rate limiting.
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Server struct {
	cfg      config.Config
	auth     *identity.Authenticator
	accounts *identity.Accounts
	codec    *auth.Codec
	store    Pinger
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	proxies  []netip.Prefix
}

func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		logger.Warn("ignoring trusted proxies", "error", err)
		proxies = nil
	}
	return &Server{
		cfg:      cfg,
		auth:     deps.Authenticator,
		accounts: deps.Accounts,
		codec:    deps.Codec,
		store:    deps.Store,
		limiter:  deps.Limiter,
		metrics:  m,
		logger:   logger,
		proxies:  proxies,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.realIP)
	r.Use(traceMiddleware)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	r.Route(apiPrefix, func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me", s.handleGetMe)
			r.Patch("/me", s.handleUpdateMe)
			r.Delete("/me", s.handleDeleteMe)
			r.Post("/change-password", s.handleChangePassword)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeAppError(w, r, notFoundRoute())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeAppError(w, r, methodNotAllowed())
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err, "trace_id", traceIDFromContext(r.Context()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set, ok := s.codec.JWKS()
	if !ok {
		s.writeAppError(w, r, notFoundRoute())
		return
	}
	writeJSON(w, http.StatusOK, set)
}
