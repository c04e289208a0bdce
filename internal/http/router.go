// Package http serves the local debug surface: health probes, the session
// view, manual login/retry/logout and Prometheus metrics. It is meant to be
// bound to loopback.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/signon/internal/metrics"
	"github.com/aussiebroadwan/signon/internal/profile"
	"github.com/aussiebroadwan/signon/internal/session"
	"github.com/aussiebroadwan/signon/pkg/httpx"
	"github.com/aussiebroadwan/signon/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session is the part of the orchestrator the debug surface drives.
// *session.Orchestrator satisfies it.
type Session interface {
	Snapshot() session.Snapshot
	InteractivePending() bool
	Login(ctx context.Context) (session.Snapshot, error)
	Retry(ctx context.Context) (session.Snapshot, error)
	Logout(ctx context.Context) (session.Snapshot, error)
}

// Profiles reads the cached profile without I/O. *profile.Cache satisfies
// it.
type Profiles interface {
	Current() *profile.UserProfile
}

// Pinger is a readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	Session  Session
	Profiles Profiles

	// Checks are pinged by /readyz, keyed by name.
	Checks map[string]Pinger
}

func NewRouter(sess Session, profiles Profiles, buildVersion string, logger *slog.Logger) *Router {
	logger = slogx.OrDiscard(logger)
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		Session:      sess,
		Profiles:     profiles,
		Checks:       make(map[string]Pinger),
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSystem()
	r.registerSession()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) handle(pattern, path string, h http.Handler, mw ...httpx.Middleware) {
	r.Mux.Handle(pattern, metrics.WithHTTP(path, httpx.Chain(h, mw...)))
}

func (r *Router) registerSystem() {
	r.handle("GET /livez", "/livez", LivezHandler(r.startTime, r.buildVersion))
	r.handle("GET /readyz", "/readyz", ReadyzHandler(r.startTime, r.buildVersion, r.Session, r.Checks))
	r.handle("GET /metrics", "/metrics", promhttp.Handler())
}

func (r *Router) registerSession() {
	h := &SessionHandler{Session: r.Session, Profiles: r.Profiles}

	read := httpx.RateLimitMiddleware(httpx.ReadLimit, httpx.IPKeyExtractor)
	r.handle("GET /v1/session", "/v1/session", http.HandlerFunc(h.Get), read)
	r.handle("GET /v1/session/avatar", "/v1/session/avatar", http.HandlerFunc(h.Avatar), read)

	// Every action reaches the identity provider, so they share one bucket
	// per route regardless of caller.
	action := httpx.RateLimitMiddleware(httpx.ActionLimit, httpx.RouteKeyExtractor)
	r.handle("POST /v1/session/login", "/v1/session/login", h.action(h.Session.Login), action)
	r.handle("POST /v1/session/retry", "/v1/session/retry", h.action(h.Session.Retry), action)
	r.handle("POST /v1/session/logout", "/v1/session/logout", h.action(h.Session.Logout), action)
}
