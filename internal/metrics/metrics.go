// Package metrics holds the Prometheus collectors shared by the session
// packages. They live here so tokencache, profile, session and the debug
// server can record without importing each other.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signon_session_transitions_total",
		Help: "Session state transitions by target state",
	}, []string{"to"})

	SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signon_session_state",
		Help: "1 for the current session state, 0 otherwise",
	}, []string{"state"})

	StrategyOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signon_silent_strategy_outcomes_total",
		Help: "Silent login strategy results",
	}, []string{"strategy", "outcome"}) // outcome: success|interaction|transient

	TokenAcquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signon_token_acquisitions_total",
		Help: "Token cache acquisitions by result",
	}, []string{"result", "shared"}) // result: ok|interaction|failed

	ProfileFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signon_profile_fetches_total",
		Help: "User profile fetches by result",
	}, []string{"result"})

	AvatarFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signon_avatar_fetches_total",
		Help: "Avatar fetches by result",
	}, []string{"result"}) // result: found|none|failed

	UpstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signon_upstream_request_duration_seconds",
		Help:    "Latency of outbound requests to the user-info endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"host", "status"})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signon_events_published_total",
		Help: "Session events published on the bus",
	}, []string{"kind"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signon_http_requests_total",
		Help: "Debug server requests",
	}, []string{"method", "path", "status"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SessionTransitions,
		SessionState,
		StrategyOutcomes,
		TokenAcquisitions,
		ProfileFetches,
		AvatarFetches,
		UpstreamLatency,
		EventsPublished,
		HTTPRequests,
	}
}

// Register registers every collector on reg (or the default registerer if
// nil). Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// ObserveUpstream records one outbound request. status 0 means the request
// failed before a response arrived.
func ObserveUpstream(host string, status int, d time.Duration) {
	UpstreamLatency.WithLabelValues(host, strconv.Itoa(status)).Observe(d.Seconds())
}

// Result maps an error to a low-cardinality label.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return "failed"
}

// WithHTTP counts requests served by h under a fixed path label.
func WithHTTP(path string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)
		HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
