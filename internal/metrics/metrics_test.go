package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/signon/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	require.NoError(t, metrics.Register(reg))
}

func TestWithHTTPCountsStatus(t *testing.T) {
	t.Parallel()

	h := metrics.WithHTTP("/test/teapot", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("GET", "/test/teapot", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/whatever", nil))
	after := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("GET", "/test/teapot", "418"))
	require.Equal(t, before+1, after)
}

func TestObserveUpstream(t *testing.T) {
	t.Parallel()

	metrics.ObserveUpstream("graph.test", 200, 10*time.Millisecond)
	require.Equal(t, 1, testutil.CollectAndCount(metrics.UpstreamLatency.WithLabelValues("graph.test", "200").(prometheus.Histogram)))
	require.Equal(t, "ok", metrics.Result(nil))
}
