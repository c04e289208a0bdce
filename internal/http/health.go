package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/signon/pkg/authsdk"
	"github.com/aussiebroadwan/signon/pkg/httpx"
)

// ReadyzResponse extends the liveness body with per-dependency checks.
type ReadyzResponse struct {
	authsdk.HealthResponse
	Checks map[string]string `json:"checks"`
}

// LivezHandler always answers 200 while the process runs.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		}
		httpx.WriteJSON(w, http.StatusOK, response)
	}
}

// ReadyzHandler answers 200 once the startup sequence has resolved and
// every check pings. Otherwise it answers 503 with the failing checks.
func ReadyzHandler(startTime time.Time, version string, sess Session, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]string, len(checks)+1)
		overallStatus := "ok"
		statusCode := http.StatusOK

		snap := sess.Snapshot()
		results["session"] = snap.State.String()
		if !snap.State.Resolved() {
			overallStatus = "starting"
			statusCode = http.StatusServiceUnavailable
		}

		for name, check := range checks {
			if err := check.Ping(r.Context()); err != nil {
				results[name] = "error: " + err.Error()
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		httpx.WriteJSON(w, statusCode, ReadyzResponse{
			HealthResponse: authsdk.HealthResponse{
				Status:  overallStatus,
				Uptime:  time.Since(startTime).String(),
				Version: version,
			},
			Checks: results,
		})
	}
}
