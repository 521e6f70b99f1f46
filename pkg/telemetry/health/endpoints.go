package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"golang.org/x/time/rate"

	"github.com/lfariabr/excel-pilot-sub000/pkg/breaker"
)

// VersionInfo contains build and version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// BreakerStatus is the JSON form of a breaker snapshot.
type BreakerStatus struct {
	State        string     `json:"state"`
	FailureCount int        `json:"failure_count"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
}

// NewBreakerStatus converts a snapshot for serialization.
func NewBreakerStatus(snap breaker.Snapshot) BreakerStatus {
	status := BreakerStatus{
		State:        snap.State.String(),
		FailureCount: snap.FailureCount,
	}
	if !snap.LastFailureTime.IsZero() {
		t := snap.LastFailureTime
		status.LastFailure = &t
	}
	return status
}

// LivenessHandler serves the liveness probe.
//
// Example response:
//
//	{"status": "ok", "timestamp": "2026-10-01T10:30:00Z"}
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	}
}

// ReadinessHandler serves the readiness probe.
//
// Returns:
//   - 200 OK: Store reachable and breaker not open
//   - 503 Service Unavailable: Any check failed
//
// Example response (degraded):
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "store": {"status": "ok", "duration_ms": 0.4},
//	        "breaker": {"status": "unhealthy", "message": "circuit breaker open after 5 failures"}
//	    },
//	    "timestamp": "2026-10-01T10:30:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}

		status := c.CheckReadiness(r.Context())
		code := http.StatusOK
		if status.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, r, code, status)
	}
}

// BreakerHandler serves the breaker state for operators.
//
// Example response:
//
//	{"state": "open", "failure_count": 6, "last_failure": "2026-10-01T10:29:58Z"}
func BreakerHandler(b *breaker.Breaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, NewBreakerStatus(b.Snapshot()))
	}
}

// VersionHandler serves build information.
func VersionHandler(version, commit, buildTime string) http.HandlerFunc {
	info := VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		writeJSON(w, r, http.StatusOK, info)
	}
}

// Register adds /health, /ready and /version to mux.
func Register(mux *http.ServeMux, checker *Checker, version, commit, buildTime string) {
	mux.HandleFunc("/health", checker.LivenessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/version", VersionHandler(version, commit, buildTime))
}

// RateLimitedHandler rejects requests beyond rps with 429. Probes are cheap,
// but readiness touches the store, so it should not be hammered.
func RateLimitedHandler(handler http.HandlerFunc, rps float64, burst int) http.HandlerFunc {
	if rps <= 0 {
		return handler
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(v)
	}
}
