package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/metrics"
	"github.com/lesleslie/oneiric/pkg/types"
)

// HealthServer serves the plain HTTP surface named in the external
// interfaces list: /health (liveness), /ready (readiness), and /metrics
// (Prometheus scrape). Repurposed from a Raft-leadership health check to
// a lifecycle one: readiness here means "no lifecycle entry is
// activating or failed", not "has a Raft leader".
type HealthServer struct {
	lm  *lifecycle.Manager
	mux *http.ServeMux
}

func NewHealthServer(lm *lifecycle.Manager) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{lm: lm, mux: mux}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves until ctx is cancelled, then shuts the server down
// gracefully with a 5s deadline. It returns nil on a clean shutdown, any
// other error from ListenAndServe otherwise.
func (hs *HealthServer) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// HealthResponse is the /health liveness payload: 200 as long as the
// process can answer at all.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready payload: per-state entry counts plus an
// overall verdict.
type ReadyResponse struct {
	Status    string                          `json:"status"`
	Timestamp time.Time                       `json:"timestamp"`
	Counts    map[types.LifecycleState]int    `json:"counts"`
	Message   string                          `json:"message,omitempty"`
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler reports not-ready whenever any entry is still
// initializing or failed its last probe — the two states that mean a
// caller resolving through this process could get a broken instance.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts := hs.lm.CountsByState()
	ready := true
	message := ""
	if counts[types.StateActivating] > 0 {
		ready = false
		message = "entries still activating"
	}
	if counts[types.StateFailed] > 0 {
		ready = false
		message = "entries in failed state"
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Counts:    counts,
		Message:   message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
