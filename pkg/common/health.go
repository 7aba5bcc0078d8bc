package common

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// HealthServer exposes liveness and readiness endpoints for orchestrators.
// Readiness flips once startup wiring (migrations, stores, sources) completes.
type HealthServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewHealthServer creates a health server listening on the default port.
// The provided ready flag is shared with the caller, which marks it once
// the service is able to accept work.
func NewHealthServer(ready *atomic.Bool) *HealthServer {
	hs := &HealthServer{ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", hs.health)
	mux.HandleFunc("/v1/readiness", hs.readiness)

	hs.server = &http.Server{Addr: ":8080", Handler: mux}

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The caller owns shutdown; startup failures surface on the next probe.
			return
		}
	}()

	return hs
}

// Server returns the underlying HTTP server for shutdown control.
func (hs *HealthServer) Server() *http.Server { return hs.server }

func (hs *HealthServer) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (hs *HealthServer) readiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if hs.ready == nil || !hs.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
