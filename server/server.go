// Package server exposes the operational HTTP surface: liveness, readiness,
// a JSON status snapshot, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/ghost-bot/link"
	"github.com/onnwee/ghost-bot/ratelimit"
	"github.com/onnwee/ghost-bot/state"
	"github.com/onnwee/ghost-bot/telemetry"
)

// Pinger is the slice of the storage backend the readiness check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries the handles the server reports on. Degraded is optional; only
// the tiered backend has a notion of fallback.
type Deps struct {
	Store    *state.Store
	Limiter  *ratelimit.Limiter
	Broker   *link.Broker
	Storage  Pinger
	Degraded func() bool
	Version  string
}

// New builds the HTTP server on addr.
func New(addr string, deps Deps) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Storage.Ping(ctx); err != nil {
			http.Error(w, "storage not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		status := struct {
			Version         string             `json:"version"`
			TrackedUsers    int                `json:"tracked_users"`
			PendingLinks    int                `json:"pending_links"`
			RateLimits      ratelimit.Snapshot `json:"rate_limits"`
			StorageDegraded bool               `json:"storage_degraded"`
		}{
			Version:      deps.Version,
			TrackedUsers: deps.Store.Count(),
			PendingLinks: deps.Broker.PendingCount(),
			RateLimits:   deps.Limiter.Snapshot(),
		}
		if deps.Degraded != nil {
			status.StorageDegraded = deps.Degraded()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Error("failed to encode status", slog.Any("err", err))
		}
	})

	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           withCorrelation(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// withCorrelation tags each request with a correlation id, honoring an
// incoming X-Correlation-ID header.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, r.WithContext(telemetry.WithCorrelation(r.Context(), id)))
	})
}
