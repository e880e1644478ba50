package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type queueLengths interface {
	GetQueueLength(ctx context.Context, apiKeyHash string) (int, error)
	FindDistinctAPIKeyHashesInQueue(ctx context.Context) ([]string, error)
}

type loopRegistry interface {
	IsRunning(hash string) bool
}

type hashLister interface {
	Hashes() []string
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// queueStatus is one row of the /queues report.
type queueStatus struct {
	APIKeyHash string `json:"api_key_hash"`
	Queued     int    `json:"queued"`
	Running    bool   `json:"running"`
	Configured bool   `json:"configured"`
}

// newOpsRouter serves health, Prometheus metrics and per-hash queue state.
func newOpsRouter(queue queueLengths, loops loopRegistry, keys hashLister, db pinger, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			log.Warn("health check failed", slog.Any("error", err))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error("failed to write health check response", slog.Any("error", err))
		}
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/queues", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		configured := make(map[string]bool)
		for _, h := range keys.Hashes() {
			configured[h] = true
		}
		queued, err := queue.FindDistinctAPIKeyHashesInQueue(ctx)
		if err != nil {
			log.Error("failed to list queued hashes", slog.Any("error", err))
			http.Error(w, "queue unavailable", http.StatusInternalServerError)
			return
		}
		seen := make(map[string]bool)
		hashes := append(keys.Hashes(), queued...)

		out := make([]queueStatus, 0, len(hashes))
		for _, h := range hashes {
			if seen[h] {
				continue
			}
			seen[h] = true
			n, err := queue.GetQueueLength(ctx, h)
			if err != nil {
				log.Error("failed to count queue", slog.String("api_key_hash", h), slog.Any("error", err))
				http.Error(w, "queue unavailable", http.StatusInternalServerError)
				return
			}
			out = append(out, queueStatus{
				APIKeyHash: h,
				Queued:     n,
				Running:    loops.IsRunning(h),
				Configured: configured[h],
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			log.Error("failed to encode queue report", slog.Any("error", err))
		}
	})

	return r
}
