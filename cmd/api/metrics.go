package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/api/websocket"
	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
)

// Domain metrics flow through the otel pipeline; this endpoint covers
// what a scraper wants straight from the process: build identity, the
// Go runtime collectors, and the state of the live audit feed.

var buildInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "governance",
		Name:      "build_info",
		Help:      "Build and environment identity, always 1",
	},
	[]string{"version", "environment"},
)

func registerFeedMetrics(hub *websocket.Hub) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "governance",
			Subsystem: "audit_stream",
			Name:      "subscribers",
			Help:      "Audit feed subscribers currently attached",
		},
		func() float64 { return float64(hub.ClientCount()) },
	)
	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "governance",
			Subsystem: "audit_stream",
			Name:      "dropped_entries_total",
			Help:      "Entries dropped from the live feed since startup",
		},
		func() float64 { return float64(hub.Dropped()) },
	)
}

// serveMetrics exposes /metrics on its own port until the context ends.
// Port 0 disables the endpoint.
func serveMetrics(ctx context.Context, port int, cfg *config.Config, hub *websocket.Hub, logger *zap.Logger) {
	if port <= 0 {
		return
	}

	buildInfo.WithLabelValues(cfg.Version, cfg.Environment).Set(1)
	registerFeedMetrics(hub)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint up", zap.Int("port", port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics endpoint failed", zap.Error(err))
	}
}
