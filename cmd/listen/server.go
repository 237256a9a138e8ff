package main

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/listen-stream/internal/listen"
	"github.com/lexiqai/listen-stream/internal/observability"
)

func newMetricsMux(ready observability.HealthCheckFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", observability.HealthCheckHandler(version))
	mux.HandleFunc("/ready", observability.ReadinessHandler(version, map[string]observability.HealthCheckFunc{
		"stream": ready,
	}))
	return mux
}

// startMetricsServer serves /metrics, /health and /ready in the background
func startMetricsServer(addr string, ready observability.HealthCheckFunc) *http.Server {
	logger := observability.GetLogger()

	server := &http.Server{
		Addr:         addr,
		Handler:      newMetricsMux(ready),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return server
}

func stopMetricsServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger := observability.GetLogger()
		logger.Warn().Err(err).Msg("Metrics server forced to shutdown")
	}
}

// sessionReadiness reports ready while the current session is streaming
func sessionReadiness(current *atomic.Pointer[listen.Session]) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, string, error) {
		s := current.Load()
		if s == nil {
			return false, listen.StateConnecting.String(), nil
		}
		state := s.State()
		return state == listen.StateOpen || state == listen.StateDraining, state.String(), nil
	}
}
