package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/care-scheduling-api/config"
	"github.com/jwalitptl/care-scheduling-api/internal/bootstrap"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/metrics"
)

// The worker serves health and metrics on the next port up from the API.
func setupHealthCheck(port int, store repository.Store, registry *prometheus.Registry, metricsPath string, log *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if metricsPath != "" {
		mux.Handle(metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	appLog := bootstrap.NewLogger(cfg.Log).WithFields(map[string]interface{}{"component": "worker"})

	if cfg.Database.Driver == "memory" {
		// nothing to clean up in a store no other process can see
		appLog.Warn("memory driver configured, the standalone worker has no shared state to maintain")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Database, appLog)
	if err != nil {
		appLog.Fatal(err, "Failed to open store")
	}
	defer closeStore()

	loc, err := cfg.Scheduling.Location()
	if err != nil {
		appLog.Fatal(err, "Invalid scheduling timezone")
	}

	shutdownTracing, err := bootstrap.SetupTracing(ctx, cfg.Tracing, "worker")
	if err != nil {
		appLog.Fatal(err, "Failed to set up tracing")
	}
	defer shutdownTracing(context.Background())

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry, "care_scheduling")

	metricsPath := ""
	if cfg.Monitoring.PrometheusEnabled {
		metricsPath = cfg.Monitoring.MetricsPath
	}
	health := setupHealthCheck(cfg.Server.Port+1, store, registry, metricsPath, appLog)
	defer health.Close()

	wait, err := bootstrap.StartWorkers(ctx, cfg, store, loc, appLog, m)
	if err != nil {
		appLog.Fatal(err, "Failed to start workers")
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLog.Info("Shutting down...")
	cancel()
	wait()
}
