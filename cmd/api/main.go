package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jwalitptl/care-scheduling-api/config"
	"github.com/jwalitptl/care-scheduling-api/internal/bootstrap"
	"github.com/jwalitptl/care-scheduling-api/internal/handler/appointment"
	"github.com/jwalitptl/care-scheduling-api/internal/handler/availability"
	"github.com/jwalitptl/care-scheduling-api/internal/handler/changerequest"
	"github.com/jwalitptl/care-scheduling-api/internal/handler/health"
	"github.com/jwalitptl/care-scheduling-api/internal/handler/prometheus"
	"github.com/jwalitptl/care-scheduling-api/internal/middleware"
	"github.com/jwalitptl/care-scheduling-api/internal/router"
	"github.com/jwalitptl/care-scheduling-api/internal/service"
	availabilityService "github.com/jwalitptl/care-scheduling-api/internal/service/availability"
	bookingService "github.com/jwalitptl/care-scheduling-api/internal/service/booking"
	"github.com/jwalitptl/care-scheduling-api/internal/service/directory"
	negotiationService "github.com/jwalitptl/care-scheduling-api/internal/service/negotiation"
	"github.com/jwalitptl/care-scheduling-api/pkg/auth"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/metrics"
	"github.com/jwalitptl/care-scheduling-api/pkg/ratelimit"
)

func main() {
	// .env is optional outside local development
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	appLog := bootstrap.NewLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Database, appLog)
	if err != nil {
		appLog.Fatal(err, "failed to open store", "driver", cfg.Database.Driver)
	}
	defer closeStore()

	loc, err := cfg.Scheduling.Location()
	if err != nil {
		appLog.Fatal(err, "invalid scheduling timezone")
	}

	shutdownTracing, err := bootstrap.SetupTracing(ctx, cfg.Tracing, "")
	if err != nil {
		appLog.Fatal(err, "failed to set up tracing")
	}

	// Metrics live on a private registry so the exposition only carries
	// what this process registers.
	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry, "care_scheduling")

	// Initialize services
	opts := service.Options{Location: loc}
	dir := directory.NewService(store.Users(), cfg.Scheduling.DirectoryCacheTTL, appLog)
	availabilitySvc := availabilityService.NewService(store, dir, availabilityService.Rules{
		DefaultSlotMinutes: cfg.Scheduling.DefaultSlotMinutes,
		MinSlotMinutes:     cfg.Scheduling.MinSlotMinutes,
		MaxSlotMinutes:     cfg.Scheduling.MaxSlotMinutes,
		MaxSlotsPerWindow:  cfg.Scheduling.MaxSlotsPerWindow,
	}, appLog, m, opts)
	bookingSvc := bookingService.NewService(store, dir, appLog, m, opts)
	negotiationSvc := negotiationService.NewService(store, appLog, m, opts)

	// Initialize middleware
	tokens := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	authMiddleware := middleware.NewAuthMiddleware(tokens)
	if err := middleware.RegisterValidators(); err != nil {
		appLog.Fatal(err, "failed to register validators")
	}

	limiter, closeLimiter := newRateLimiter(ctx, cfg, appLog, m)
	defer closeLimiter()

	// Initialize handlers
	healthHandler := health.NewHandler(map[string]health.Pinger{"database": store})
	metricsHandler := prometheus.New(registry, m)
	appointmentHandler := appointment.NewHandler(bookingSvc)
	availabilityHandler := availability.NewHandler(availabilitySvc, authMiddleware)
	changeRequestHandler := changerequest.NewHandler(negotiationSvc)

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}
	metricsPath := ""
	if cfg.Monitoring.PrometheusEnabled {
		metricsPath = cfg.Monitoring.MetricsPath
	}

	// Setup router
	r := router.NewRouter(
		appLog,
		authMiddleware,
		healthHandler,
		metricsHandler,
		router.RouterConfig{
			CORSConfig:     corsConfig,
			RequestTimeout: cfg.Server.RequestTimeout,
			MetricsPath:    metricsPath,
			RateLimiter:    limiter,
		},
		appointmentHandler,
		availabilityHandler,
		changeRequestHandler,
	)
	r.Setup()

	stopWorkers := func() {}
	if cfg.Worker.Enabled {
		stopWorkers, err = bootstrap.StartWorkers(ctx, cfg, store, loc, appLog, m)
		if err != nil {
			appLog.Fatal(err, "failed to start background workers")
		}
	}

	// Create server
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        otelhttp.NewHandler(r.Engine(), "http.server"),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// Start server
	go func() {
		appLog.Info("starting server", "addr", srv.Addr, "driver", cfg.Database.Driver, "timezone", loc.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(err, "server forced to shutdown")
	}
	stopWorkers()
	if err := shutdownTracing(shutdownCtx); err != nil {
		appLog.Error(err, "failed to flush traces")
	}
	appLog.Info("server exited properly")
}

// newRateLimiter returns nil when rate limiting is disabled. With redis
// enabled the counters are shared between replicas and the in-process
// limiter only serves while redis is unavailable.
func newRateLimiter(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (ratelimit.Limiter, func()) {
	if !cfg.RateLimit.Enabled {
		return nil, func() {}
	}
	local := ratelimit.NewLocalLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	if !cfg.Redis.Enabled {
		return local, func() {}
	}

	client, err := ratelimit.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.PoolSize)
	if err != nil {
		log.Error(err, "redis unavailable, using in-process rate limiter")
		return local, func() {}
	}
	limiter := ratelimit.NewRedisLimiter(client, ratelimit.RedisConfig{
		Prefix: "care-scheduling:ratelimit",
		Limit:  cfg.RateLimit.WindowLimit,
		Window: cfg.RateLimit.Window,
	}, local, log, m)
	return limiter, func() { client.Close() }
}
