package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/care-scheduling-api/internal/handler/prometheus"
	"github.com/jwalitptl/care-scheduling-api/internal/middleware"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/ratelimit"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	CORSConfig     middleware.CORSConfig
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	MetricsPath    string
	// RateLimiter is optional; nil disables throttling.
	RateLimiter ratelimit.Limiter
}

type Router struct {
	engine   *gin.Engine
	log      *logger.Logger
	auth     *middleware.AuthMiddleware
	health   Handler
	metrics  *prometheus.Handler
	handlers []Handler
	config   RouterConfig
}

func NewRouter(
	log *logger.Logger,
	auth *middleware.AuthMiddleware,
	health Handler,
	metrics *prometheus.Handler,
	config RouterConfig,
	handlers ...Handler,
) *Router {
	engine := gin.New()

	if config.RequestTimeout <= 0 {
		config.RequestTimeout = middleware.DefaultTimeoutConfig().Duration
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}

	r := &Router{
		engine:   engine,
		log:      log,
		auth:     auth,
		health:   health,
		metrics:  metrics,
		handlers: handlers,
		config:   config,
	}

	// post-processing runs in reverse: Validation renders bind errors
	// before ErrorHandler looks for anything left unanswered
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
		metrics.Middleware(),
		middleware.ErrorHandler(log),
		middleware.Validation(),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(config.MaxBodyBytes),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
	)

	return r
}

func (r *Router) Setup() {
	if r.config.MetricsPath != "" {
		r.engine.GET(r.config.MetricsPath, r.metrics.Handler())
	}

	api := r.engine.Group("/api/v1")
	r.health.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	if r.config.RateLimiter != nil {
		protected.Use(middleware.RateLimit(r.config.RateLimiter, r.log))
	}
	for _, h := range r.handlers {
		h.RegisterRoutes(protected)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
