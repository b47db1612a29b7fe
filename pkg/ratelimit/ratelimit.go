// Package ratelimit decides whether a caller may make another request.
// The redis limiter shares its counters across API replicas; when redis is
// unreachable a circuit breaker routes decisions to an in-process limiter.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/metrics"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LocalLimiter keeps one token bucket per key. Idle buckets expire.
type LocalLimiter struct {
	rps     rate.Limit
	burst   int
	mu      sync.Mutex
	buckets *cache.Cache
}

func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: cache.New(10*time.Minute, 20*time.Minute),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var bucket *rate.Limiter
	if v, found := l.buckets.Get(key); found {
		bucket = v.(*rate.Limiter)
	} else {
		bucket = rate.NewLimiter(l.rps, l.burst)
	}
	// refresh expiry on every hit
	l.buckets.Set(key, bucket, cache.DefaultExpiration)
	return bucket.Allow(), nil
}

type RedisConfig struct {
	Prefix string
	Limit  int
	Window time.Duration
	// Breaker trips after this many consecutive redis failures.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// RedisLimiter is a fixed-window counter in redis.
type RedisLimiter struct {
	client   redis.UniversalClient
	cfg      RedisConfig
	breaker  *gobreaker.CircuitBreaker[bool]
	fallback Limiter
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, cfg RedisConfig, fallback Limiter, log *logger.Logger, m *metrics.Metrics) *RedisLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	rl := &RedisLimiter{
		client:   client,
		cfg:      cfg,
		fallback: fallback,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
	rl.breaker = gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        "redis-ratelimit",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return rl
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, err := r.breaker.Execute(func() (bool, error) {
		return r.count(ctx, key)
	})
	if err != nil {
		r.metrics.RateLimitFallbacks.Inc()
		r.log.Debug("rate limit falling back to local limiter", "key", key, "error", err.Error())
		allowed, err = r.fallback.Allow(ctx, key)
	}
	if err != nil {
		return false, err
	}
	r.record(allowed)
	return allowed, nil
}

func (r *RedisLimiter) count(ctx context.Context, key string) (bool, error) {
	window := r.now().UnixNano() / int64(r.cfg.Window)
	redisKey := fmt.Sprintf("%s:%s:%s", r.cfg.Prefix, key, strconv.FormatInt(window, 10))

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, r.cfg.Window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to count request: %w", err)
	}
	return incr.Val() <= int64(r.cfg.Limit), nil
}

func (r *RedisLimiter) record(allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	r.metrics.RateLimitDecisions.WithLabelValues(decision).Inc()
}

// NewRedisClient parses url and verifies the connection.
func NewRedisClient(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
