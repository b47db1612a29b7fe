package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/metrics"
)

type HousekeepingConfig struct {
	Interval time.Duration
	Location *time.Location
	// OutboxRetention keeps published events this long; zero keeps them.
	OutboxRetention time.Duration
}

// HousekeepingProcessor completes appointments whose time has passed,
// prunes availability dated before today and drops relayed outbox events.
type HousekeepingProcessor struct {
	store   repository.Store
	config  HousekeepingConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewHousekeepingProcessor(
	store repository.Store,
	config HousekeepingConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *HousekeepingProcessor {
	if config.Interval <= 0 {
		panic("Interval must be greater than 0")
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	return &HousekeepingProcessor{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (p *HousekeepingProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info("Starting housekeeping processor", "interval", p.config.Interval.String())
	p.run(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down housekeeping processor")
			return
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

func (p *HousekeepingProcessor) run(ctx context.Context) {
	if err := p.RunOnce(ctx); err != nil {
		p.logger.Error(err, "Housekeeping run failed")
	}
}

type task struct {
	name string
	fn   func(context.Context) (int64, error)
}

// RunOnce performs one pass of every task. A failing task does not stop
// the others; the first error is returned.
func (p *HousekeepingProcessor) RunOnce(ctx context.Context) error {
	now := p.now()
	tasks := []task{
		{"complete_appointments", func(ctx context.Context) (int64, error) {
			return p.store.Appointments().CompleteEndedBefore(ctx, now)
		}},
		{"prune_slots", func(ctx context.Context) (int64, error) {
			return p.store.Availability().DeleteBefore(ctx, model.DateOf(now.In(p.config.Location)))
		}},
	}
	if p.config.OutboxRetention > 0 {
		tasks = append(tasks, task{"prune_outbox", func(ctx context.Context) (int64, error) {
			return p.store.Outbox().DeletePublishedBefore(ctx, now.Add(-p.config.OutboxRetention))
		}})
	}

	var firstErr error
	for _, t := range tasks {
		timer := prometheus.NewTimer(p.metrics.OperationLatency.WithLabelValues("worker." + t.name))
		n, err := t.fn(ctx)
		timer.ObserveDuration()

		if err != nil {
			p.metrics.WorkerRuns.WithLabelValues(t.name, "error").Inc()
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", t.name, err)
			}
			continue
		}
		p.metrics.WorkerRuns.WithLabelValues(t.name, "success").Inc()
		p.metrics.WorkerItemsAffected.WithLabelValues(t.name).Add(float64(n))
		if n > 0 {
			p.logger.Info("Housekeeping task finished", "task", t.name, "affected", n)
		}
	}

	p.metrics.WorkerLastRun.Set(float64(now.Unix()))
	return firstErr
}
