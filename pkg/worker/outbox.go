package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/messaging"
	"github.com/jwalitptl/care-scheduling-api/pkg/metrics"
)

type OutboxConfig struct {
	Interval  time.Duration
	BatchSize int
	// MaxAttempts parks an event after this many broker failures.
	MaxAttempts int
}

// OutboxProcessor relays recorded scheduling events to the broker. On
// postgres, events are fetched, published and marked inside one transaction,
// so concurrent relays never publish the same row twice in the happy path.
// Delivery is at least once.
type OutboxProcessor struct {
	store     repository.Store
	publisher messaging.Publisher
	config    OutboxConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewOutboxProcessor(
	store repository.Store,
	publisher messaging.Publisher,
	config OutboxConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	if config.Interval <= 0 {
		panic("Interval must be greater than 0")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}

	return &OutboxProcessor{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor",
		"interval", p.config.Interval.String(),
		"batch_size", p.config.BatchSize,
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.Error(err, "Failed to process outbox events")
			}
		}
	}
}

// RunOnce relays one batch and returns how many events were published. A
// broker failure marks only the failing event; the rest of the batch
// still goes out.
func (p *OutboxProcessor) RunOnce(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("github.com/jwalitptl/care-scheduling-api/pkg/worker").Start(ctx, "outbox.relay")
	defer span.End()

	var (
		published int
		err       error
	)
	if s, ok := p.store.(exclusiveStore); ok && s.ExclusiveTx() {
		published, err = p.relayOutsideTx(ctx)
	} else {
		published, err = p.relayInTx(ctx)
	}
	span.SetAttributes(attribute.Int("outbox.published", published))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if published > 0 {
		p.logger.Debug("Relayed outbox events", "count", published)
	}
	return published, nil
}

// exclusiveStore is implemented by stores whose transactions block every
// other caller. Those relay in two short transactions around the publish.
type exclusiveStore interface {
	ExclusiveTx() bool
}

// relayInTx keeps the fetched rows locked while publishing.
func (p *OutboxProcessor) relayInTx(ctx context.Context) (int, error) {
	published := 0
	err := p.store.WithTx(ctx, func(tx repository.Tx) error {
		events, err := tx.Outbox().FetchUnpublished(ctx, p.config.BatchSize, p.config.MaxAttempts)
		if err != nil {
			return err
		}

		var done []uuid.UUID
		for _, event := range events {
			if err := p.publish(ctx, event); err != nil {
				if err := tx.Outbox().MarkFailed(ctx, event.ID, err.Error()); err != nil {
					return err
				}
				continue
			}
			done = append(done, event.ID)
		}

		if err := tx.Outbox().MarkPublished(ctx, done, p.now()); err != nil {
			return err
		}
		published = len(done)
		return nil
	})
	return published, err
}

// relayOutsideTx publishes with no transaction open. An event published
// twice by racing relays is covered by at-least-once delivery.
func (p *OutboxProcessor) relayOutsideTx(ctx context.Context) (int, error) {
	var events []*model.OutboxEvent
	err := p.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		events, err = tx.Outbox().FetchUnpublished(ctx, p.config.BatchSize, p.config.MaxAttempts)
		return err
	})
	if err != nil {
		return 0, err
	}

	var done []uuid.UUID
	failed := make(map[uuid.UUID]string)
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			failed[event.ID] = err.Error()
			continue
		}
		done = append(done, event.ID)
	}

	err = p.store.WithTx(ctx, func(tx repository.Tx) error {
		for id, reason := range failed {
			if err := tx.Outbox().MarkFailed(ctx, id, reason); err != nil {
				return err
			}
		}
		return tx.Outbox().MarkPublished(ctx, done, p.now())
	})
	if err != nil {
		return 0, err
	}
	return len(done), nil
}

func (p *OutboxProcessor) publish(ctx context.Context, event *model.OutboxEvent) error {
	msg := messaging.Message{
		Topic:   event.EventType,
		Key:     event.AggregateID.String(),
		Payload: event.Payload,
		Headers: map[string]string{
			"event_id":   event.ID.String(),
			"event_type": event.EventType,
		},
	}
	if err := p.publisher.Publish(ctx, msg); err != nil {
		p.metrics.OutboxFailures.WithLabelValues(event.EventType).Inc()
		p.logger.Error(err, "Failed to publish event",
			"event_id", event.ID,
			"event_type", event.EventType,
			"attempt", event.Attempts+1,
		)
		return err
	}
	p.metrics.OutboxPublished.WithLabelValues(event.EventType).Inc()
	return nil
}
