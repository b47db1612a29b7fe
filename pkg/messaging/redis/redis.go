package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/messaging"
)

// Publisher sends events over redis pub/sub. Channel names are the topic
// with Prefix prepended.
type Publisher struct {
	client redis.UniversalClient
	prefix string
	cb     *gobreaker.CircuitBreaker[int64]
	logger *logger.Logger
}

type Config struct {
	Prefix string
	// Breaker trips after this many consecutive failures.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// envelope carries the headers next to the payload since pub/sub has none.
type envelope struct {
	Key     string            `json:"key,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload json.RawMessage   `json:"payload"`
}

func NewPublisher(client redis.UniversalClient, config Config, log *logger.Logger) *Publisher {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 5 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "redis-broker",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Publisher{
		client: client,
		prefix: config.Prefix,
		cb:     cb,
		logger: log,
	}
}

func (p *Publisher) Publish(ctx context.Context, msg messaging.Message) error {
	body, err := json.Marshal(envelope{Key: msg.Key, Headers: msg.Headers, Payload: msg.Payload})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	channel := p.prefix + msg.Topic
	receivers, err := p.cb.Execute(func() (int64, error) {
		return p.client.Publish(ctx, channel, body).Result()
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	p.logger.Debug("event published", "channel", channel, "receivers", receivers)
	return nil
}

// Close does not close the client; it is shared with the caller.
func (p *Publisher) Close() error {
	return nil
}
