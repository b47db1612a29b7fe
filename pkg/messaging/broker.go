package messaging

import (
	"context"

	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
)

// Message is one event handed to a broker. Key orders messages that share
// it on brokers that support partitioning.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// LogPublisher only logs what it would publish. It backs the "none" broker.
type LogPublisher struct {
	log *logger.Logger
}

func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.log.Debug("event not published, no broker configured", "topic", msg.Topic, "key", msg.Key, "size", len(msg.Payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
