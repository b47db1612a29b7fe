package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jwalitptl/care-scheduling-api/pkg/messaging"
)

// Publisher writes events to kafka, one topic per event type, keyed by
// aggregate so events of one appointment stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
	prefix string
}

type Config struct {
	Brokers      []string
	TopicPrefix  string
	WriteTimeout time.Duration
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func NewPublisher(config Config) (*Publisher, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka publisher needs at least one broker")
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(config.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           config.WriteTimeout,
			AllowAutoTopicCreation: true,
		},
		prefix: config.TopicPrefix,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, msg messaging.Message) error {
	if err := p.writer.WriteMessages(ctx, toKafka(p.prefix, msg)); err != nil {
		return fmt.Errorf("failed to write to kafka topic %s: %w", p.prefix+msg.Topic, err)
	}
	return nil
}

func toKafka(prefix string, msg messaging.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   prefix + msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Payload,
		Headers: headers,
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
