package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/messaging"
)

func TestPublishWrapsMessageInEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "sched.appointment.booked")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewPublisher(client, Config{Prefix: "sched."}, logger.Nop())
	err = p.Publish(ctx, messaging.Message{
		Topic:   "appointment.booked",
		Key:     "appt-1",
		Payload: []byte(`{"task":"walk"}`),
		Headers: map[string]string{"event_id": "e-1"},
	})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var env envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
		assert.Equal(t, "appt-1", env.Key)
		assert.Equal(t, "e-1", env.Headers["event_id"])
		assert.JSONEq(t, `{"task":"walk"}`, string(env.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, p.Close())
	assert.NoError(t, client.Ping(ctx).Err(), "Close must leave the shared client open")
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	p := NewPublisher(client, Config{FailureThreshold: 2, OpenTimeout: time.Minute}, logger.Nop())
	msg := messaging.Message{Topic: "appointment.deleted", Payload: []byte(`{}`)}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := p.Publish(ctx, msg)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	err := p.Publish(ctx, msg)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
