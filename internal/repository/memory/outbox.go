package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
)

type outboxRepository struct {
	run exec
}

func (r *outboxRepository) Append(ctx context.Context, event *model.OutboxEvent) error {
	return r.run(func(st *state) error {
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = time.Now()
		}
		e := *event
		e.Payload = append([]byte(nil), event.Payload...)
		st.outbox[e.ID] = e
		return nil
	})
}

func (r *outboxRepository) FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]*model.OutboxEvent, error) {
	var out []*model.OutboxEvent
	err := r.run(func(st *state) error {
		for _, e := range st.outbox {
			if e.PublishedAt != nil || (maxAttempts > 0 && e.Attempts >= maxAttempts) {
				continue
			}
			e := e
			out = append(out, &e)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *outboxRepository) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	return r.run(func(st *state) error {
		for _, id := range ids {
			e, ok := st.outbox[id]
			if !ok {
				continue
			}
			published := at
			e.PublishedAt = &published
			st.outbox[id] = e
		}
		return nil
	})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.run(func(st *state) error {
		e, ok := st.outbox[id]
		if !ok {
			return nil
		}
		e.Attempts++
		e.LastError = &reason
		st.outbox[id] = e
		return nil
	})
}

func (r *outboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.run(func(st *state) error {
		for id, e := range st.outbox {
			if e.PublishedAt != nil && e.PublishedAt.Before(cutoff) {
				delete(st.outbox, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
