// Package service holds helpers shared by the scheduling engines.
package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
	"github.com/jwalitptl/care-scheduling-api/pkg/errors"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
)

// Options carry the clock and calendar location the engines resolve
// dates against.
type Options struct {
	Location *time.Location
	Now      func() time.Time
}

// Defaults fills unset fields with UTC and the wall clock.
func (o Options) Defaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// FromStore converts a repository error into an AppError and logs it with
// the operation and entity that produced it. AppErrors pass through.
func FromStore(log *logger.Logger, op, entity string, id interface{}, err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, repository.ErrNotFound):
		log.Warn("store lookup found nothing", "operation", op, "entity", entity, "id", id)
		return errors.NotFound(entity, err)
	case stderrors.Is(err, repository.ErrConflict):
		log.Warn("store rejected duplicate", "operation", op, "entity", entity, "id", id, "error", err.Error())
		return errors.Conflict(entity+" conflicts with an existing record", err)
	case stderrors.Is(err, repository.ErrStale):
		log.Warn("store precondition no longer holds", "operation", op, "entity", entity, "id", id)
		return errors.InvalidState(entity + " was modified concurrently")
	default:
		log.Error(err, "store failure", "operation", op, "entity", entity, "id", id)
		return errors.Internal(err)
	}
}

// CanAccess reports whether actor may act on the appointment as a
// participant or as an admin.
func CanAccess(actor model.Actor, appt *model.Appointment) bool {
	return actor.IsAdmin() || appt.IsParticipant(actor.UserID)
}

// Outcome labels an operation result for metrics.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return errors.CodeOf(err).Kind()
}

var tracer = otel.Tracer("github.com/jwalitptl/care-scheduling-api/internal/service")

// StartSpan opens a span for an engine operation.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// EndSpan tags the span with the operation outcome and ends it. Only
// internal failures mark the span as errored; expected rejections are
// recorded as an attribute.
func EndSpan(span trace.Span, errp *error) {
	err := *errp
	span.SetAttributes(attribute.String("outcome", Outcome(err)))
	if err != nil && errors.CodeOf(err) == errors.ErrInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Record appends an event describing a change to the transaction's outbox,
// so the event commits or rolls back with the change itself.
func Record(ctx context.Context, tx repository.Tx, eventType string, aggregateID, actorID uuid.UUID, at time.Time, data interface{}) error {
	id := uuid.New()
	payload, err := json.Marshal(model.EventEnvelope{
		ID:          id,
		Type:        eventType,
		AggregateID: aggregateID,
		ActorID:     actorID,
		OccurredAt:  at.UTC(),
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	return tx.Outbox().Append(ctx, &model.OutboxEvent{
		ID:          id,
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   at,
	})
}
