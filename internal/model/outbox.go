package model

import (
	"time"

	"github.com/google/uuid"
)

// Event types written to the outbox. The type doubles as the broker topic.
const (
	EventAppointmentBooked        = "appointment.booked"
	EventAppointmentUpdated       = "appointment.updated"
	EventAppointmentStatusChanged = "appointment.status_changed"
	EventAppointmentDeleted       = "appointment.deleted"
	EventChangeRequestCreated     = "change_request.created"
	EventChangeRequestApproved    = "change_request.approved"
	EventChangeRequestRejected    = "change_request.rejected"
	EventChangeRequestCancelled   = "change_request.cancelled"
)

// OutboxEvent is a domain event recorded in the same transaction as the
// change it describes and relayed to the broker afterwards.
type OutboxEvent struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	AggregateID uuid.UUID  `db:"aggregate_id" json:"aggregate_id"`
	EventType   string     `db:"event_type" json:"event_type"`
	Payload     []byte     `db:"payload" json:"payload"`
	Attempts    int        `db:"attempts" json:"attempts"`
	LastError   *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	PublishedAt *time.Time `db:"published_at" json:"published_at,omitempty"`
}

// EventEnvelope is the message body published for an OutboxEvent.
type EventEnvelope struct {
	ID          uuid.UUID   `json:"id"`
	Type        string      `json:"type"`
	AggregateID uuid.UUID   `json:"aggregate_id"`
	ActorID     uuid.UUID   `json:"actor_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Data        interface{} `json:"data"`
}
