package model

import (
	"time"

	"github.com/google/uuid"
)

type ChangeRequestStatus string

const (
	ChangeRequestStatusPending  ChangeRequestStatus = "pending"
	ChangeRequestStatusApproved ChangeRequestStatus = "approved"
	ChangeRequestStatusRejected ChangeRequestStatus = "rejected"
)

// ChangeRequest is a proposal by one participant to alter an appointment.
// At most one pending request exists per appointment; approved and rejected
// are terminal.
type ChangeRequest struct {
	ID                 uuid.UUID           `db:"id" json:"id"`
	AppointmentID      uuid.UUID           `db:"appointment_id" json:"appointment_id"`
	RequestedBy        uuid.UUID           `db:"requested_by" json:"requested_by"`
	OldTask            string              `db:"old_task" json:"old_task"`
	OldScheduledAt     time.Time           `db:"old_scheduled_at" json:"old_scheduled_at"`
	OldDurationMinutes int                 `db:"old_duration_minutes" json:"old_duration_minutes"`
	NewTask            *string             `db:"new_task" json:"new_task,omitempty"`
	NewScheduledAt     *time.Time          `db:"new_scheduled_at" json:"new_scheduled_at,omitempty"`
	NewDurationMinutes *int                `db:"new_duration_minutes" json:"new_duration_minutes,omitempty"`
	Status             ChangeRequestStatus `db:"status" json:"status"`
	RequestedAt        time.Time           `db:"requested_at" json:"requested_at"`
	RespondedAt        *time.Time          `db:"responded_at" json:"responded_at,omitempty"`
	RespondedBy        *uuid.UUID          `db:"responded_by" json:"responded_by,omitempty"`
}

func (c *ChangeRequest) IsPending() bool {
	return c.Status == ChangeRequestStatusPending
}

// MovesTime reports whether approving the request changes the appointment's
// date-time, as opposed to a task-only edit.
func (c *ChangeRequest) MovesTime() bool {
	return c.NewScheduledAt != nil && !c.NewScheduledAt.Equal(c.OldScheduledAt)
}

type CreateChangeRequestRequest struct {
	NewTask               *string    `json:"new_task" binding:"omitempty,max=1000"`
	NewAvailabilitySlotID *uuid.UUID `json:"new_availability_slot_id"`
}

type ChangeRequestFilters struct {
	AppointmentID      uuid.UUID
	// ParticipantID restricts to requests on appointments where the user is
	// the caregiver or the client.
	ParticipantID      uuid.UUID
	// ExcludeRequestedBy drops requests authored by this user.
	ExcludeRequestedBy uuid.UUID
	Status             ChangeRequestStatus
	Pagination
}
