package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusCompleted, AppointmentStatusCancelled:
		return true
	}
	return false
}

// Appointment is a booked visit. At most one appointment exists per
// (CaregiverID, ScheduledAt).
type Appointment struct {
	Base
	CaregiverID     uuid.UUID         `db:"caregiver_id" json:"caregiver_id"`
	ClientID        uuid.UUID         `db:"client_id" json:"client_id"`
	ScheduledAt     time.Time         `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int               `db:"duration_minutes" json:"duration_minutes"`
	Task            string            `db:"task" json:"task"`
	Status          AppointmentStatus `db:"status" json:"status"`
}

func (a *Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(a.Duration())
}

// IsParticipant reports whether userID is the caregiver or the client.
func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return a.CaregiverID == userID || a.ClientID == userID
}

type CreateAppointmentRequest struct {
	AvailabilitySlotID uuid.UUID  `json:"availability_slot_id" binding:"required"`
	ClientID           *uuid.UUID `json:"client_id"`
	Task               string     `json:"task" binding:"required,max=1000"`
}

type UpdateAppointmentRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
	Task        string    `json:"task" binding:"required,max=1000"`
}

type UpdateAppointmentStatusRequest struct {
	Status AppointmentStatus `json:"status" binding:"required,oneof=completed cancelled"`
}

type AppointmentFilters struct {
	CaregiverID uuid.UUID
	ClientID    uuid.UUID
	Status      AppointmentStatus
	From        time.Time
	To          time.Time
	Pagination
}
