package model

import (
	"time"

	"github.com/google/uuid"
)

// AvailabilitySlot is a bookable window offered by a caregiver.
// (CaregiverID, Date, StartTime, EndTime) is unique.
type AvailabilitySlot struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CaregiverID uuid.UUID `json:"caregiver_id" db:"caregiver_id"`
	Date        Date      `json:"date" db:"slot_date"`
	StartTime   TimeOfDay `json:"start_time" db:"start_time"`
	EndTime     TimeOfDay `json:"end_time" db:"end_time"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// StartsAt returns the instant the slot begins in loc.
func (s *AvailabilitySlot) StartsAt(loc *time.Location) time.Time {
	return s.Date.At(s.StartTime, loc)
}

func (s *AvailabilitySlot) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// SameWindow reports whether two slots describe the same caregiver window.
func (s *AvailabilitySlot) SameWindow(o *AvailabilitySlot) bool {
	return s.CaregiverID == o.CaregiverID && s.Date == o.Date &&
		s.StartTime == o.StartTime && s.EndTime == o.EndTime
}

type CreateSlotRequest struct {
	CaregiverID *uuid.UUID `json:"caregiver_id"`
	Date        string     `json:"date" binding:"required,date"`
	StartTime   string     `json:"start_time" binding:"required,hhmm"`
	EndTime     string     `json:"end_time" binding:"required,hhmm"`
}

type CreateSlotWindowRequest struct {
	CaregiverID *uuid.UUID `json:"caregiver_id"`
	Date        string     `json:"date" binding:"required,date"`
	WindowStart string     `json:"window_start" binding:"required,hhmm"`
	WindowEnd   string     `json:"window_end" binding:"required,hhmm"`
	SlotMinutes int        `json:"slot_minutes" binding:"omitempty,min=1"`
}

type SlotFilters struct {
	CaregiverID uuid.UUID
	From        Date
	To          Date
	Pagination
}
