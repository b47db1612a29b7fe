package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
)

type availabilityRepository struct {
	run exec
}

func (r *availabilityRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	return r.run(func(st *state) error {
		if findWindow(st, slot) != nil {
			return fmt.Errorf("failed to create availability slot: %w", repository.ErrConflict)
		}
		insertSlot(st, slot)
		return nil
	})
}

func (r *availabilityRepository) CreateIfAbsent(ctx context.Context, slot *model.AvailabilitySlot) (bool, error) {
	created := false
	err := r.run(func(st *state) error {
		if findWindow(st, slot) != nil {
			return nil
		}
		insertSlot(st, slot)
		created = true
		return nil
	})
	return created, err
}

func insertSlot(st *state, slot *model.AvailabilitySlot) {
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now()
	}
	st.slots[slot.ID] = *slot
}

func findWindow(st *state, slot *model.AvailabilitySlot) *model.AvailabilitySlot {
	for _, s := range st.slots {
		if s.SameWindow(slot) {
			found := s
			return &found
		}
	}
	return nil
}

func (r *availabilityRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	var out *model.AvailabilitySlot
	err := r.run(func(st *state) error {
		slot, ok := st.slots[id]
		if !ok {
			return fmt.Errorf("failed to get availability slot: %w", repository.ErrNotFound)
		}
		out = &slot
		return nil
	})
	return out, err
}

func (r *availabilityRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	return r.Get(ctx, id)
}

func (r *availabilityRepository) FindWindow(ctx context.Context, caregiverID uuid.UUID, date model.Date, start, end model.TimeOfDay) (*model.AvailabilitySlot, error) {
	var out *model.AvailabilitySlot
	err := r.run(func(st *state) error {
		out = findWindow(st, &model.AvailabilitySlot{CaregiverID: caregiverID, Date: date, StartTime: start, EndTime: end})
		if out == nil {
			return fmt.Errorf("failed to get availability slot: %w", repository.ErrNotFound)
		}
		return nil
	})
	return out, err
}

func (r *availabilityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.run(func(st *state) error {
		if _, ok := st.slots[id]; !ok {
			return repository.ErrNotFound
		}
		delete(st.slots, id)
		return nil
	})
}

func (r *availabilityRepository) List(ctx context.Context, filters *model.SlotFilters) ([]*model.AvailabilitySlot, error) {
	var out []*model.AvailabilitySlot
	err := r.run(func(st *state) error {
		for _, s := range st.slots {
			if filters.CaregiverID != uuid.Nil && s.CaregiverID != filters.CaregiverID {
				continue
			}
			if !filters.From.IsZero() && s.Date.Before(filters.From) {
				continue
			}
			if !filters.To.IsZero() && s.Date.After(filters.To) {
				continue
			}
			slot := s
			out = append(out, &slot)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return paginate(out, filters.Pagination), err
}

func (r *availabilityRepository) DeleteBefore(ctx context.Context, date model.Date) (int64, error) {
	var n int64
	err := r.run(func(st *state) error {
		for id, s := range st.slots {
			if s.Date.Before(date) {
				delete(st.slots, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

type appointmentRepository struct {
	run exec
}

func bookedAt(st *state, caregiverID uuid.UUID, at time.Time, excludeID *uuid.UUID) bool {
	for _, a := range st.appointments {
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.CaregiverID == caregiverID && a.ScheduledAt.Equal(at) && a.Status != model.AppointmentStatusCancelled {
			return true
		}
	}
	return false
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	return r.run(func(st *state) error {
		if bookedAt(st, appointment.CaregiverID, appointment.ScheduledAt, nil) {
			return fmt.Errorf("failed to create appointment: %w", repository.ErrConflict)
		}
		if appointment.ID == uuid.Nil {
			appointment.ID = uuid.New()
		}
		now := time.Now()
		appointment.CreatedAt = now
		appointment.UpdatedAt = now
		st.appointments[appointment.ID] = *appointment
		return nil
	})
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var out *model.Appointment
	err := r.run(func(st *state) error {
		a, ok := st.appointments[id]
		if !ok {
			return fmt.Errorf("failed to get appointment: %w", repository.ErrNotFound)
		}
		out = &a
		return nil
	})
	return out, err
}

func (r *appointmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.Get(ctx, id)
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	return r.run(func(st *state) error {
		if _, ok := st.appointments[appointment.ID]; !ok {
			return repository.ErrNotFound
		}
		if appointment.Status != model.AppointmentStatusCancelled &&
			bookedAt(st, appointment.CaregiverID, appointment.ScheduledAt, &appointment.ID) {
			return fmt.Errorf("failed to update appointment: %w", repository.ErrConflict)
		}
		appointment.UpdatedAt = time.Now()
		st.appointments[appointment.ID] = *appointment
		return nil
	})
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.run(func(st *state) error {
		if _, ok := st.appointments[id]; !ok {
			return repository.ErrNotFound
		}
		delete(st.appointments, id)
		for crID, cr := range st.requests {
			if cr.AppointmentID == id {
				delete(st.requests, crID)
			}
		}
		return nil
	})
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	var out []*model.Appointment
	err := r.run(func(st *state) error {
		for _, a := range st.appointments {
			if filters.CaregiverID != uuid.Nil && a.CaregiverID != filters.CaregiverID {
				continue
			}
			if filters.ClientID != uuid.Nil && a.ClientID != filters.ClientID {
				continue
			}
			if filters.Status != "" && a.Status != filters.Status {
				continue
			}
			if !filters.From.IsZero() && a.ScheduledAt.Before(filters.From) {
				continue
			}
			if !filters.To.IsZero() && !a.ScheduledAt.Before(filters.To) {
				continue
			}
			appt := a
			out = append(out, &appt)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return paginate(out, filters.Pagination), err
}

func (r *appointmentRepository) ExistsAt(ctx context.Context, caregiverID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error) {
	var exists bool
	err := r.run(func(st *state) error {
		exists = bookedAt(st, caregiverID, at, excludeID)
		return nil
	})
	return exists, err
}

func (r *appointmentRepository) CompleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.run(func(st *state) error {
		for id, a := range st.appointments {
			if a.Status == model.AppointmentStatusScheduled && !a.EndsAt().After(cutoff) {
				a.Status = model.AppointmentStatusCompleted
				a.UpdatedAt = time.Now()
				st.appointments[id] = a
				n++
			}
		}
		return nil
	})
	return n, err
}

type changeRequestRepository struct {
	run exec
}

func (r *changeRequestRepository) Create(ctx context.Context, request *model.ChangeRequest) error {
	return r.run(func(st *state) error {
		if hasPending(st, request.AppointmentID) {
			return fmt.Errorf("failed to create change request: %w", repository.ErrConflict)
		}
		if request.ID == uuid.Nil {
			request.ID = uuid.New()
		}
		st.requests[request.ID] = *request
		return nil
	})
}

func hasPending(st *state, appointmentID uuid.UUID) bool {
	for _, cr := range st.requests {
		if cr.AppointmentID == appointmentID && cr.IsPending() {
			return true
		}
	}
	return false
}

func (r *changeRequestRepository) Get(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	var out *model.ChangeRequest
	err := r.run(func(st *state) error {
		cr, ok := st.requests[id]
		if !ok {
			return fmt.Errorf("failed to get change request: %w", repository.ErrNotFound)
		}
		out = &cr
		return nil
	})
	return out, err
}

func (r *changeRequestRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	return r.Get(ctx, id)
}

func (r *changeRequestRepository) HasPending(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var pending bool
	err := r.run(func(st *state) error {
		pending = hasPending(st, appointmentID)
		return nil
	})
	return pending, err
}

func (r *changeRequestRepository) Respond(ctx context.Context, id uuid.UUID, status model.ChangeRequestStatus, by uuid.UUID, at time.Time) error {
	return r.run(func(st *state) error {
		cr, ok := st.requests[id]
		if !ok || !cr.IsPending() {
			return repository.ErrStale
		}
		cr.Status = status
		cr.RespondedBy = &by
		cr.RespondedAt = &at
		st.requests[id] = cr
		return nil
	})
}

func (r *changeRequestRepository) DeletePending(ctx context.Context, id uuid.UUID) error {
	return r.run(func(st *state) error {
		cr, ok := st.requests[id]
		if !ok || !cr.IsPending() {
			return repository.ErrStale
		}
		delete(st.requests, id)
		return nil
	})
}

func (r *changeRequestRepository) List(ctx context.Context, filters *model.ChangeRequestFilters) ([]*model.ChangeRequest, error) {
	var out []*model.ChangeRequest
	err := r.run(func(st *state) error {
		for _, cr := range st.requests {
			if filters.AppointmentID != uuid.Nil && cr.AppointmentID != filters.AppointmentID {
				continue
			}
			if filters.Status != "" && cr.Status != filters.Status {
				continue
			}
			if filters.ExcludeRequestedBy != uuid.Nil && cr.RequestedBy == filters.ExcludeRequestedBy {
				continue
			}
			if filters.ParticipantID != uuid.Nil {
				a, ok := st.appointments[cr.AppointmentID]
				if !ok || !a.IsParticipant(filters.ParticipantID) {
					continue
				}
			}
			req := cr
			out = append(out, &req)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return paginate(out, filters.Pagination), err
}
