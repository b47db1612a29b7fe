// Package booking turns availability slots into appointments and guards the
// caregiver calendar against double booking.
package booking

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
	"github.com/jwalitptl/care-scheduling-api/internal/service"
	"github.com/jwalitptl/care-scheduling-api/pkg/errors"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/metrics"
)

// Directory resolves whether a user exists with a given role.
type Directory interface {
	UserExists(ctx context.Context, id uuid.UUID, role model.Role) (bool, error)
}

type Service struct {
	store   repository.Store
	users   Directory
	log     *logger.Logger
	metrics *metrics.Metrics
	loc     *time.Location
	now     func() time.Time
}

func NewService(store repository.Store, users Directory, log *logger.Logger, m *metrics.Metrics, opts service.Options) *Service {
	opts = opts.Defaults()
	return &Service{
		store:   store,
		users:   users,
		log:     log,
		metrics: m,
		loc:     opts.Location,
		now:     opts.Now,
	}
}

func (s *Service) track(op string, start time.Time, errp *error) {
	s.metrics.BookingOperations.WithLabelValues(op, service.Outcome(*errp)).Inc()
	s.metrics.OperationLatency.WithLabelValues("booking." + op).Observe(time.Since(start).Seconds())
}

// CreateAppointment books the slot for the client. The appointment insert
// and the slot delete commit together; a concurrent booking of the same
// slot or instant loses with Conflict.
func (s *Service) CreateAppointment(ctx context.Context, actor model.Actor, req *model.CreateAppointmentRequest) (appt *model.Appointment, err error) {
	const op = "CreateAppointment"
	ctx, span := service.StartSpan(ctx, "booking."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	clientID := actor.UserID
	if req.ClientID != nil {
		clientID = *req.ClientID
	}
	if clientID != actor.UserID && !actor.IsAdmin() {
		return nil, errors.AccessDenied("appointments can only be booked by the client or an admin")
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		return nil, errors.InvalidInput("task is required", nil)
	}

	slot, err := s.store.Availability().Get(ctx, req.AvailabilitySlotID)
	if err != nil {
		return nil, service.FromStore(s.log, op, "availability slot", req.AvailabilitySlotID, err)
	}

	if err := s.requireRole(ctx, op, clientID, model.RoleClient); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, op, slot.CaregiverID, model.RoleCaregiver); err != nil {
		return nil, err
	}

	at := slot.StartsAt(s.loc)
	if !at.After(s.now()) {
		return nil, errors.InvalidState("appointments can only be booked in the future")
	}

	appt = &model.Appointment{
		CaregiverID:     slot.CaregiverID,
		ClientID:        clientID,
		ScheduledAt:     at,
		DurationMinutes: int(slot.Duration() / time.Minute),
		Task:            task,
		Status:          model.AppointmentStatusScheduled,
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Availability().GetForUpdate(ctx, slot.ID); err != nil {
			if stderrors.Is(err, repository.ErrNotFound) {
				s.log.Warn("slot consumed by a concurrent booking", "operation", op, "slot_id", slot.ID)
				return errors.Conflict("availability slot has already been booked", err)
			}
			return err
		}

		taken, err := tx.Appointments().ExistsAt(ctx, slot.CaregiverID, at, nil)
		if err != nil {
			return err
		}
		if taken {
			s.log.Warn("caregiver already booked", "operation", op, "caregiver_id", slot.CaregiverID, "scheduled_at", at)
			return errors.Conflict("caregiver already has an appointment at this time", nil)
		}

		if err := tx.Appointments().Create(ctx, appt); err != nil {
			if stderrors.Is(err, repository.ErrConflict) {
				s.log.Warn("booking lost a race", "operation", op, "caregiver_id", slot.CaregiverID, "scheduled_at", at)
				return errors.Conflict("caregiver already has an appointment at this time", err)
			}
			return err
		}

		if err := tx.Availability().Delete(ctx, slot.ID); err != nil {
			if stderrors.Is(err, repository.ErrNotFound) {
				s.log.Warn("slot vanished before it could be consumed", "operation", op, "slot_id", slot.ID)
				return errors.Conflict("availability slot has already been booked", err)
			}
			return err
		}
		return service.Record(ctx, tx, model.EventAppointmentBooked, appt.ID, actor.UserID, s.now(), appt)
	})
	if err != nil {
		return nil, service.FromStore(s.log, op, "appointment", slot.ID, err)
	}

	s.log.Info("appointment booked",
		"appointment_id", appt.ID,
		"caregiver_id", appt.CaregiverID,
		"client_id", appt.ClientID,
		"scheduled_at", appt.ScheduledAt,
	)
	return appt, nil
}

func (s *Service) requireRole(ctx context.Context, op string, id uuid.UUID, role model.Role) error {
	ok, err := s.users.UserExists(ctx, id, role)
	if err != nil {
		return service.FromStore(s.log, op, "user", id, err)
	}
	if !ok {
		s.log.Warn("user missing or has the wrong role", "operation", op, "user_id", id, "role", role)
		return errors.InvalidInput(string(role)+" "+id.String()+" does not exist", nil)
	}
	return nil
}

// UpdateAppointment edits the date-time and task directly, bypassing
// negotiation. Only admins and the appointment's caregiver may do this.
func (s *Service) UpdateAppointment(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.UpdateAppointmentRequest) (appt *model.Appointment, err error) {
	const op = "UpdateAppointment"
	ctx, span := service.StartSpan(ctx, "booking."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	task := strings.TrimSpace(req.Task)
	if task == "" {
		return nil, errors.InvalidInput("task is required", nil)
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := tx.Appointments().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && actor.UserID != current.CaregiverID {
			return errors.AccessDenied("only the caregiver or an admin can edit an appointment")
		}
		if current.Status != model.AppointmentStatusScheduled {
			return errors.InvalidState("only scheduled appointments can be edited")
		}
		if !req.ScheduledAt.After(s.now()) {
			return errors.InvalidState("appointments can only be moved into the future")
		}

		taken, err := tx.Appointments().ExistsAt(ctx, current.CaregiverID, req.ScheduledAt, &current.ID)
		if err != nil {
			return err
		}
		if taken {
			s.log.Warn("caregiver already booked", "operation", op, "appointment_id", id, "scheduled_at", req.ScheduledAt)
			return errors.Conflict("caregiver already has an appointment at this time", nil)
		}

		current.ScheduledAt = req.ScheduledAt
		current.Task = task
		if err := tx.Appointments().Update(ctx, current); err != nil {
			return err
		}
		appt = current
		return service.Record(ctx, tx, model.EventAppointmentUpdated, current.ID, actor.UserID, s.now(), current)
	})
	if err != nil {
		return nil, service.FromStore(s.log, op, "appointment", id, err)
	}
	return appt, nil
}

// DeleteAppointment hard-deletes the appointment. The slot it consumed is
// not recreated.
func (s *Service) DeleteAppointment(ctx context.Context, actor model.Actor, id uuid.UUID) (err error) {
	const op = "DeleteAppointment"
	ctx, span := service.StartSpan(ctx, "booking."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		appt, err := tx.Appointments().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !service.CanAccess(actor, appt) {
			return errors.AccessDenied("only participants or an admin can delete an appointment")
		}
		if err := tx.Appointments().Delete(ctx, id); err != nil {
			return err
		}
		return service.Record(ctx, tx, model.EventAppointmentDeleted, id, actor.UserID, s.now(), appt)
	})
	if err != nil {
		return service.FromStore(s.log, op, "appointment", id, err)
	}

	s.log.Info("appointment deleted", "appointment_id", id, "actor_id", actor.UserID)
	return nil
}

// SetStatus completes or cancels a scheduled appointment.
func (s *Service) SetStatus(ctx context.Context, actor model.Actor, id uuid.UUID, status model.AppointmentStatus) (appt *model.Appointment, err error) {
	const op = "SetStatus"
	ctx, span := service.StartSpan(ctx, "booking."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	if status != model.AppointmentStatusCompleted && status != model.AppointmentStatusCancelled {
		return nil, errors.InvalidInput("status must be completed or cancelled", nil)
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := tx.Appointments().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !service.CanAccess(actor, current) {
			return errors.AccessDenied("only participants or an admin can change appointment status")
		}
		if current.Status != model.AppointmentStatusScheduled {
			return errors.InvalidState("appointment is already " + string(current.Status))
		}
		current.Status = status
		if err := tx.Appointments().Update(ctx, current); err != nil {
			return err
		}
		appt = current
		return service.Record(ctx, tx, model.EventAppointmentStatusChanged, current.ID, actor.UserID, s.now(), current)
	})
	if err != nil {
		return nil, service.FromStore(s.log, op, "appointment", id, err)
	}
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, actor model.Actor, id uuid.UUID) (appt *model.Appointment, err error) {
	const op = "GetAppointment"
	ctx, span := service.StartSpan(ctx, "booking."+op)
	defer service.EndSpan(span, &err)
	defer errors.Recover(&err, s.log, op)

	appt, err = s.store.Appointments().Get(ctx, id)
	if err != nil {
		return nil, service.FromStore(s.log, op, "appointment", id, err)
	}
	if !service.CanAccess(actor, appt) {
		return nil, errors.AccessDenied("not a participant of this appointment")
	}
	return appt, nil
}

// ListAppointments scopes the listing to the actor: clients and caregivers
// only see their own appointments.
func (s *Service) ListAppointments(ctx context.Context, actor model.Actor, filters model.AppointmentFilters) (list []*model.Appointment, err error) {
	const op = "ListAppointments"
	ctx, span := service.StartSpan(ctx, "booking."+op)
	defer service.EndSpan(span, &err)
	defer errors.Recover(&err, s.log, op)

	switch actor.Role {
	case model.RoleClient:
		filters.ClientID = actor.UserID
	case model.RoleCaregiver:
		filters.CaregiverID = actor.UserID
	}

	list, err = s.store.Appointments().List(ctx, &filters)
	if err != nil {
		return nil, errors.Normalize(err, s.log, op)
	}
	return list, nil
}
