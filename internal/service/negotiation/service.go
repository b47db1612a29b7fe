// Package negotiation implements the two-party change protocol for
// appointments: one participant proposes, the other approves or rejects,
// and the proposer may withdraw while the request is pending.
package negotiation

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

type Service struct {
	store   repository.Store
	log     *logger.Logger
	metrics *metrics.Metrics
	loc     *time.Location
	now     func() time.Time
}

func NewService(store repository.Store, log *logger.Logger, m *metrics.Metrics, opts service.Options) *Service {
	opts = opts.Defaults()
	return &Service{
		store:   store,
		log:     log,
		metrics: m,
		loc:     opts.Location,
		now:     opts.Now,
	}
}

func (s *Service) track(op string, start time.Time, errp *error) {
	s.metrics.NegotiationOperations.WithLabelValues(op, service.Outcome(*errp)).Inc()
	s.metrics.OperationLatency.WithLabelValues("negotiation." + op).Observe(time.Since(start).Seconds())
}

// CreateChangeRequest records a pending proposal against the appointment.
// The old task and date-time are snapshotted so approval can detect edits
// made in the meantime.
func (s *Service) CreateChangeRequest(ctx context.Context, actor model.Actor, appointmentID uuid.UUID, req *model.CreateChangeRequestRequest) (cr *model.ChangeRequest, err error) {
	const op = "CreateChangeRequest"
	ctx, span := service.StartSpan(ctx, "negotiation."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	if req.NewTask == nil && req.NewAvailabilitySlotID == nil {
		return nil, errors.InvalidInput("a new task or a new availability slot is required", nil)
	}
	var newTask *string
	if req.NewTask != nil {
		task := strings.TrimSpace(*req.NewTask)
		if task == "" {
			return nil, errors.InvalidInput("new task cannot be empty", nil)
		}
		newTask = &task
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		appt, err := tx.Appointments().GetForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !appt.IsParticipant(actor.UserID) {
			return errors.AccessDenied("only the client or caregiver of an appointment can request a change")
		}
		if appt.Status != model.AppointmentStatusScheduled {
			return errors.InvalidState("only scheduled appointments can be changed")
		}

		pending, err := tx.ChangeRequests().HasPending(ctx, appt.ID)
		if err != nil {
			return err
		}
		if pending {
			s.log.Warn("change request already pending", "operation", op, "appointment_id", appt.ID)
			return errors.Conflict("there is already a pending change request for this appointment", nil)
		}

		cr = &model.ChangeRequest{
			AppointmentID:      appt.ID,
			RequestedBy:        actor.UserID,
			OldTask:            appt.Task,
			OldScheduledAt:     appt.ScheduledAt,
			OldDurationMinutes: appt.DurationMinutes,
			NewTask:            newTask,
			Status:             model.ChangeRequestStatusPending,
			RequestedAt:        s.now(),
		}

		if req.NewAvailabilitySlotID != nil {
			slot, err := tx.Availability().Get(ctx, *req.NewAvailabilitySlotID)
			if err != nil && !stderrors.Is(err, repository.ErrNotFound) {
				return err
			}
			if slot == nil || slot.CaregiverID != appt.CaregiverID {
				s.log.Warn("target slot not offered by the caregiver", "operation", op,
					"appointment_id", appt.ID, "slot_id", *req.NewAvailabilitySlotID)
				return errors.InvalidInput("availability slot does not exist for this caregiver", err)
			}
			at := slot.StartsAt(s.loc)
			if !at.After(s.now()) {
				return errors.InvalidState("the proposed slot is in the past")
			}
			minutes := int(slot.Duration() / time.Minute)
			cr.NewScheduledAt = &at
			cr.NewDurationMinutes = &minutes
		}

		if err := tx.ChangeRequests().Create(ctx, cr); err != nil {
			if stderrors.Is(err, repository.ErrConflict) {
				s.log.Warn("concurrent change request admitted first", "operation", op, "appointment_id", appt.ID)
				return errors.Conflict("there is already a pending change request for this appointment", err)
			}
			return err
		}
		return service.Record(ctx, tx, model.EventChangeRequestCreated, appt.ID, actor.UserID, cr.RequestedAt, cr)
	})
	if err != nil {
		return nil, service.FromStore(s.log, op, "appointment", appointmentID, err)
	}

	s.log.Info("change request created",
		"change_request_id", cr.ID,
		"appointment_id", cr.AppointmentID,
		"requested_by", cr.RequestedBy,
		"moves_time", cr.MovesTime(),
	)
	return cr, nil
}

// decision is the event payload for a resolved change request.
type decision struct {
	ChangeRequestID uuid.UUID          `json:"change_request_id"`
	AppointmentID   uuid.UUID          `json:"appointment_id"`
	Appointment     *model.Appointment `json:"appointment,omitempty"`
}

// respondable loads a pending request and its appointment under lock and
// checks that actor is a counterparty allowed to answer it.
func (s *Service) respondable(ctx context.Context, tx repository.Tx, actor model.Actor, id uuid.UUID, verb string) (*model.ChangeRequest, *model.Appointment, error) {
	cr, err := tx.ChangeRequests().GetForUpdate(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !cr.IsPending() {
		return nil, nil, errors.InvalidState("change request has already been " + string(cr.Status))
	}
	if cr.RequestedBy == actor.UserID {
		return nil, nil, errors.AccessDenied("you cannot " + verb + " your own change request")
	}

	appt, err := tx.Appointments().GetForUpdate(ctx, cr.AppointmentID)
	if err != nil {
		return nil, nil, err
	}
	if !service.CanAccess(actor, appt) {
		return nil, nil, errors.AccessDenied("only the other participant or an admin can " + verb + " this change request")
	}
	return cr, appt, nil
}

// ApproveChangeRequest applies the proposal. For a time change the target
// slot is consumed and the vacated window is offered again, all in the same
// transaction as the status flip.
func (s *Service) ApproveChangeRequest(ctx context.Context, actor model.Actor, id uuid.UUID) (result *model.Appointment, err error) {
	const op = "ApproveChangeRequest"
	ctx, span := service.StartSpan(ctx, "negotiation."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	now := s.now()
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		cr, appt, err := s.respondable(ctx, tx, actor, id, "approve")
		if err != nil {
			return err
		}
		if appt.Status != model.AppointmentStatusScheduled {
			return errors.InvalidState("appointment is no longer scheduled")
		}
		if !appt.ScheduledAt.Equal(cr.OldScheduledAt) {
			s.log.Warn("appointment moved since the request was made", "operation", op,
				"change_request_id", cr.ID, "appointment_id", appt.ID)
			return errors.InvalidState("appointment was changed after this request was made")
		}

		if err := tx.ChangeRequests().Respond(ctx, cr.ID, model.ChangeRequestStatusApproved, actor.UserID, now); err != nil {
			if stderrors.Is(err, repository.ErrStale) {
				return errors.InvalidState("change request has already been processed")
			}
			return err
		}

		if cr.NewTask != nil {
			appt.Task = *cr.NewTask
		}
		if !cr.MovesTime() {
			if err := tx.Appointments().Update(ctx, appt); err != nil {
				return err
			}
		} else if err := s.move(ctx, tx, op, cr, appt, now); err != nil {
			return err
		}
		result = appt
		return service.Record(ctx, tx, model.EventChangeRequestApproved, appt.ID, actor.UserID, now,
			decision{ChangeRequestID: cr.ID, AppointmentID: appt.ID, Appointment: appt})
	})
	if err != nil {
		return nil, service.FromStore(s.log, op, "change request", id, err)
	}

	s.log.Info("change request approved", "change_request_id", id, "appointment_id", result.ID, "approved_by", actor.UserID)
	return result, nil
}

func (s *Service) move(ctx context.Context, tx repository.Tx, op string, cr *model.ChangeRequest, appt *model.Appointment, now time.Time) error {
	newAt := *cr.NewScheduledAt
	if !newAt.After(now) {
		return errors.InvalidState("the proposed time is no longer in the future")
	}
	minutes := appt.DurationMinutes
	if cr.NewDurationMinutes != nil {
		minutes = *cr.NewDurationMinutes
	}

	local := newAt.In(s.loc)
	start := model.TimeOfDayOf(local)
	target, err := tx.Availability().FindWindow(ctx, appt.CaregiverID, model.DateOf(local), start,
		start.Add(time.Duration(minutes)*time.Minute))
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			s.log.Warn("target slot no longer available", "operation", op,
				"change_request_id", cr.ID, "caregiver_id", appt.CaregiverID, "scheduled_at", newAt)
			return errors.Conflict("the requested slot is no longer available", err)
		}
		return err
	}

	taken, err := tx.Appointments().ExistsAt(ctx, appt.CaregiverID, newAt, &appt.ID)
	if err != nil {
		return err
	}
	if taken {
		s.log.Warn("caregiver already booked at proposed time", "operation", op,
			"change_request_id", cr.ID, "scheduled_at", newAt)
		return errors.Conflict("caregiver already has an appointment at the requested time", nil)
	}

	appt.ScheduledAt = newAt
	appt.DurationMinutes = minutes
	if err := tx.Appointments().Update(ctx, appt); err != nil {
		return err
	}

	if err := tx.Availability().Delete(ctx, target.ID); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return errors.Conflict("the requested slot is no longer available", err)
		}
		return err
	}

	if !cr.OldScheduledAt.After(now) {
		s.log.Warn("vacated window has already started, not restoring", "operation", op,
			"change_request_id", cr.ID, "old_scheduled_at", cr.OldScheduledAt)
		return nil
	}

	oldLocal := cr.OldScheduledAt.In(s.loc)
	oldStart := model.TimeOfDayOf(oldLocal)
	restored := &model.AvailabilitySlot{
		CaregiverID: appt.CaregiverID,
		Date:        model.DateOf(oldLocal),
		StartTime:   oldStart,
		EndTime:     oldStart.Add(time.Duration(cr.OldDurationMinutes) * time.Minute),
	}
	if cr.OldDurationMinutes <= 0 || !restored.EndTime.Valid() {
		s.log.Warn("vacated window does not fit in one day, not restoring", "operation", op,
			"change_request_id", cr.ID, "old_scheduled_at", cr.OldScheduledAt)
		return nil
	}
	created, err := tx.Availability().CreateIfAbsent(ctx, restored)
	if err != nil {
		return err
	}
	if !created {
		s.log.Debug("vacated window already offered", "operation", op, "change_request_id", cr.ID)
	}
	return nil
}

// RejectChangeRequest closes the request without touching the appointment
// or any slot.
func (s *Service) RejectChangeRequest(ctx context.Context, actor model.Actor, id uuid.UUID) (err error) {
	const op = "RejectChangeRequest"
	ctx, span := service.StartSpan(ctx, "negotiation."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		cr, _, err := s.respondable(ctx, tx, actor, id, "reject")
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.ChangeRequests().Respond(ctx, cr.ID, model.ChangeRequestStatusRejected, actor.UserID, now); err != nil {
			if stderrors.Is(err, repository.ErrStale) {
				return errors.InvalidState("change request has already been processed")
			}
			return err
		}
		return service.Record(ctx, tx, model.EventChangeRequestRejected, cr.AppointmentID, actor.UserID, now,
			decision{ChangeRequestID: cr.ID, AppointmentID: cr.AppointmentID})
	})
	if err != nil {
		return service.FromStore(s.log, op, "change request", id, err)
	}

	s.log.Info("change request rejected", "change_request_id", id, "rejected_by", actor.UserID)
	return nil
}

// CancelChangeRequest withdraws a pending request. Only its author may do
// so and no record is kept.
func (s *Service) CancelChangeRequest(ctx context.Context, actor model.Actor, id uuid.UUID) (err error) {
	const op = "CancelChangeRequest"
	ctx, span := service.StartSpan(ctx, "negotiation."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		cr, err := tx.ChangeRequests().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !cr.IsPending() {
			return errors.InvalidState("change request has already been " + string(cr.Status))
		}
		if cr.RequestedBy != actor.UserID {
			return errors.AccessDenied("only the requester can cancel a change request")
		}
		if err := tx.ChangeRequests().DeletePending(ctx, cr.ID); err != nil {
			if stderrors.Is(err, repository.ErrStale) {
				return errors.InvalidState("change request has already been processed")
			}
			return err
		}
		return service.Record(ctx, tx, model.EventChangeRequestCancelled, cr.AppointmentID, actor.UserID, s.now(),
			decision{ChangeRequestID: cr.ID, AppointmentID: cr.AppointmentID})
	})
	if err != nil {
		return service.FromStore(s.log, op, "change request", id, err)
	}

	s.log.Info("change request cancelled", "change_request_id", id, "cancelled_by", actor.UserID)
	return nil
}

func (s *Service) GetChangeRequest(ctx context.Context, actor model.Actor, id uuid.UUID) (cr *model.ChangeRequest, err error) {
	const op = "GetChangeRequest"
	ctx, span := service.StartSpan(ctx, "negotiation."+op)
	defer service.EndSpan(span, &err)
	defer errors.Recover(&err, s.log, op)

	cr, err = s.store.ChangeRequests().Get(ctx, id)
	if err != nil {
		return nil, service.FromStore(s.log, op, "change request", id, err)
	}
	if actor.IsAdmin() {
		return cr, nil
	}
	appt, err := s.store.Appointments().Get(ctx, cr.AppointmentID)
	if err != nil {
		return nil, service.FromStore(s.log, op, "appointment", cr.AppointmentID, err)
	}
	if !appt.IsParticipant(actor.UserID) {
		return nil, errors.AccessDenied("not a participant of this appointment")
	}
	return cr, nil
}

// ListChangeRequests returns the request history of one appointment, newest
// first.
func (s *Service) ListChangeRequests(ctx context.Context, actor model.Actor, appointmentID uuid.UUID, page model.Pagination) (list []*model.ChangeRequest, err error) {
	const op = "ListChangeRequests"
	ctx, span := service.StartSpan(ctx, "negotiation."+op)
	defer service.EndSpan(span, &err)
	defer errors.Recover(&err, s.log, op)

	appt, err := s.store.Appointments().Get(ctx, appointmentID)
	if err != nil {
		return nil, service.FromStore(s.log, op, "appointment", appointmentID, err)
	}
	if !service.CanAccess(actor, appt) {
		return nil, errors.AccessDenied("not a participant of this appointment")
	}

	list, err = s.store.ChangeRequests().List(ctx, &model.ChangeRequestFilters{
		AppointmentID: appointmentID,
		Pagination:    page,
	})
	if err != nil {
		return nil, errors.Normalize(err, s.log, op)
	}
	return list, nil
}

// ListPendingForUser returns the pending requests waiting on the actor's
// answer. Admins see every pending request they did not author.
func (s *Service) ListPendingForUser(ctx context.Context, actor model.Actor, page model.Pagination) (list []*model.ChangeRequest, err error) {
	const op = "ListPendingForUser"
	ctx, span := service.StartSpan(ctx, "negotiation."+op)
	defer service.EndSpan(span, &err)
	defer errors.Recover(&err, s.log, op)

	filters := &model.ChangeRequestFilters{
		Status:             model.ChangeRequestStatusPending,
		ExcludeRequestedBy: actor.UserID,
		Pagination:         page,
	}
	if !actor.IsAdmin() {
		filters.ParticipantID = actor.UserID
	}

	list, err = s.store.ChangeRequests().List(ctx, filters)
	if err != nil {
		return nil, errors.Normalize(err, s.log, op)
	}
	return list, nil
}
