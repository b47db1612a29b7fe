// Package availability owns the write path of caregiver availability slots.
package availability

import (
	"context"
	stderrors "errors"
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

// Rules bound how a window may be divided into slots.
type Rules struct {
	DefaultSlotMinutes int
	MinSlotMinutes     int
	MaxSlotMinutes     int
	MaxSlotsPerWindow  int
}

type Service struct {
	store   repository.Store
	users   Directory
	rules   Rules
	log     *logger.Logger
	metrics *metrics.Metrics
	loc     *time.Location
	now     func() time.Time
}

func NewService(store repository.Store, users Directory, rules Rules, log *logger.Logger, m *metrics.Metrics, opts service.Options) *Service {
	opts = opts.Defaults()
	return &Service{
		store:   store,
		users:   users,
		rules:   rules,
		log:     log,
		metrics: m,
		loc:     opts.Location,
		now:     opts.Now,
	}
}

func (s *Service) track(op string, start time.Time, errp *error) {
	s.metrics.AvailabilityOperations.WithLabelValues(op, service.Outcome(*errp)).Inc()
	s.metrics.OperationLatency.WithLabelValues("availability." + op).Observe(time.Since(start).Seconds())
}

// owner resolves which caregiver the actor is acting for. Caregivers act for
// themselves; admins must name the caregiver.
func (s *Service) owner(ctx context.Context, op string, actor model.Actor, requested *uuid.UUID) (uuid.UUID, error) {
	caregiverID := actor.UserID
	if requested != nil {
		caregiverID = *requested
	}
	switch {
	case actor.IsAdmin():
		if requested == nil {
			return uuid.Nil, errors.InvalidInput("caregiver_id is required", nil)
		}
	case actor.Role == model.RoleCaregiver && caregiverID == actor.UserID:
	default:
		return uuid.Nil, errors.AccessDenied("only caregivers can manage their own availability")
	}

	ok, err := s.users.UserExists(ctx, caregiverID, model.RoleCaregiver)
	if err != nil {
		return uuid.Nil, service.FromStore(s.log, op, "user", caregiverID, err)
	}
	if !ok {
		s.log.Warn("caregiver missing or has the wrong role", "operation", op, "user_id", caregiverID)
		return uuid.Nil, errors.InvalidInput("caregiver "+caregiverID.String()+" does not exist", nil)
	}
	return caregiverID, nil
}

func parseWindow(date, start, end string) (model.Date, model.TimeOfDay, model.TimeOfDay, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return model.Date{}, 0, 0, errors.InvalidInput("invalid date", err)
	}
	from, err := model.ParseTimeOfDay(start)
	if err != nil {
		return model.Date{}, 0, 0, errors.InvalidInput("invalid start time", err)
	}
	to, err := model.ParseTimeOfDay(end)
	if err != nil {
		return model.Date{}, 0, 0, errors.InvalidInput("invalid end time", err)
	}
	if from >= to {
		return model.Date{}, 0, 0, errors.InvalidInput("start time must be before end time", nil)
	}
	return d, from, to, nil
}

func (s *Service) CreateSlot(ctx context.Context, actor model.Actor, req *model.CreateSlotRequest) (slot *model.AvailabilitySlot, err error) {
	const op = "CreateSlot"
	ctx, span := service.StartSpan(ctx, "availability."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	date, start, end, err := parseWindow(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	caregiverID, err := s.owner(ctx, op, actor, req.CaregiverID)
	if err != nil {
		return nil, err
	}

	slot = &model.AvailabilitySlot{
		CaregiverID: caregiverID,
		Date:        date,
		StartTime:   start,
		EndTime:     end,
	}
	if !slot.StartsAt(s.loc).After(s.now()) {
		return nil, errors.InvalidState("availability must start in the future")
	}

	if err := s.store.Availability().Create(ctx, slot); err != nil {
		if stderrors.Is(err, repository.ErrConflict) {
			s.log.Warn("duplicate availability slot", "operation", op, "caregiver_id", caregiverID,
				"date", date, "start", start, "end", end)
			return nil, errors.Conflict("an identical availability slot already exists", err)
		}
		return nil, service.FromStore(s.log, op, "availability slot", caregiverID, err)
	}
	return slot, nil
}

// CreateSlotsFromWindow divides [WindowStart, WindowEnd) into consecutive
// slots of SlotMinutes. A trailing remainder shorter than one slot is
// dropped; slots that already exist or have started are skipped.
func (s *Service) CreateSlotsFromWindow(ctx context.Context, actor model.Actor, req *model.CreateSlotWindowRequest) (created []*model.AvailabilitySlot, err error) {
	const op = "CreateSlotsFromWindow"
	ctx, span := service.StartSpan(ctx, "availability."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	date, windowStart, windowEnd, err := parseWindow(req.Date, req.WindowStart, req.WindowEnd)
	if err != nil {
		return nil, err
	}

	minutes := req.SlotMinutes
	if minutes == 0 {
		minutes = s.rules.DefaultSlotMinutes
	}
	if minutes < s.rules.MinSlotMinutes || minutes > s.rules.MaxSlotMinutes {
		return nil, errors.InvalidInput("slot length is outside the allowed range", nil)
	}
	length := time.Duration(minutes) * time.Minute
	count := int(windowEnd.Sub(windowStart) / length)
	if count == 0 {
		return nil, errors.InvalidInput("window is shorter than one slot", nil)
	}
	if count > s.rules.MaxSlotsPerWindow {
		return nil, errors.InvalidInput("window yields too many slots", nil)
	}

	caregiverID, err := s.owner(ctx, op, actor, req.CaregiverID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	created = make([]*model.AvailabilitySlot, 0, count)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		for i := 0; i < count; i++ {
			start := windowStart.Add(time.Duration(i) * length)
			slot := &model.AvailabilitySlot{
				CaregiverID: caregiverID,
				Date:        date,
				StartTime:   start,
				EndTime:     start.Add(length),
			}
			if !slot.StartsAt(s.loc).After(now) {
				continue
			}
			ok, err := tx.Availability().CreateIfAbsent(ctx, slot)
			if err != nil {
				return err
			}
			if ok {
				created = append(created, slot)
			}
		}
		return nil
	})
	if err != nil {
		return nil, service.FromStore(s.log, op, "availability slot", caregiverID, err)
	}

	s.log.Info("availability window divided", "caregiver_id", caregiverID, "date", date,
		"requested", count, "created", len(created))
	return created, nil
}

func (s *Service) DeleteSlot(ctx context.Context, actor model.Actor, id uuid.UUID) (err error) {
	const op = "DeleteSlot"
	ctx, span := service.StartSpan(ctx, "availability."+op)
	defer service.EndSpan(span, &err)
	defer s.track(op, time.Now(), &err)
	defer errors.Recover(&err, s.log, op)

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		slot, err := tx.Availability().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && slot.CaregiverID != actor.UserID {
			return errors.AccessDenied("only the owning caregiver or an admin can delete a slot")
		}
		return tx.Availability().Delete(ctx, id)
	})
	if err != nil {
		return service.FromStore(s.log, op, "availability slot", id, err)
	}
	return nil
}

// ListSlots returns slots ordered by date and start time.
func (s *Service) ListSlots(ctx context.Context, filters model.SlotFilters) (list []*model.AvailabilitySlot, err error) {
	const op = "ListSlots"
	ctx, span := service.StartSpan(ctx, "availability."+op)
	defer service.EndSpan(span, &err)
	defer errors.Recover(&err, s.log, op)

	list, err = s.store.Availability().List(ctx, &filters)
	if err != nil {
		return nil, errors.Normalize(err, s.log, op)
	}
	return list, nil
}
