package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write would violate a uniqueness constraint.
	ErrConflict = errors.New("unique constraint violated")
	// ErrStale is returned by conditional writes whose precondition no longer holds.
	ErrStale = errors.New("record changed concurrently")
)

// All repository interfaces in one file
type (
	AvailabilityRepository interface {
		// Create fails with ErrConflict on a duplicate caregiver window.
		Create(ctx context.Context, slot *model.AvailabilitySlot) error
		// CreateIfAbsent inserts slot unless the identical window exists and
		// reports whether a row was written.
		CreateIfAbsent(ctx context.Context, slot *model.AvailabilitySlot) (bool, error)
		Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error)
		// GetForUpdate locks the slot row for the rest of the transaction.
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error)
		FindWindow(ctx context.Context, caregiverID uuid.UUID, date model.Date, start, end model.TimeOfDay) (*model.AvailabilitySlot, error)
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filters *model.SlotFilters) ([]*model.AvailabilitySlot, error)
		DeleteBefore(ctx context.Context, date model.Date) (int64, error)
	}

	AppointmentRepository interface {
		// Create fails with ErrConflict when the caregiver is already booked at
		// the same instant.
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Update(ctx context.Context, appointment *model.Appointment) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)
		ExistsAt(ctx context.Context, caregiverID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error)
		CompleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	ChangeRequestRepository interface {
		// Create fails with ErrConflict when the appointment already has a
		// pending request.
		Create(ctx context.Context, request *model.ChangeRequest) error
		Get(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error)
		GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error)
		HasPending(ctx context.Context, appointmentID uuid.UUID) (bool, error)
		// Respond moves a pending request to a terminal status. It returns
		// ErrStale when the request is no longer pending.
		Respond(ctx context.Context, id uuid.UUID, status model.ChangeRequestStatus, by uuid.UUID, at time.Time) error
		// DeletePending removes a pending request, ErrStale otherwise.
		DeletePending(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filters *model.ChangeRequestFilters) ([]*model.ChangeRequest, error)
	}

	// OutboxRepository stores domain events until the relay publishes them.
	OutboxRepository interface {
		Append(ctx context.Context, event *model.OutboxEvent) error
		// FetchUnpublished returns the oldest unpublished events with fewer
		// than maxAttempts failures. Inside a transaction the rows stay
		// locked against other relays.
		FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]*model.OutboxEvent, error)
		MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
		DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	UserRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
	}

	// Tx exposes the repositories bound to one unit of work.
	Tx interface {
		Availability() AvailabilityRepository
		Appointments() AppointmentRepository
		ChangeRequests() ChangeRequestRepository
		Outbox() OutboxRepository
	}

	// Store is the scheduling persistence root. The embedded Tx accessors run
	// each call on its own; WithTx commits everything fn did or nothing.
	Store interface {
		Tx
		Users() UserRepository
		WithTx(ctx context.Context, fn func(tx Tx) error) error
		Ping(ctx context.Context) error
	}
)
