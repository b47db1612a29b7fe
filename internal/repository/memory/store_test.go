package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
)

func newSlot(caregiverID uuid.UUID, day string, start, end model.TimeOfDay) *model.AvailabilitySlot {
	d, _ := model.ParseDate(day)
	return &model.AvailabilitySlot{CaregiverID: caregiverID, Date: d, StartTime: start, EndTime: end}
}

func TestAvailabilityUniqueWindow(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	caregiver := uuid.New()

	slot := newSlot(caregiver, "2026-04-01", 540, 600)
	require.NoError(t, store.Availability().Create(ctx, slot))
	assert.NotEqual(t, uuid.Nil, slot.ID)

	err := store.Availability().Create(ctx, newSlot(caregiver, "2026-04-01", 540, 600))
	assert.ErrorIs(t, err, repository.ErrConflict)

	created, err := store.Availability().CreateIfAbsent(ctx, newSlot(caregiver, "2026-04-01", 540, 600))
	require.NoError(t, err)
	assert.False(t, created)

	created, err = store.Availability().CreateIfAbsent(ctx, newSlot(caregiver, "2026-04-01", 600, 660))
	require.NoError(t, err)
	assert.True(t, created)

	found, err := store.Availability().FindWindow(ctx, caregiver, slot.Date, 540, 600)
	require.NoError(t, err)
	assert.Equal(t, slot.ID, found.ID)

	_, err = store.Availability().FindWindow(ctx, caregiver, slot.Date, 540, 570)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAvailabilityListAndPrune(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	a, b := uuid.New(), uuid.New()

	for _, s := range []*model.AvailabilitySlot{
		newSlot(a, "2026-04-02", 600, 660),
		newSlot(a, "2026-04-01", 540, 600),
		newSlot(a, "2026-04-01", 480, 540),
		newSlot(b, "2026-04-01", 480, 540),
	} {
		require.NoError(t, store.Availability().Create(ctx, s))
	}

	list, err := store.Availability().List(ctx, &model.SlotFilters{CaregiverID: a})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, model.TimeOfDay(480), list[0].StartTime)
	assert.Equal(t, model.TimeOfDay(540), list[1].StartTime)
	assert.Equal(t, "2026-04-02", list[2].Date.String())

	from, _ := model.ParseDate("2026-04-02")
	list, err = store.Availability().List(ctx, &model.SlotFilters{From: from})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	n, err := store.Availability().DeleteBefore(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	err = store.Availability().Delete(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAppointmentDoubleBooking(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	caregiver := uuid.New()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	first := &model.Appointment{CaregiverID: caregiver, ClientID: uuid.New(), ScheduledAt: at, DurationMinutes: 60, Status: model.AppointmentStatusScheduled}
	require.NoError(t, store.Appointments().Create(ctx, first))

	second := &model.Appointment{CaregiverID: caregiver, ClientID: uuid.New(), ScheduledAt: at, DurationMinutes: 60, Status: model.AppointmentStatusScheduled}
	assert.ErrorIs(t, store.Appointments().Create(ctx, second), repository.ErrConflict)

	exists, err := store.Appointments().ExistsAt(ctx, caregiver, at, nil)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Appointments().ExistsAt(ctx, caregiver, at, &first.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	first.Status = model.AppointmentStatusCancelled
	require.NoError(t, store.Appointments().Update(ctx, first))
	require.NoError(t, store.Appointments().Create(ctx, second))

	// a cancelled visit cannot be revived over the new booking
	first.Status = model.AppointmentStatusScheduled
	assert.ErrorIs(t, store.Appointments().Update(ctx, first), repository.ErrConflict)
}

func TestAppointmentCompleteAndCascade(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	appt := &model.Appointment{CaregiverID: uuid.New(), ClientID: uuid.New(), ScheduledAt: at, DurationMinutes: 30, Status: model.AppointmentStatusScheduled}
	require.NoError(t, store.Appointments().Create(ctx, appt))
	require.NoError(t, store.ChangeRequests().Create(ctx, &model.ChangeRequest{
		AppointmentID: appt.ID, RequestedBy: appt.ClientID, Status: model.ChangeRequestStatusPending, RequestedAt: at,
	}))

	n, err := store.Appointments().CompleteEndedBefore(ctx, at.Add(29*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.Appointments().CompleteEndedBefore(ctx, at.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Appointments().Get(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, got.Status)

	require.NoError(t, store.Appointments().Delete(ctx, appt.ID))
	list, err := store.ChangeRequests().List(ctx, &model.ChangeRequestFilters{AppointmentID: appt.ID})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestChangeRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	appointmentID := uuid.New()
	by := uuid.New()
	now := time.Now()

	cr := &model.ChangeRequest{AppointmentID: appointmentID, RequestedBy: by, Status: model.ChangeRequestStatusPending, RequestedAt: now}
	require.NoError(t, store.ChangeRequests().Create(ctx, cr))

	dup := &model.ChangeRequest{AppointmentID: appointmentID, RequestedBy: by, Status: model.ChangeRequestStatusPending, RequestedAt: now}
	assert.ErrorIs(t, store.ChangeRequests().Create(ctx, dup), repository.ErrConflict)

	responder := uuid.New()
	require.NoError(t, store.ChangeRequests().Respond(ctx, cr.ID, model.ChangeRequestStatusRejected, responder, now))
	assert.ErrorIs(t, store.ChangeRequests().Respond(ctx, cr.ID, model.ChangeRequestStatusApproved, responder, now), repository.ErrStale)
	assert.ErrorIs(t, store.ChangeRequests().DeletePending(ctx, cr.ID), repository.ErrStale)

	got, err := store.ChangeRequests().Get(ctx, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChangeRequestStatusRejected, got.Status)
	require.NotNil(t, got.RespondedBy)
	assert.Equal(t, responder, *got.RespondedBy)

	pending, err := store.ChangeRequests().HasPending(ctx, appointmentID)
	require.NoError(t, err)
	assert.False(t, pending)

	// the slot frees up once the previous request is terminal
	require.NoError(t, store.ChangeRequests().Create(ctx, dup))
	require.NoError(t, store.ChangeRequests().DeletePending(ctx, dup.ID))
}

func TestChangeRequestListByParticipant(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	caregiver, client := uuid.New(), uuid.New()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	mine := &model.Appointment{CaregiverID: caregiver, ClientID: client, ScheduledAt: base, DurationMinutes: 60, Status: model.AppointmentStatusScheduled}
	other := &model.Appointment{CaregiverID: uuid.New(), ClientID: uuid.New(), ScheduledAt: base, DurationMinutes: 60, Status: model.AppointmentStatusScheduled}
	require.NoError(t, store.Appointments().Create(ctx, mine))
	require.NoError(t, store.Appointments().Create(ctx, other))

	older := &model.ChangeRequest{AppointmentID: mine.ID, RequestedBy: client, Status: model.ChangeRequestStatusRejected, RequestedAt: base}
	newer := &model.ChangeRequest{AppointmentID: mine.ID, RequestedBy: client, Status: model.ChangeRequestStatusPending, RequestedAt: base.Add(time.Hour)}
	foreign := &model.ChangeRequest{AppointmentID: other.ID, RequestedBy: other.ClientID, Status: model.ChangeRequestStatusPending, RequestedAt: base}
	for _, cr := range []*model.ChangeRequest{older, newer, foreign} {
		require.NoError(t, store.ChangeRequests().Create(ctx, cr))
	}

	list, err := store.ChangeRequests().List(ctx, &model.ChangeRequestFilters{ParticipantID: caregiver})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	list, err = store.ChangeRequests().List(ctx, &model.ChangeRequestFilters{Status: model.ChangeRequestStatusPending})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = store.ChangeRequests().List(ctx, &model.ChangeRequestFilters{
		ParticipantID:      caregiver,
		ExcludeRequestedBy: client,
	})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWithTxRollback(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	caregiver := uuid.New()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.Availability().Create(ctx, newSlot(caregiver, "2026-04-01", 540, 600)))
		require.NoError(t, tx.Outbox().Append(ctx, &model.OutboxEvent{EventType: model.EventAppointmentBooked}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	list, err := store.Availability().List(ctx, &model.SlotFilters{})
	require.NoError(t, err)
	assert.Empty(t, list)

	events, err := store.Outbox().FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	err = store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Availability().Create(ctx, newSlot(caregiver, "2026-04-01", 540, 600))
	})
	require.NoError(t, err)
	list, err = store.Availability().List(ctx, &model.SlotFilters{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, store.WithTx(cancelled, func(repository.Tx) error { return nil }), context.Canceled)
}

func TestOutbox(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		e := &model.OutboxEvent{
			AggregateID: uuid.New(),
			EventType:   model.EventAppointmentBooked,
			Payload:     []byte(`{}`),
			CreatedAt:   start.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Outbox().Append(ctx, e))
		ids = append(ids, e.ID)
	}

	batch, err := store.Outbox().FetchUnpublished(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, ids[0], batch[0].ID)
	assert.Equal(t, ids[1], batch[1].ID)

	require.NoError(t, store.Outbox().MarkPublished(ctx, []uuid.UUID{ids[0]}, start.Add(time.Hour)))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Outbox().MarkFailed(ctx, ids[1], "broker down"))
	}

	batch, err = store.Outbox().FetchUnpublished(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, ids[2], batch[0].ID)

	batch, err = store.Outbox().FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, 3, batch[0].Attempts)
	require.NotNil(t, batch[0].LastError)
	assert.Equal(t, "broker down", *batch[0].LastError)

	n, err := store.Outbox().DeletePublishedBefore(ctx, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUsers(t *testing.T) {
	store := NewStore()
	id := uuid.New()
	store.AddUser(model.User{Base: model.Base{ID: id}, Name: "Ada", Role: model.RoleCaregiver})

	u, err := store.Users().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)

	_, err = store.Users().Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
