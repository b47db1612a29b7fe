package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestAvailabilityCreateConflict(t *testing.T) {
	store, mock := newMock(t)
	slot := &model.AvailabilitySlot{CaregiverID: uuid.New(), StartTime: 540, EndTime: 600}
	slot.Date, _ = model.ParseDate("2026-04-01")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO availability_slots")).
		WithArgs(sqlmock.AnyArg(), slot.CaregiverID, "2026-04-01", "09:00:00", "10:00:00", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "availability_slots_window_key"})

	err := store.Availability().Create(context.Background(), slot)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Contains(t, err.Error(), "availability_slots_window_key")
	assert.NotEqual(t, uuid.Nil, slot.ID)
}

func TestAvailabilityCreateIfAbsent(t *testing.T) {
	store, mock := newMock(t)
	slot := &model.AvailabilitySlot{CaregiverID: uuid.New(), StartTime: 540, EndTime: 600}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (caregiver_id, slot_date, start_time, end_time) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (caregiver_id, slot_date, start_time, end_time) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := store.Availability().CreateIfAbsent(context.Background(), slot)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = store.Availability().CreateIfAbsent(context.Background(), slot)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAvailabilityGet(t *testing.T) {
	store, mock := newMock(t)
	id, caregiver := uuid.New(), uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "caregiver_id", "slot_date", "start_time", "end_time", "created_at"}).
		AddRow(id.String(), caregiver.String(), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), "09:00:00", "10:30:00", now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM availability_slots WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(rows)

	slot, err := store.Availability().GetForUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, caregiver, slot.CaregiverID)
	assert.Equal(t, "2026-04-01", slot.Date.String())
	assert.Equal(t, 90*time.Minute, slot.Duration())

	mock.ExpectQuery(regexp.QuoteMeta("FROM availability_slots WHERE id = $1")).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)
	_, err = store.Availability().Get(context.Background(), id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAvailabilityListFilters(t *testing.T) {
	store, mock := newMock(t)
	caregiver := uuid.New()
	from, _ := model.ParseDate("2026-04-01")

	mock.ExpectQuery(regexp.QuoteMeta("AND caregiver_id = $1 AND slot_date >= $2 ORDER BY slot_date ASC, start_time ASC LIMIT $3 OFFSET $4")).
		WithArgs(caregiver, "2026-04-01", 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "caregiver_id", "slot_date", "start_time", "end_time", "created_at"}))

	list, err := store.Availability().List(context.Background(), &model.SlotFilters{
		CaregiverID: caregiver,
		From:        from,
		Pagination:  model.Pagination{Limit: 10, Offset: 20},
	})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAppointmentUpdateMissing(t *testing.T) {
	store, mock := newMock(t)
	appt := &model.Appointment{Base: model.Base{ID: uuid.New()}, Status: model.AppointmentStatusCancelled}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE appointments")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Appointments().Update(context.Background(), appt)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAppointmentExistsAt(t *testing.T) {
	store, mock := newMock(t)
	caregiver, exclude := uuid.New(), uuid.New()
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("AND status <> 'cancelled'")).
		WithArgs(caregiver, at, exclude).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.Appointments().ExistsAt(context.Background(), caregiver, at, &exclude)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAppointmentCompleteEndedBefore(t *testing.T) {
	store, mock := newMock(t)
	cutoff := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'completed'")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Appointments().CompleteEndedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestChangeRequestRespondStale(t *testing.T) {
	store, mock := newMock(t)
	id, by := uuid.New(), uuid.New()
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $4 AND status = 'pending'")).
		WithArgs(model.ChangeRequestStatusApproved, by, at, id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.ChangeRequests().Respond(context.Background(), id, model.ChangeRequestStatusApproved, by, at)
	assert.ErrorIs(t, err, repository.ErrStale)
}

func TestChangeRequestCreatePendingConflict(t *testing.T) {
	store, mock := newMock(t)
	task := "bring groceries"
	cr := &model.ChangeRequest{AppointmentID: uuid.New(), RequestedBy: uuid.New(), NewTask: &task, Status: model.ChangeRequestStatusPending}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO change_requests")).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "change_requests_one_pending"})

	err := store.ChangeRequests().Create(context.Background(), cr)
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestChangeRequestListParticipant(t *testing.T) {
	store, mock := newMock(t)
	user := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("AND (a.caregiver_id = $1 OR a.client_id = $1) AND cr.status = $2 ORDER BY cr.requested_at DESC")).
		WithArgs(user, model.ChangeRequestStatusPending, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.ChangeRequests().List(context.Background(), &model.ChangeRequestFilters{
		ParticipantID: user,
		Status:        model.ChangeRequestStatusPending,
	})
	require.NoError(t, err)
}

func TestChangeRequestListExcludesAuthorBeforePaging(t *testing.T) {
	store, mock := newMock(t)
	user := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("AND cr.status = $2 AND cr.requested_by <> $3 ORDER BY cr.requested_at DESC LIMIT $4 OFFSET $5")).
		WithArgs(user, model.ChangeRequestStatusPending, user, 1, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.ChangeRequests().List(context.Background(), &model.ChangeRequestFilters{
		ParticipantID:      user,
		ExcludeRequestedBy: user,
		Status:             model.ChangeRequestStatusPending,
		Pagination:         model.Pagination{Limit: 1},
	})
	require.NoError(t, err)
}

func TestOutboxFetchAndMark(t *testing.T) {
	store, mock := newMock(t)
	id, aggregate := uuid.New(), uuid.New()
	created := time.Now()

	rows := sqlmock.NewRows([]string{"id", "aggregate_id", "event_type", "payload", "attempts", "last_error", "created_at", "published_at"}).
		AddRow(id.String(), aggregate.String(), model.EventAppointmentBooked, []byte(`{"a":1}`), 2, "timeout", created, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(10, 25).
		WillReturnRows(rows)

	events, err := store.Outbox().FetchUnpublished(context.Background(), 25, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, aggregate, events[0].AggregateID)
	assert.Equal(t, 2, events[0].Attempts)
	require.NotNil(t, events[0].LastError)
	assert.Nil(t, events[0].PublishedAt)
	assert.JSONEq(t, `{"a":1}`, string(events[0].Payload))

	at := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ANY($2::uuid[])")).
		WithArgs(at, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Outbox().MarkPublished(context.Background(), []uuid.UUID{id}, at))

	// no round trip for an empty batch
	require.NoError(t, store.Outbox().MarkPublished(context.Background(), nil, at))

	mock.ExpectExec(regexp.QuoteMeta("SET attempts = attempts + 1")).
		WithArgs("broker down", id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Outbox().MarkFailed(context.Background(), id, "broker down"))
}

func TestWithTx(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Outbox().Append(ctx, &model.OutboxEvent{EventType: model.EventAppointmentDeleted, Payload: []byte(`{}`)})
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = store.WithTx(ctx, func(tx repository.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.Panics(t, func() {
		_ = store.WithTx(ctx, func(tx repository.Tx) error { panic("bad") })
	})
}

func TestUserGet(t *testing.T) {
	store, mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role", "created_at", "updated_at"}).
			AddRow(id.String(), "c@example.com", "Cleo", "client", time.Now(), time.Now()))

	user, err := store.Users().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.RoleClient, user.Role)
}
