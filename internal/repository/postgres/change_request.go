package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
)

const changeRequestColumns = `
	cr.id, cr.appointment_id, cr.requested_by, cr.old_task, cr.old_scheduled_at,
	cr.old_duration_minutes, cr.new_task, cr.new_scheduled_at, cr.new_duration_minutes,
	cr.status, cr.requested_at, cr.responded_at, cr.responded_by`

type changeRequestRepository struct {
	q sqlx.ExtContext
}

func (r *changeRequestRepository) Create(ctx context.Context, request *model.ChangeRequest) error {
	query := `
		INSERT INTO change_requests (
			id, appointment_id, requested_by, old_task, old_scheduled_at,
			old_duration_minutes, new_task, new_scheduled_at, new_duration_minutes,
			status, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	_, err := r.q.ExecContext(ctx, query,
		request.ID,
		request.AppointmentID,
		request.RequestedBy,
		request.OldTask,
		request.OldScheduledAt,
		request.OldDurationMinutes,
		request.NewTask,
		request.NewScheduledAt,
		request.NewDurationMinutes,
		request.Status,
		request.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create change request: %w", mapError(err))
	}
	return nil
}

func (r *changeRequestRepository) Get(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	return r.get(ctx, `SELECT`+changeRequestColumns+` FROM change_requests cr WHERE cr.id = $1`, id)
}

func (r *changeRequestRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	return r.get(ctx, `SELECT`+changeRequestColumns+` FROM change_requests cr WHERE cr.id = $1 FOR UPDATE`, id)
}

func (r *changeRequestRepository) get(ctx context.Context, query string, id uuid.UUID) (*model.ChangeRequest, error) {
	var request model.ChangeRequest
	if err := sqlx.GetContext(ctx, r.q, &request, query, id); err != nil {
		return nil, fmt.Errorf("failed to get change request: %w", mapError(err))
	}
	return &request, nil
}

func (r *changeRequestRepository) HasPending(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM change_requests
			WHERE appointment_id = $1 AND status = 'pending'
		)
	`
	var exists bool
	if err := sqlx.GetContext(ctx, r.q, &exists, query, appointmentID); err != nil {
		return false, fmt.Errorf("failed to check pending change requests: %w", err)
	}
	return exists, nil
}

func (r *changeRequestRepository) Respond(ctx context.Context, id uuid.UUID, status model.ChangeRequestStatus, by uuid.UUID, at time.Time) error {
	query := `
		UPDATE change_requests
		SET status = $1, responded_by = $2, responded_at = $3
		WHERE id = $4 AND status = 'pending'
	`
	result, err := r.q.ExecContext(ctx, query, status, by, at, id)
	if err != nil {
		return fmt.Errorf("failed to respond to change request: %w", err)
	}
	return affectedOne(result, repository.ErrStale)
}

func (r *changeRequestRepository) DeletePending(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM change_requests WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to delete change request: %w", err)
	}
	return affectedOne(result, repository.ErrStale)
}

func (r *changeRequestRepository) List(ctx context.Context, filters *model.ChangeRequestFilters) ([]*model.ChangeRequest, error) {
	query := `SELECT` + changeRequestColumns + `
		FROM change_requests cr
		JOIN appointments a ON a.id = cr.appointment_id
		WHERE 1=1`
	var args []interface{}
	argCount := 1

	if filters.AppointmentID != uuid.Nil {
		query += fmt.Sprintf(" AND cr.appointment_id = $%d", argCount)
		args = append(args, filters.AppointmentID)
		argCount++
	}
	if filters.ParticipantID != uuid.Nil {
		query += fmt.Sprintf(" AND (a.caregiver_id = $%d OR a.client_id = $%d)", argCount, argCount)
		args = append(args, filters.ParticipantID)
		argCount++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND cr.status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}
	if filters.ExcludeRequestedBy != uuid.Nil {
		query += fmt.Sprintf(" AND cr.requested_by <> $%d", argCount)
		args = append(args, filters.ExcludeRequestedBy)
		argCount++
	}

	page := filters.Pagination.Normalize()
	query += fmt.Sprintf(" ORDER BY cr.requested_at DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, page.Limit, page.Offset)

	var requests []*model.ChangeRequest
	if err := sqlx.SelectContext(ctx, r.q, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list change requests: %w", err)
	}
	return requests, nil
}
