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

const appointmentColumns = `
	id, caregiver_id, client_id, scheduled_at, duration_minutes,
	task, status, created_at, updated_at`

type appointmentRepository struct {
	q sqlx.ExtContext
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, caregiver_id, client_id, scheduled_at, duration_minutes,
			task, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	now := time.Now()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	_, err := r.q.ExecContext(ctx, query,
		appointment.ID,
		appointment.CaregiverID,
		appointment.ClientID,
		appointment.ScheduledAt,
		appointment.DurationMinutes,
		appointment.Task,
		appointment.Status,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", mapError(err))
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.get(ctx, `SELECT`+appointmentColumns+` FROM appointments WHERE id = $1`, id)
}

func (r *appointmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.get(ctx, `SELECT`+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
}

func (r *appointmentRepository) get(ctx context.Context, query string, id uuid.UUID) (*model.Appointment, error) {
	var appointment model.Appointment
	if err := sqlx.GetContext(ctx, r.q, &appointment, query, id); err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", mapError(err))
	}
	return &appointment, nil
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	query := `
		UPDATE appointments
		SET scheduled_at = $1, duration_minutes = $2, task = $3, status = $4, updated_at = $5
		WHERE id = $6
	`
	appointment.UpdatedAt = time.Now()

	result, err := r.q.ExecContext(ctx, query,
		appointment.ScheduledAt,
		appointment.DurationMinutes,
		appointment.Task,
		appointment.Status,
		appointment.UpdatedAt,
		appointment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", mapError(err))
	}
	return affectedOne(result, repository.ErrNotFound)
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	return affectedOne(result, repository.ErrNotFound)
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	query := `SELECT` + appointmentColumns + ` FROM appointments WHERE 1=1`
	var args []interface{}
	argCount := 1

	if filters.CaregiverID != uuid.Nil {
		query += fmt.Sprintf(" AND caregiver_id = $%d", argCount)
		args = append(args, filters.CaregiverID)
		argCount++
	}
	if filters.ClientID != uuid.Nil {
		query += fmt.Sprintf(" AND client_id = $%d", argCount)
		args = append(args, filters.ClientID)
		argCount++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}
	if !filters.From.IsZero() {
		query += fmt.Sprintf(" AND scheduled_at >= $%d", argCount)
		args = append(args, filters.From)
		argCount++
	}
	if !filters.To.IsZero() {
		query += fmt.Sprintf(" AND scheduled_at < $%d", argCount)
		args = append(args, filters.To)
		argCount++
	}

	page := filters.Pagination.Normalize()
	query += fmt.Sprintf(" ORDER BY scheduled_at ASC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, page.Limit, page.Offset)

	var appointments []*model.Appointment
	if err := sqlx.SelectContext(ctx, r.q, &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) ExistsAt(ctx context.Context, caregiverID uuid.UUID, at time.Time, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE caregiver_id = $1
			AND scheduled_at = $2
			AND status <> 'cancelled'
	`
	args := []interface{}{caregiverID, at}

	if excludeID != nil {
		query += " AND id <> $3"
		args = append(args, *excludeID)
	}

	query += ")"

	var exists bool
	if err := sqlx.GetContext(ctx, r.q, &exists, query, args...); err != nil {
		return false, fmt.Errorf("failed to check booking: %w", err)
	}
	return exists, nil
}

func (r *appointmentRepository) CompleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE appointments
		SET status = 'completed', updated_at = NOW()
		WHERE status = 'scheduled'
		AND scheduled_at + make_interval(mins => duration_minutes) <= $1
	`
	result, err := r.q.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to complete appointments: %w", err)
	}
	return result.RowsAffected()
}
