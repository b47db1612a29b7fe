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

const slotColumns = ` id, caregiver_id, slot_date, start_time, end_time, created_at `

type availabilityRepository struct {
	q sqlx.ExtContext
}

func (r *availabilityRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	query := `
		INSERT INTO availability_slots (` + slotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	prepareSlot(slot)
	_, err := r.q.ExecContext(ctx, query,
		slot.ID, slot.CaregiverID, slot.Date, slot.StartTime, slot.EndTime, slot.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create availability slot: %w", mapError(err))
	}
	return nil
}

func (r *availabilityRepository) CreateIfAbsent(ctx context.Context, slot *model.AvailabilitySlot) (bool, error) {
	query := `
		INSERT INTO availability_slots (` + slotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (caregiver_id, slot_date, start_time, end_time) DO NOTHING
	`
	prepareSlot(slot)
	result, err := r.q.ExecContext(ctx, query,
		slot.ID, slot.CaregiverID, slot.Date, slot.StartTime, slot.EndTime, slot.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to restore availability slot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func prepareSlot(slot *model.AvailabilitySlot) {
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now()
	}
}

func (r *availabilityRepository) Get(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	return r.get(ctx, `SELECT`+slotColumns+`FROM availability_slots WHERE id = $1`, id)
}

func (r *availabilityRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	return r.get(ctx, `SELECT`+slotColumns+`FROM availability_slots WHERE id = $1 FOR UPDATE`, id)
}

func (r *availabilityRepository) FindWindow(ctx context.Context, caregiverID uuid.UUID, date model.Date, start, end model.TimeOfDay) (*model.AvailabilitySlot, error) {
	query := `SELECT` + slotColumns + `FROM availability_slots
		WHERE caregiver_id = $1 AND slot_date = $2 AND start_time = $3 AND end_time = $4
		FOR UPDATE`
	return r.get(ctx, query, caregiverID, date, start, end)
}

func (r *availabilityRepository) get(ctx context.Context, query string, args ...interface{}) (*model.AvailabilitySlot, error) {
	var slot model.AvailabilitySlot
	if err := sqlx.GetContext(ctx, r.q, &slot, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get availability slot: %w", mapError(err))
	}
	return &slot, nil
}

func (r *availabilityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM availability_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete availability slot: %w", err)
	}
	return affectedOne(result, repository.ErrNotFound)
}

func (r *availabilityRepository) List(ctx context.Context, filters *model.SlotFilters) ([]*model.AvailabilitySlot, error) {
	query := `SELECT` + slotColumns + `FROM availability_slots WHERE 1=1`
	var args []interface{}
	argCount := 1

	if filters.CaregiverID != uuid.Nil {
		query += fmt.Sprintf(" AND caregiver_id = $%d", argCount)
		args = append(args, filters.CaregiverID)
		argCount++
	}
	if !filters.From.IsZero() {
		query += fmt.Sprintf(" AND slot_date >= $%d", argCount)
		args = append(args, filters.From)
		argCount++
	}
	if !filters.To.IsZero() {
		query += fmt.Sprintf(" AND slot_date <= $%d", argCount)
		args = append(args, filters.To)
		argCount++
	}

	page := filters.Pagination.Normalize()
	query += fmt.Sprintf(" ORDER BY slot_date ASC, start_time ASC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, page.Limit, page.Offset)

	var slots []*model.AvailabilitySlot
	if err := sqlx.SelectContext(ctx, r.q, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list availability slots: %w", err)
	}
	return slots, nil
}

func (r *availabilityRepository) DeleteBefore(ctx context.Context, date model.Date) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM availability_slots WHERE slot_date < $1`, date)
	if err != nil {
		return 0, fmt.Errorf("failed to prune availability slots: %w", err)
	}
	return result.RowsAffected()
}
