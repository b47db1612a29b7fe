package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/care-scheduling-api/internal/repository"
)

const uniqueViolation = "23505"

// Store implements repository.Store on top of a postgres pool. Repositories
// are built per call over either the pool or an open transaction.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type txRepos struct {
	q sqlx.ExtContext
}

func (t txRepos) Availability() repository.AvailabilityRepository {
	return &availabilityRepository{q: t.q}
}

func (t txRepos) Appointments() repository.AppointmentRepository {
	return &appointmentRepository{q: t.q}
}

func (t txRepos) ChangeRequests() repository.ChangeRequestRepository {
	return &changeRequestRepository{q: t.q}
}

func (t txRepos) Outbox() repository.OutboxRepository {
	return &outboxRepository{q: t.q}
}

func (s *Store) Availability() repository.AvailabilityRepository {
	return txRepos{q: s.db}.Availability()
}

func (s *Store) Appointments() repository.AppointmentRepository {
	return txRepos{q: s.db}.Appointments()
}

func (s *Store) ChangeRequests() repository.ChangeRequestRepository {
	return txRepos{q: s.db}.ChangeRequests()
}

func (s *Store) Outbox() repository.OutboxRepository {
	return txRepos{q: s.db}.Outbox()
}

func (s *Store) Users() repository.UserRepository {
	return &userRepository{q: s.db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a transaction
func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txRepos{q: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// mapError translates driver errors into repository sentinels, keeping the
// original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", repository.ErrConflict, pqErr.Constraint)
	}
	return err
}

func affectedOne(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
