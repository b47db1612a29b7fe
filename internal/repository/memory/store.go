// Package memory keeps scheduling state in process. It backs the "memory"
// database driver for local runs and the engine tests. A single mutex
// serialises every unit of work, so WithTx is trivially atomic: fn runs
// against a private copy that replaces the live state only on success.
// Handles taken from the Store itself (not from the Tx) must not be used
// inside fn; they would wait on the same mutex.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
)

type state struct {
	slots        map[uuid.UUID]model.AvailabilitySlot
	appointments map[uuid.UUID]model.Appointment
	requests     map[uuid.UUID]model.ChangeRequest
	outbox       map[uuid.UUID]model.OutboxEvent
}

func newState() *state {
	return &state{
		slots:        make(map[uuid.UUID]model.AvailabilitySlot),
		appointments: make(map[uuid.UUID]model.Appointment),
		requests:     make(map[uuid.UUID]model.ChangeRequest),
		outbox:       make(map[uuid.UUID]model.OutboxEvent),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	return c
}

// exec runs f against the state visible to one repository handle.
type exec func(f func(st *state) error) error

type Store struct {
	mu    sync.Mutex
	st    *state
	users map[uuid.UUID]model.User
}

func NewStore() *Store {
	return &Store{
		st:    newState(),
		users: make(map[uuid.UUID]model.User),
	}
}

// AddUser seeds the user directory.
func (s *Store) AddUser(user model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *Store) direct(f func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s.st)
}

type txRepos struct {
	run exec
}

func (t txRepos) Availability() repository.AvailabilityRepository {
	return &availabilityRepository{run: t.run}
}

func (t txRepos) Appointments() repository.AppointmentRepository {
	return &appointmentRepository{run: t.run}
}

func (t txRepos) ChangeRequests() repository.ChangeRequestRepository {
	return &changeRequestRepository{run: t.run}
}

func (t txRepos) Outbox() repository.OutboxRepository {
	return &outboxRepository{run: t.run}
}

func (s *Store) Availability() repository.AvailabilityRepository {
	return txRepos{run: s.direct}.Availability()
}

func (s *Store) Appointments() repository.AppointmentRepository {
	return txRepos{run: s.direct}.Appointments()
}

func (s *Store) ChangeRequests() repository.ChangeRequestRepository {
	return txRepos{run: s.direct}.ChangeRequests()
}

func (s *Store) Outbox() repository.OutboxRepository {
	return txRepos{run: s.direct}.Outbox()
}

func (s *Store) Users() repository.UserRepository {
	return &userRepository{store: s}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ExclusiveTx reports that WithTx holds the store-wide lock, so callers
// must not block on the network inside it.
func (s *Store) ExclusiveTx() bool { return true }

func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	run := func(f func(st *state) error) error { return f(work) }
	if err := fn(txRepos{run: run}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type userRepository struct {
	store *Store
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	user, ok := r.store.users[id]
	if !ok {
		return nil, fmt.Errorf("failed to get user: %w", repository.ErrNotFound)
	}
	return &user, nil
}

func paginate[T any](items []T, p model.Pagination) []T {
	p = p.Normalize()
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}
