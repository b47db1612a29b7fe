// Package servicetest builds in-memory fixtures for engine tests.
package servicetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/internal/repository"
	"github.com/jwalitptl/care-scheduling-api/internal/repository/memory"
	"github.com/jwalitptl/care-scheduling-api/internal/service"
	"github.com/jwalitptl/care-scheduling-api/internal/service/directory"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/metrics"
)

// Now is the fixed clock every fixture starts with.
var Now = time.Date(2025, 5, 30, 12, 0, 0, 0, time.UTC)

type Fixture struct {
	Store     *memory.Store
	Directory *directory.Service
	Metrics   *metrics.Metrics
	Log       *logger.Logger
	Clock     time.Time

	Admin     model.Actor
	Caregiver model.Actor
	Client    model.Actor
	// Other is a second client with no relation to the seeded appointments.
	Other model.Actor
}

func New(t *testing.T) *Fixture {
	t.Helper()
	f := &Fixture{
		Store:   memory.NewStore(),
		Metrics: metrics.NewMetrics(prometheus.NewRegistry(), "test"),
		Log:     logger.Nop(),
		Clock:   Now,
	}
	f.Admin = f.AddUser("Admin", model.RoleAdmin)
	f.Caregiver = f.AddUser("Cara", model.RoleCaregiver)
	f.Client = f.AddUser("Xavier", model.RoleClient)
	f.Other = f.AddUser("Olive", model.RoleClient)
	f.Directory = directory.NewService(f.Store.Users(), time.Minute, f.Log)
	return f
}

func (f *Fixture) AddUser(name string, role model.Role) model.Actor {
	id := uuid.New()
	f.Store.AddUser(model.User{Base: model.Base{ID: id}, Name: name, Role: role})
	return model.Actor{UserID: id, Role: role}
}

// Options pins engines to UTC and the fixture clock.
func (f *Fixture) Options() service.Options {
	return service.Options{
		Location: time.UTC,
		Now:      func() time.Time { return f.Clock },
	}
}

// Slot seeds an availability slot directly in the store.
func (f *Fixture) Slot(t *testing.T, caregiverID uuid.UUID, date, start, end string) *model.AvailabilitySlot {
	t.Helper()
	d, err := model.ParseDate(date)
	require.NoError(t, err)
	from, err := model.ParseTimeOfDay(start)
	require.NoError(t, err)
	to, err := model.ParseTimeOfDay(end)
	require.NoError(t, err)

	slot := &model.AvailabilitySlot{CaregiverID: caregiverID, Date: d, StartTime: from, EndTime: to}
	require.NoError(t, f.Store.Availability().Create(context.Background(), slot))
	return slot
}

// HasWindow reports whether the caregiver offers exactly that window.
func (f *Fixture) HasWindow(t *testing.T, caregiverID uuid.UUID, date, start, end string) bool {
	t.Helper()
	d, _ := model.ParseDate(date)
	from, _ := model.ParseTimeOfDay(start)
	to, _ := model.ParseTimeOfDay(end)
	_, err := f.Store.Availability().FindWindow(context.Background(), caregiverID, d, from, to)
	if err != nil {
		require.ErrorIs(t, err, repository.ErrNotFound)
		return false
	}
	return true
}

// Events returns the types of all unpublished outbox events.
func (f *Fixture) Events(t *testing.T) []string {
	t.Helper()
	events, err := f.Store.Outbox().FetchUnpublished(context.Background(), 0, 0)
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}
