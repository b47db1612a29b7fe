package bootstrap

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/care-scheduling-api/config"
	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
)

func TestOpenStoreMemorySeedsDevUsers(t *testing.T) {
	id := uuid.New()
	cfg := config.DatabaseConfig{
		Driver: "memory",
		DevUsers: []config.DevUser{
			{ID: id.String(), Name: "Cara", Email: "cara@example.com", Role: "caregiver"},
		},
	}

	store, release, err := OpenStore(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer release()

	user, err := store.Users().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Cara", user.Name)
	assert.Equal(t, model.RoleCaregiver, user.Role)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestOpenStoreRejectsBadConfig(t *testing.T) {
	tests := map[string]config.DatabaseConfig{
		"bad user id": {Driver: "memory", DevUsers: []config.DevUser{{ID: "nope", Role: "client"}}},
		"bad role":    {Driver: "memory", DevUsers: []config.DevUser{{ID: uuid.NewString(), Role: "superuser"}}},
		"driver":      {Driver: "sqlite"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := OpenStore(context.Background(), cfg, logger.Nop())
			assert.Error(t, err)
		})
	}
}
