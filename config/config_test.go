package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	t.Setenv("CARESCHED_JWT_SECRET", "test-secret")
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "test-secret", cfg.JWT.Secret)
	assert.Equal(t, 60, cfg.Scheduling.DefaultSlotMinutes)
	assert.Equal(t, 5*time.Minute, cfg.Worker.Interval)
	assert.Equal(t, "none", cfg.Events.Broker)
	assert.Equal(t, 100, cfg.Events.BatchSize)
	assert.Equal(t, 7*24*time.Hour, cfg.Events.Retention)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)

	loc, err := cfg.Scheduling.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfigFileAndSecrets(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9090
database:
  driver: memory
  dev_users:
    - id: 2b0c1d6e-4f7a-4c1e-9a53-0d6c8f1c2a11
      name: Ada
      email: ada@example.com
      role: caregiver
scheduling:
  timezone: Europe/Berlin
events:
  broker: kafka
  kafka_brokers: ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("CARESCHED_JWT_SECRET", "from-env")
	t.Setenv("CARESCHED_DB_PASSWORD", "pw")
	t.Setenv("CARESCHED_RABBITMQ_URL", "amqp://rabbit:5672/")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "pw", cfg.Database.Password)
	require.Len(t, cfg.Database.DevUsers, 1)
	assert.Equal(t, "caregiver", cfg.Database.DevUsers[0].Role)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, "amqp://rabbit:5672/", cfg.Events.RabbitMQURL)
	assert.Equal(t, "from-env", cfg.JWT.Secret)

	loc, err := cfg.Scheduling.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("CARESCHED_JWT_SECRET", "")
	_, err := LoadConfig(t.TempDir())
	assert.EqualError(t, err, "jwt secret is required")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Database.Driver = "sqlite" }, `unsupported database driver "sqlite"`},
		{"slot bounds", func(c *Config) { c.Scheduling.MaxSlotMinutes = 5 }, "invalid slot bounds 15..5 minutes"},
		{"default slot", func(c *Config) { c.Scheduling.DefaultSlotMinutes = 300 }, "default slot of 300 minutes is outside 15..240"},
		{"window cap", func(c *Config) { c.Scheduling.MaxSlotsPerWindow = 0 }, "max slots per window must be positive"},
		{"timezone", func(c *Config) { c.Scheduling.Timezone = "Mars/Olympus" }, `invalid scheduling timezone "Mars/Olympus"`},
		{"broker", func(c *Config) { c.Events.Broker = "nats" }, `unsupported events broker "nats"`},
		{"redis broker", func(c *Config) { c.Events.Broker = "redis" }, "events broker redis requires redis.enabled"},
		{"kafka brokers", func(c *Config) {
			c.Events.Broker = "kafka"
			c.Events.KafkaBrokers = nil
		}, "events broker kafka requires kafka_brokers"},
		{"worker interval", func(c *Config) { c.Worker.Interval = 0 }, "worker interval must be positive"},
		{"relay interval", func(c *Config) {
			c.Events.Broker = "rabbitmq"
			c.Events.RelayInterval = 0
		}, "events relay interval must be positive"},
	}

	base := loadDefaults(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, base.Validate())
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=require", c.DSN())
}
