// Command schedctl runs operational tasks against the scheduling database:
// schema migrations, one-off housekeeping and outbox relays, and signing
// development tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/care-scheduling-api/config"
	"github.com/jwalitptl/care-scheduling-api/internal/bootstrap"
	"github.com/jwalitptl/care-scheduling-api/internal/model"
	"github.com/jwalitptl/care-scheduling-api/pkg/auth"
	"github.com/jwalitptl/care-scheduling-api/pkg/logger"
	"github.com/jwalitptl/care-scheduling-api/pkg/metrics"
	"github.com/jwalitptl/care-scheduling-api/pkg/worker"
)

var configDir string

type app struct {
	cfg *config.Config
	log *logger.Logger
}

func load() (*app, error) {
	_ = godotenv.Load()
	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	cfg, err := config.LoadConfig(paths...)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: bootstrap.NewLogger(cfg.Log)}, nil
}

var rootCmd = &cobra.Command{
	Use:           "schedctl",
	Short:         "Operational tasks for the care scheduling service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "", "directory containing config.yaml")
	rootCmd.AddCommand(tokenCmd(), migrateCmd(), housekeepCmd(), relayCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func tokenCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", userID, err)
			}
			r := model.Role(role)
			if !r.Valid() {
				return fmt.Errorf("invalid role %q", role)
			}

			tokens := auth.NewJWTService(a.cfg.JWT.Secret, a.cfg.JWT.Issuer, time.Duration(a.cfg.JWT.ExpiryHours)*time.Hour)
			token, err := tokens.GenerateAccessToken(id, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (uuid)")
	cmd.Flags().StringVar(&role, "role", string(model.RoleClient), "admin, caregiver or client")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			return bootstrap.Migrate(cmd.Context(), a.cfg.Database, a.log)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, one by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			return withMigrator(cmd.Context(), func(m migrator) error {
				return m.Down(steps)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Record a schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withMigrator(cmd.Context(), func(m migrator) error {
				return m.Force(version)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
				return nil
			})
		},
	})
	return cmd
}

type migrator interface {
	Down(steps int) error
	Force(version int) error
	Version() (uint, bool, error)
}

func withMigrator(ctx context.Context, fn func(migrator) error) error {
	a, err := load()
	if err != nil {
		return err
	}
	m, err := bootstrap.OpenMigrator(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func housekeepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "housekeep",
		Short: "Complete elapsed appointments and prune past slots once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			store, closeStore, err := bootstrap.OpenStore(cmd.Context(), a.cfg.Database, a.log)
			if err != nil {
				return err
			}
			defer closeStore()
			loc, err := a.cfg.Scheduling.Location()
			if err != nil {
				return err
			}

			interval := a.cfg.Worker.Interval
			if interval <= 0 {
				interval = time.Minute
			}
			p := worker.NewHousekeepingProcessor(store, worker.HousekeepingConfig{
				Interval:        interval,
				Location:        loc,
				OutboxRetention: a.cfg.Events.Retention,
			}, a.log, metrics.NewMetrics(prometheus.NewRegistry(), "schedctl"))
			return p.RunOnce(cmd.Context())
		},
	}
}

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish one batch of pending outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			store, closeStore, err := bootstrap.OpenStore(cmd.Context(), a.cfg.Database, a.log)
			if err != nil {
				return err
			}
			defer closeStore()
			publisher, closePublisher, err := bootstrap.NewPublisher(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer closePublisher()

			interval := a.cfg.Events.RelayInterval
			if interval <= 0 {
				interval = time.Second
			}
			p := worker.NewOutboxProcessor(store, publisher, worker.OutboxConfig{
				Interval:    interval,
				BatchSize:   a.cfg.Events.BatchSize,
				MaxAttempts: a.cfg.Events.MaxAttempts,
			}, a.log, metrics.NewMetrics(prometheus.NewRegistry(), "schedctl"))
			n, err := p.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d events\n", n)
			return nil
		},
	}
}
