// Package sportchef builds the sportchef command tree: serve, verify,
// snapshot and repair.
package sportchef

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	entrypoint "github.com/louisbranch/sportchef/internal/platform/cmd"
	"github.com/louisbranch/sportchef/internal/platform/logging"
	"github.com/louisbranch/sportchef/internal/platform/otel"
	"github.com/louisbranch/sportchef/internal/platform/timeouts"
	"github.com/louisbranch/sportchef/internal/services/records/app"
	"github.com/louisbranch/sportchef/internal/services/records/domain/engine"
	"github.com/louisbranch/sportchef/internal/services/records/domain/event"
	"github.com/louisbranch/sportchef/internal/services/records/domain/user"
)

// Config holds command configuration read from SPORTCHEF_* variables.
type Config struct {
	App       app.Config
	Telemetry otel.Config
	LogLevel  string        `env:"LOG_LEVEL" envDefault:"info"`
	Shutdown  time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// ParseConfig loads Config from the environment.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewRootCommand returns the command tree with flags defaulting to cfg.
func NewRootCommand(cfg Config) *cobra.Command {
	if cfg.Shutdown <= 0 {
		cfg.Shutdown = timeouts.Shutdown
	}
	root := &cobra.Command{
		Use:           "sportchef",
		Short:         "SportChef record store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&cfg.App.DataDir, "data-dir", cfg.App.DataDir, "Directory holding journals and snapshots")
	flags.StringVar(&cfg.App.JournalDriver, "journal-driver", cfg.App.JournalDriver, "Journal driver: file, sqlite or memory")
	flags.StringVar(&cfg.App.SnapshotDriver, "snapshot-driver", cfg.App.SnapshotDriver, "Snapshot driver: file, sqlite, bbolt, redis or memory")
	flags.StringVar(&cfg.App.RedisAddr, "redis-addr", cfg.App.RedisAddr, "Redis address for the redis snapshot driver")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")

	root.AddCommand(
		newServeCommand(&cfg),
		newVerifyCommand(&cfg),
		newSnapshotCommand(&cfg),
		newRepairCommand(&cfg),
	)
	return root
}

func newServeCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Recover every manager and serve until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd, cfg, entrypoint.ServiceSportChef)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			options := entrypoint.RunOptions{
				ShutdownTimeout: timeouts.TelemetryShutdown,
				Telemetry:       cfg.Telemetry,
				Logger:          logger,
			}
			return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSportChef, options, func(ctx context.Context) error {
				records, err := app.Open(ctx, cfg.App, logger)
				if err != nil {
					return err
				}
				go recoverOnHangup(ctx, records, logger)
				return records.Run(ctx, cfg.Shutdown)
			})
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&cfg.App.SnapshotEvery, "snapshot-every", cfg.App.SnapshotEvery, "Snapshot after this many writes (0 disables)")
	flags.DurationVar(&cfg.App.SnapshotInterval, "snapshot-interval", cfg.App.SnapshotInterval, "Snapshot period when writes happened (0 disables)")
	flags.BoolVar(&cfg.App.TruncateJournal, "truncate-journal", cfg.App.TruncateJournal, "Discard journal entries covered by a snapshot")
	flags.DurationVar(&cfg.App.HealthInterval, "health-interval", cfg.App.HealthInterval, "Health probe period")
	return cmd
}

// recoverOnHangup lets an operator clear storage faults with SIGHUP once the
// underlying problem is fixed.
func recoverOnHangup(ctx context.Context, records *app.App, logger zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			recovered, err := records.RecoverDegraded(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("recover degraded managers")
				continue
			}
			logger.Info().Strs("managers", recovered).Msg("recover degraded managers")
		}
	}
}

func newVerifyCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay storage and report what each manager holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, cfg.App, func(ctx context.Context, records *app.App) error {
				users, err := records.Users.Count(ctx)
				if err != nil {
					return err
				}
				events, err := records.Events.Count(ctx)
				if err != nil {
					return err
				}
				counts := map[string]int{user.Name: users, event.Name: events}
				for _, stats := range records.Stats() {
					printStats(cmd.OutOrStdout(), stats, counts[stats.Name])
				}
				return nil
			})
		},
	}
}

func newSnapshotCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Checkpoint every manager now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, cfg.App, func(ctx context.Context, records *app.App) error {
				watermarks, err := records.Snapshot(ctx)
				if err != nil {
					return err
				}
				for _, stats := range records.Stats() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tsnapshot=%d\n", stats.Name, watermarks[stats.Name])
				}
				return nil
			})
		},
	}
}

func newRepairCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Drop torn journal tails and rebuild every manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repairCfg := cfg.App
			repairCfg.RepairJournal = true
			return withApp(cmd, cfg, repairCfg, func(_ context.Context, records *app.App) error {
				for _, stats := range records.Stats() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\trepaired seq=%d\n", stats.Name, stats.AppliedSeq)
				}
				return nil
			})
		},
	}
}

// withApp opens the managers, runs fn and shuts them down again.
func withApp(cmd *cobra.Command, cfg *Config, appCfg app.Config, fn func(context.Context, *app.App) error) error {
	logger := newLogger(cmd, cfg, entrypoint.ServiceMaintenance)
	ctx := cmd.Context()
	records, err := app.Open(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(ctx, records)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Shutdown)
	defer cancel()
	if err := records.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printStats(out io.Writer, stats engine.Stats, records int) {
	fmt.Fprintf(out, "%s\trecords=%d\tapplied=%d\tsnapshot=%d\tjournal=%d\n",
		stats.Name, records, stats.AppliedSeq, stats.SnapshotSeq, stats.JournalSeq)
}

func newLogger(cmd *cobra.Command, cfg *Config, service string) zerolog.Logger {
	return logging.NewWithWriter(cmd.ErrOrStderr(), service, cfg.LogLevel)
}
