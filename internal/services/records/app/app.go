package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	grpchealth "google.golang.org/grpc/health"

	platformgrpc "github.com/louisbranch/sportchef/internal/platform/grpc"
	"github.com/louisbranch/sportchef/internal/services/records/domain/command"
	"github.com/louisbranch/sportchef/internal/services/records/domain/engine"
	"github.com/louisbranch/sportchef/internal/services/records/domain/entity"
	"github.com/louisbranch/sportchef/internal/services/records/domain/event"
	"github.com/louisbranch/sportchef/internal/services/records/domain/user"
	"github.com/louisbranch/sportchef/internal/services/records/health"
)

// Health check names and the messages reported when a store cannot be read.
const (
	UserCheck  = "UserService"
	EventCheck = "EventService"

	usersInaccessible  = "Can't access users!"
	eventsInaccessible = "Can't access events!"
)

// lane is the part of a controller the process lifecycle drives.
type lane interface {
	Name() string
	Snapshot(ctx context.Context) (uint64, error)
	Recover(ctx context.Context) (uint64, error)
	Stats() engine.Stats
	Fault() error
	Shutdown(ctx context.Context) error
}

// App owns one controller per record type, their storage and the health
// registry that watches them.
type App struct {
	cfg     Config
	logger  zerolog.Logger
	storage *storageFactory

	Users        *user.Service
	Events       *event.Service
	Health       *health.Registry
	HealthServer *grpchealth.Server

	lanes        []lane
	shutdownOnce sync.Once
	shutdownErr  error
}

// Open recovers every controller and registers health checks. Controllers
// are recovered concurrently; if any fails, the ones that opened are shut
// down and the first error is returned.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		cfg:          cfg,
		logger:       logger,
		storage:      newStorageFactory(cfg, logger),
		HealthServer: grpchealth.NewServer(),
	}
	a.Health = health.NewRegistry(logger, a.HealthServer)

	var (
		users  *entity.Controller[user.User]
		events *entity.Controller[event.Event]
	)
	userManager := user.NewManager()
	eventManager := event.NewManager()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		users, err = openLane(groupCtx, a, user.Name, userManager)
		return err
	})
	group.Go(func() error {
		var err error
		events, err = openLane(groupCtx, a, event.Name, eventManager)
		return err
	})
	if err := group.Wait(); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if users != nil {
			_ = users.Shutdown(shutdownCtx)
		}
		if events != nil {
			_ = events.Shutdown(shutdownCtx)
		}
		_ = a.storage.Close()
		return nil, err
	}

	a.Users = user.NewService(users, userManager)
	a.Events = event.NewService(events, eventManager)
	a.lanes = []lane{users, events}

	if err := a.Health.Register(UserCheck, health.ListProbe(usersInaccessible, a.Users.FindAll)); err != nil {
		return nil, errors.Join(err, a.Shutdown(ctx))
	}
	if err := a.Health.Register(EventCheck, health.ListProbe(eventsInaccessible, a.Events.FindAll)); err != nil {
		return nil, errors.Join(err, a.Shutdown(ctx))
	}
	return a, nil
}

func openLane[T any](ctx context.Context, a *App, name string, manager *entity.Manager[T]) (*entity.Controller[T], error) {
	registry := command.NewRegistry()
	if err := manager.Register(registry); err != nil {
		return nil, fmt.Errorf("register %s commands: %w", name, err)
	}
	store, err := a.storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	controller, err := engine.Open(ctx, engine.Config[*entity.State[T]]{
		Name:             name,
		Manager:          manager,
		Commands:         registry,
		Journal:          store.Journal,
		Snapshots:        store.Snapshots,
		Logger:           a.logger.With().Str("manager", name).Logger(),
		SnapshotEvery:    a.cfg.SnapshotEvery,
		SnapshotInterval: a.cfg.SnapshotInterval,
		TruncateJournal:  a.cfg.TruncateJournal,
		QueueDepth:       a.cfg.QueueDepth,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return controller, nil
}

// Run serves health checks until ctx ends and then shuts every controller
// down. Shutdown gets its own deadline so queued writes still drain after
// ctx is cancelled.
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.Health.Start(groupCtx, a.cfg.HealthInterval)
	})
	group.Go(func() error {
		if err := platformgrpc.WaitForServing(groupCtx, a.HealthServer, "", a.logger); err != nil {
			if groupCtx.Err() != nil {
				return nil
			}
			return err
		}
		a.logger.Info().Strs("checks", a.Health.Names()).Msg("records ready")
		return nil
	})
	runErr := group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Snapshot checkpoints every controller and returns the watermark per
// manager.
func (a *App) Snapshot(ctx context.Context) (map[string]uint64, error) {
	watermarks := make(map[string]uint64, len(a.lanes))
	var errs []error
	for _, l := range a.lanes {
		seq, err := l.Snapshot(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
			continue
		}
		watermarks[l.Name()] = seq
	}
	return watermarks, errors.Join(errs...)
}

// RecoverDegraded rebuilds every controller that has a storage fault and
// returns the managers it recovered.
func (a *App) RecoverDegraded(ctx context.Context) ([]string, error) {
	var (
		recovered []string
		errs      []error
	)
	for _, l := range a.lanes {
		if l.Fault() == nil {
			continue
		}
		seq, err := l.Recover(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
			continue
		}
		a.logger.Info().Str("manager", l.Name()).Uint64("seq", seq).Msg("manager recovered")
		recovered = append(recovered, l.Name())
	}
	return recovered, errors.Join(errs...)
}

// Stats returns controller progress in a stable order.
func (a *App) Stats() []engine.Stats {
	stats := make([]engine.Stats, 0, len(a.lanes))
	for _, l := range a.lanes {
		stats = append(stats, l.Stats())
	}
	return stats
}

// Shutdown stops health publishing, then drains and closes every controller
// concurrently. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.Health.Stop()
		var group errgroup.Group
		for _, l := range a.lanes {
			group.Go(func() error {
				if err := l.Shutdown(ctx); err != nil {
					return fmt.Errorf("shutdown %s: %w", l.Name(), err)
				}
				return nil
			})
		}
		a.shutdownErr = errors.Join(group.Wait(), a.storage.Close())
	})
	return a.shutdownErr
}
