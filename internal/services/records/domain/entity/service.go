package entity

import (
	"context"
	"fmt"

	"github.com/louisbranch/sportchef/internal/platform/encoding"
	apperrors "github.com/louisbranch/sportchef/internal/platform/errors"
	"github.com/louisbranch/sportchef/internal/platform/requestctx"
	"github.com/louisbranch/sportchef/internal/services/records/domain/command"
	"github.com/louisbranch/sportchef/internal/services/records/domain/engine"
)

// Controller is the engine controller type for a record table.
type Controller[T any] = engine.Controller[*State[T]]

// Service exposes record operations over a running controller. Writes go
// through the writer lane; reads run against the latest applied state.
type Service[T any] struct {
	controller *Controller[T]
	manager    *Manager[T]
}

// NewService binds a manager to the controller that runs it.
func NewService[T any](controller *Controller[T], manager *Manager[T]) *Service[T] {
	return &Service[T]{controller: controller, manager: manager}
}

// Controller returns the underlying controller.
func (s *Service[T]) Controller() *Controller[T] {
	return s.controller
}

// Create stores a new record and returns it with its assigned id. Any id on
// the candidate is ignored.
func (s *Service[T]) Create(ctx context.Context, candidate T) (T, error) {
	s.manager.schema.SetID(&candidate, 0)
	return s.write(ctx, s.manager.CreateType(), 0, candidate)
}

// Update replaces the record carrying the same id.
func (s *Service[T]) Update(ctx context.Context, record T) (T, error) {
	id := s.manager.schema.ID(record)
	if id == 0 {
		var zero T
		return zero, apperrors.Newf(apperrors.CodeInvalidArgument, "%s id is required", s.manager.Name())
	}
	return s.write(ctx, s.manager.UpdateType(), id, record)
}

// Delete removes the record with id.
func (s *Service[T]) Delete(ctx context.Context, id uint64) error {
	if id == 0 {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "%s id is required", s.manager.Name())
	}
	_, err := s.controller.Execute(ctx, command.Command{
		Type:      s.manager.DeleteType(),
		EntityID:  id,
		RequestID: requestctx.RequestIDFromContext(ctx),
	})
	return err
}

// FindByID returns the record with id or a NOT_FOUND error.
func (s *Service[T]) FindByID(ctx context.Context, id uint64) (T, error) {
	return engine.Query(ctx, s.controller, func(state *State[T]) (T, error) {
		record, ok := state.Find(id)
		if !ok {
			return record, s.manager.notFound(id)
		}
		return record, nil
	})
}

// FindByKey returns the record owning the uniqueness key or a NOT_FOUND error.
func (s *Service[T]) FindByKey(ctx context.Context, key string) (T, error) {
	return engine.Query(ctx, s.controller, func(state *State[T]) (T, error) {
		record, ok := state.FindByKey(key)
		if !ok {
			return record, apperrors.WithMetadata(apperrors.CodeNotFound, fmt.Sprintf("%s not found", s.manager.Name()), map[string]string{
				"entity": s.manager.Name(),
				"key":    NormalizeKey(key),
			})
		}
		return record, nil
	})
}

// FindAll returns every record in creation order.
func (s *Service[T]) FindAll(ctx context.Context) ([]T, error) {
	return engine.Query(ctx, s.controller, func(state *State[T]) ([]T, error) {
		return state.All(), nil
	})
}

// Count returns the number of live records.
func (s *Service[T]) Count(ctx context.Context) (int, error) {
	return engine.Query(ctx, s.controller, func(state *State[T]) (int, error) {
		return state.Len(), nil
	})
}

func (s *Service[T]) write(ctx context.Context, commandType command.Type, id uint64, record T) (T, error) {
	var zero T
	payload, err := encoding.Marshal(record)
	if err != nil {
		return zero, apperrors.Wrap(apperrors.CodeInvalidArgument, "encode "+s.manager.Name(), err)
	}
	result, err := s.controller.Execute(ctx, command.Command{
		Type:        commandType,
		EntityID:    id,
		RequestID:   requestctx.RequestIDFromContext(ctx),
		PayloadJSON: payload,
	})
	if err != nil {
		return zero, err
	}
	stored, ok := result.(T)
	if !ok {
		return zero, apperrors.Newf(apperrors.CodeInternal, "unexpected %s result %T", s.manager.Name(), result)
	}
	return stored, nil
}
