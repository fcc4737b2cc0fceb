package simpleupload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service persists records and runs the file lifecycle around every write.
type Service interface {
	// Create inserts a new record. Lifecycle.BeforeInsert runs first and may
	// veto the insert.
	Create(ctx context.Context, entity *Entity) error
	// Update persists changes. Lifecycle.BeforeUpdate runs first.
	Update(ctx context.Context, entity *Entity) error
	// Delete removes a record. Lifecycle.BeforeDelete runs first.
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*Entity, error)
	List(ctx context.Context, kind string) ([]*Entity, error)
}

// service implements the Service interface
type service struct {
	repository Repository
	lifecycle  Lifecycle
	logger     *slog.Logger
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithLifecycle sets the lifecycle invoked around record writes
func WithLifecycle(lifecycle Lifecycle) Option {
	return func(s *service) {
		s.lifecycle = lifecycle
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		lifecycle: NewNoopLifecycle(),
		logger:    slog.Default(),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}

	return s, nil
}

func (s *service) Create(ctx context.Context, entity *Entity) error {
	if !entity.IsNew() {
		return fmt.Errorf("create record %s: already persisted", entity.ID)
	}
	if err := s.lifecycle.BeforeInsert(ctx, entity); err != nil {
		s.logger.Warn("record insert vetoed", "kind", entity.Kind, "error", err)
		return err
	}

	now := time.Now().UTC()
	entity.ID = uuid.New()
	entity.CreatedAt = now
	entity.UpdatedAt = now

	if err := s.repository.Insert(ctx, entity); err != nil {
		entity.ID = uuid.Nil
		return fmt.Errorf("insert record: %w", err)
	}
	entity.MarkPersisted()
	return nil
}

func (s *service) Update(ctx context.Context, entity *Entity) error {
	if entity.IsNew() {
		return fmt.Errorf("update record: %w", ErrRecordNotFound)
	}
	if err := s.lifecycle.BeforeUpdate(ctx, entity); err != nil {
		s.logger.Warn("record update vetoed", "id", entity.ID.String(), "error", err)
		return err
	}

	entity.UpdatedAt = time.Now().UTC()
	if err := s.repository.Update(ctx, entity); err != nil {
		return fmt.Errorf("update record %s: %w", entity.ID, err)
	}
	entity.MarkPersisted()
	return nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	entity, err := s.repository.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.lifecycle.BeforeDelete(ctx, entity); err != nil {
		s.logger.Warn("record delete vetoed", "id", id.String(), "error", err)
		return err
	}
	if err := s.repository.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Entity, error) {
	return s.repository.Get(ctx, id)
}

func (s *service) List(ctx context.Context, kind string) ([]*Entity, error) {
	return s.repository.List(ctx, kind)
}
