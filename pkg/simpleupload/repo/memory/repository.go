package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Repository implements simpleupload.Repository using in-memory storage
type Repository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*simpleupload.Entity
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		records: make(map[uuid.UUID]*simpleupload.Entity),
	}
}

func (r *Repository) Insert(ctx context.Context, entity *simpleupload.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[entity.ID]; exists {
		return fmt.Errorf("record %s already exists", entity.ID)
	}
	// Store a copy to avoid external modifications
	r.records[entity.ID] = entity.Clone()
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*simpleupload.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, exists := r.records[id]
	if !exists || stored.DeletedAt != nil {
		return nil, simpleupload.ErrRecordNotFound
	}
	return load(stored), nil
}

func (r *Repository) Update(ctx context.Context, entity *simpleupload.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.records[entity.ID]
	if !exists || stored.DeletedAt != nil {
		return simpleupload.ErrRecordNotFound
	}
	r.records[entity.ID] = entity.Clone()
	return nil
}

// Delete soft-deletes the record
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.records[id]
	if !exists || stored.DeletedAt != nil {
		return simpleupload.ErrRecordNotFound
	}
	now := time.Now().UTC()
	stored.DeletedAt = &now
	stored.UpdatedAt = now
	return nil
}

// List returns the live records of kind, oldest first
func (r *Repository) List(ctx context.Context, kind string) ([]*simpleupload.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*simpleupload.Entity
	for _, stored := range r.records {
		if stored.DeletedAt == nil && (kind == "" || stored.Kind == kind) {
			out = append(out, load(stored))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func load(stored *simpleupload.Entity) *simpleupload.Entity {
	return simpleupload.LoadEntity(stored.ID, stored.Kind, stored.Attributes(), stored.CreatedAt, stored.UpdatedAt)
}
