package simpleupload

import (
	"time"

	"github.com/google/uuid"
)

// Entity is a reference Record: a keyed bag of string attributes that
// remembers the values it was last persisted with.
type Entity struct {
	ID        uuid.UUID  `json:"id"`
	Kind      string     `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	values map[string]string
	old    map[string]string
}

// NewEntity creates an unsaved entity of the given kind.
func NewEntity(kind string) *Entity {
	return &Entity{
		Kind:   kind,
		values: make(map[string]string),
		old:    make(map[string]string),
	}
}

// IsNew reports whether the entity has never been persisted.
func (e *Entity) IsNew() bool {
	return e.ID == uuid.Nil
}

// Attribute returns the current value of name.
func (e *Entity) Attribute(name string) string {
	return e.values[name]
}

// OldAttribute returns the value of name at the last persist.
func (e *Entity) OldAttribute(name string) string {
	return e.old[name]
}

// SetAttribute sets the current value of name.
func (e *Entity) SetAttribute(name, value string) {
	if e.values == nil {
		e.values = make(map[string]string)
	}
	e.values[name] = value
}

// IsAttributeChanged reports whether name differs from its persisted value.
func (e *Entity) IsAttributeChanged(name string) bool {
	return e.values[name] != e.old[name]
}

// Attributes returns a copy of the current values.
func (e *Entity) Attributes() map[string]string {
	out := make(map[string]string, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// SetAttributes replaces several values at once.
func (e *Entity) SetAttributes(values map[string]string) {
	for k, v := range values {
		e.SetAttribute(k, v)
	}
}

// MarkPersisted records the current values as the persisted state.
func (e *Entity) MarkPersisted() {
	e.old = e.Attributes()
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	c.values = e.Attributes()
	c.old = make(map[string]string, len(e.old))
	for k, v := range e.old {
		c.old[k] = v
	}
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// LoadEntity rebuilds a persisted entity, typically from a repository row.
func LoadEntity(id uuid.UUID, kind string, values map[string]string, createdAt, updatedAt time.Time) *Entity {
	e := &Entity{
		ID:        id,
		Kind:      kind,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		values:    make(map[string]string, len(values)),
	}
	for k, v := range values {
		e.values[k] = v
	}
	e.MarkPersisted()
	return e
}
