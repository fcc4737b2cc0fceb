package simpleupload

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEntityTracksOldValues(t *testing.T) {
	e := NewEntity("user")
	assert.True(t, e.IsNew())

	e.SetAttribute("avatar", "a.png")
	assert.True(t, e.IsAttributeChanged("avatar"))
	assert.Equal(t, "", e.OldAttribute("avatar"))

	e.MarkPersisted()
	assert.False(t, e.IsAttributeChanged("avatar"))

	e.SetAttribute("avatar", "b.png")
	assert.Equal(t, "b.png", e.Attribute("avatar"))
	assert.Equal(t, "a.png", e.OldAttribute("avatar"))
}

func TestEntityClone(t *testing.T) {
	now := time.Now()
	e := LoadEntity(uuid.New(), "user", map[string]string{"avatar": "a.png"}, now, now)
	e.DeletedAt = &now

	c := e.Clone()
	c.SetAttribute("avatar", "b.png")
	*c.DeletedAt = now.Add(time.Hour)

	assert.Equal(t, "a.png", e.Attribute("avatar"))
	assert.Equal(t, "a.png", c.OldAttribute("avatar"))
	assert.Equal(t, now, *e.DeletedAt)
}

func TestLoadEntity(t *testing.T) {
	id := uuid.New()
	values := map[string]string{"avatar": "a.png"}
	e := LoadEntity(id, "user", values, time.Time{}, time.Time{})
	values["avatar"] = "changed"

	assert.False(t, e.IsNew())
	assert.Equal(t, "a.png", e.Attribute("avatar"))
	assert.False(t, e.IsAttributeChanged("avatar"))
}
