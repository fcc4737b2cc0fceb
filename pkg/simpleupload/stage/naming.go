package stage

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

// NameGenerator produces the token part of unique base filenames. Tokens must
// be valid base filenames and must not contain the variant separator.
type NameGenerator interface {
	Token() string
}

// ULIDGenerator produces lowercase, lexically sortable ULID tokens.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULIDGenerator creates a generator backed by a monotonic entropy source.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

func (g *ULIDGenerator) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	return strings.ToLower(id.String())
}

// UUIDGenerator produces random (version 4) UUID tokens without dashes.
type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator {
	return UUIDGenerator{}
}

func (UUIDGenerator) Token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewGenerator returns the generator registered under name. Unknown names
// fall back to ULID.
func NewGenerator(name string) NameGenerator {
	switch strings.ToLower(name) {
	case "uuid":
		return NewUUIDGenerator()
	default:
		return NewULIDGenerator()
	}
}
