// Package breaker wraps a BlobStore with a circuit breaker so that a failing
// backend is short-circuited instead of being hammered by every commit.
package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = gobreaker.ErrOpenState

// Config controls when the breaker trips and recovers.
type Config struct {
	Name string
	// ConsecutiveFailures trips the breaker (default 5).
	ConsecutiveFailures uint32
	// MaxRequests allowed in the half-open state (default 1).
	MaxRequests uint32
	// Interval clears the counts in the closed state; zero never clears.
	Interval time.Duration
	// Timeout is the open period before probing again (default 30s).
	Timeout time.Duration
	Logger  *slog.Logger
}

// Store is a BlobStore guarded by a circuit breaker. Missing objects are a
// normal outcome and never count as failures.
type Store struct {
	next simpleupload.BlobStore
	cb   *gobreaker.CircuitBreaker
}

// New wraps next.
func New(next simpleupload.BlobStore, cfg Config) *Store {
	if cfg.Name == "" {
		cfg.Name = "blobstore"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("blob store circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || simpleupload.IsNotFound(err) || errors.Is(err, context.Canceled)
		},
	}
	return &Store{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the current breaker state name: closed, half-open or open.
func (s *Store) State() string {
	return s.cb.State().String()
}

func (s *Store) Has(ctx context.Context, path string) (bool, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.Has(ctx, path)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *Store) Write(ctx context.Context, path string, reader io.Reader, meta simpleupload.WriteMeta) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Write(ctx, path, reader, meta)
	})
	return err
}

func (s *Store) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.Read(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(io.ReadCloser), nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Delete(ctx, path)
	})
	return err
}

func (s *Store) List(ctx context.Context, prefix string) ([]simpleupload.Entry, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.List(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	return v.([]simpleupload.Entry), nil
}

func (s *Store) Stat(ctx context.Context, path string) (*simpleupload.ObjectMeta, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.Stat(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*simpleupload.ObjectMeta), nil
}

// Unwrap returns the guarded store.
func (s *Store) Unwrap() simpleupload.BlobStore {
	return s.next
}
