package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/charlesng35/dentaldesk/pkg/logger"
)

// BreakerConfig tunes the circuit wrapped around a Store.
type BreakerConfig struct {
	// ConsecutiveFailures trips the circuit after that many backend outages
	// in a row.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests are let through while probing.
	HalfOpenRequests uint32
}

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// BreakerStore fails fast with CodeUnavailable while the wrapped store keeps
// reporting outages. Only unavailable and deadline-exceeded errors count
// against the circuit; rejected writes and missing documents are normal
// answers from a healthy backend. Live queries bypass the circuit.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps inner with a circuit breaker.
func NewBreakerStore(inner Store, cfg BreakerConfig) *BreakerStore {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = defaultBreakerFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultBreakerTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	log := logger.WithModule("docstore")
	threshold := cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "docstore",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			switch CodeOf(err) {
			case CodeUnavailable, CodeDeadlineExceeded:
				return false
			}
			return true
		},
	})
	return &BreakerStore{inner: inner, cb: cb}
}

// State reports the circuit state ("closed", "half-open" or "open").
func (s *BreakerStore) State() string {
	return s.cb.State().String()
}

func (s *BreakerStore) Get(ctx context.Context, collection, id string) (Document, error) {
	return guard(s, func() (Document, error) { return s.inner.Get(ctx, collection, id) })
}

func (s *BreakerStore) Add(ctx context.Context, collection string, data Document) (Document, error) {
	return guard(s, func() (Document, error) { return s.inner.Add(ctx, collection, data) })
}

func (s *BreakerStore) Update(ctx context.Context, collection, id string, updates Document) (Document, error) {
	return guard(s, func() (Document, error) { return s.inner.Update(ctx, collection, id, updates) })
}

func (s *BreakerStore) Delete(ctx context.Context, collection, id string) error {
	_, err := guard(s, func() (struct{}, error) { return struct{}{}, s.inner.Delete(ctx, collection, id) })
	return err
}

func (s *BreakerStore) Query(ctx context.Context, q Query) ([]Document, error) {
	return guard(s, func() ([]Document, error) { return s.inner.Query(ctx, q) })
}

func (s *BreakerStore) Listen(ctx context.Context, q Query, onSnapshot func(Snapshot), onError func(error)) (func(), error) {
	return s.inner.Listen(ctx, q, onSnapshot, onError)
}

func (s *BreakerStore) Commit(ctx context.Context, collection string, writes []Write) error {
	_, err := guard(s, func() (struct{}, error) { return struct{}{}, s.inner.Commit(ctx, collection, writes) })
	return err
}

func guard[T any](s *BreakerStore, op func() (T, error)) (T, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, WrapError(CodeUnavailable, "circuit open", err)
	}
	value, _ := out.(T)
	return value, err
}
