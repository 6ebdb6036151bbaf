// Package errorhandler is the single funnel for backend failures: it
// classifies them, retries transient ones with exponential backoff, falls
// back under quota pressure, and returns normalized user-safe errors.
package errorhandler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/logger"
	"github.com/charlesng35/dentaldesk/pkg/metrics"
)

const (
	DefaultMaxRetries        = 3
	DefaultBaseDelay         = time.Second
	DefaultProtocolBaseDelay = 2 * time.Second
)

// OpKind tells the quota fallback whether an operation reads or writes.
type OpKind int

const (
	Read OpKind = iota
	Write
)

// Meta describes the operation being attempted.
type Meta struct {
	Operation  string
	Collection string
	Kind       OpKind
	DocID      string
	OwnerID    string
	// Payload is recorded with a queued write so it can be replayed.
	Payload docstore.Document
	Fields  map[string]any
}

// Handler holds retry configuration shared by every repository it is
// passed to.
type Handler struct {
	// MaxRetries is the total number of attempts for retryable failures.
	MaxRetries        int
	BaseDelay         time.Duration
	ProtocolBaseDelay time.Duration

	queue Queue
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
	log   *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxRetries sets the total attempt budget.
func WithMaxRetries(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.MaxRetries = n
		}
	}
}

// WithBaseDelay sets the first backoff delay for transient failures.
func WithBaseDelay(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.BaseDelay = d
		}
	}
}

// WithProtocolBaseDelay sets the first backoff delay for transport
// protocol failures.
func WithProtocolBaseDelay(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.ProtocolBaseDelay = d
		}
	}
}

// WithQueue sets where quota-deferred writes are recorded.
func WithQueue(q Queue) Option {
	return func(h *Handler) {
		if q != nil {
			h.queue = q
		}
	}
}

// WithSleep replaces the backoff sleeper.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(h *Handler) {
		if sleep != nil {
			h.sleep = sleep
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithClock overrides the time source used in log records and queued writes.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// New builds a Handler with defaults overridden by opts.
func New(opts ...Option) *Handler {
	h := &Handler{
		MaxRetries:        DefaultMaxRetries,
		BaseDelay:         DefaultBaseDelay,
		ProtocolBaseDelay: DefaultProtocolBaseDelay,
		queue:             NewMemoryQueue(),
		sleep:             sleepContext,
		now:               time.Now,
		log:               logger.WithModule("errorhandler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Queue returns the pending-write queue.
func (h *Handler) Queue() Queue {
	return h.queue
}

// Execute runs op and routes any failure through the handler.
func Execute[T any](ctx context.Context, h *Handler, meta Meta, op func(context.Context) (T, error)) (T, error) {
	if h == nil {
		h = New()
	}
	result, err := op(ctx)
	if err == nil {
		return result, nil
	}
	return Handle(ctx, h, err, meta, op)
}

// Handle deals with a failure of op that has already happened once.
func Handle[T any](ctx context.Context, h *Handler, err error, meta Meta, op func(context.Context) (T, error)) (T, error) {
	var zero T
	class := Classify(err)
	h.observe(err, class, meta)

	switch class {
	case ClassTransient:
		return retry(ctx, h, h.BaseDelay, err, meta, op)
	case ClassProtocol:
		return retry(ctx, h, h.ProtocolBaseDelay, err, meta, op)
	case ClassQuota:
		return zero, h.quotaFallback(ctx, err, meta)
	case ClassPermission, ClassRejected, ClassNormalized:
		return zero, Normalize(err, class)
	default:
		h.logUnknown(err, meta)
		return zero, Normalize(err, ClassUnknown)
	}
}

// Delay returns the wait before retry number attempt (1-based):
// base * 2^(attempt-1).
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

func retry[T any](ctx context.Context, h *Handler, base time.Duration, lastErr error, meta Meta, op func(context.Context) (T, error)) (T, error) {
	var zero T
	class := Classify(lastErr)

	for attempt := 1; attempt < h.MaxRetries; attempt++ {
		delay := Delay(base, attempt)
		h.log.Debug("retrying after backoff",
			zap.String("collection", meta.Collection),
			zap.String("operation", meta.Operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		if err := h.sleep(ctx, delay); err != nil {
			return zero, Normalize(err, class)
		}
		metrics.RetryAttempts.WithLabelValues(meta.Collection, meta.Operation).Inc()

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		next := Classify(err)
		if !next.Retryable() {
			return Handle(ctx, h, err, meta, func(context.Context) (T, error) { return zero, err })
		}
		class = next
	}

	h.log.Warn("retries exhausted",
		zap.String("collection", meta.Collection),
		zap.String("operation", meta.Operation),
		zap.Int("attempts", h.MaxRetries),
		zap.Error(lastErr),
	)
	return zero, Normalize(lastErr, class)
}

func (h *Handler) quotaFallback(ctx context.Context, err error, meta Meta) error {
	if meta.Kind == Read {
		h.log.Warn("quota exceeded, serving empty result",
			zap.String("collection", meta.Collection),
			zap.String("operation", meta.Operation),
		)
		return nil
	}

	queued, qErr := h.queue.Enqueue(ctx, PendingWrite{
		Collection: meta.Collection,
		Operation:  meta.Operation,
		DocID:      meta.DocID,
		OwnerID:    meta.OwnerID,
		Payload:    meta.Payload,
		QueuedAt:   h.now().UTC(),
		LastError:  err.Error(),
	})
	if qErr != nil {
		h.log.Error("failed to queue write", zap.String("collection", meta.Collection), zap.Error(qErr))
		return Normalize(err, ClassQuota)
	}
	if n, lenErr := h.queue.Len(ctx); lenErr == nil {
		metrics.PendingWrites.Set(float64(n))
	}

	h.log.Info("write queued for retry",
		zap.String("collection", meta.Collection),
		zap.String("operation", meta.Operation),
		zap.String("pending_id", queued.ID),
	)
	return &apperrors.AppError{
		Code:       "WRITE_QUEUED",
		Kind:       apperrors.KindQueued,
		Message:    "Usage limits were reached. Your change was saved and will be retried automatically.",
		StatusCode: http.StatusAccepted,
		Safe:       true,
		Internal:   err,
	}
}

// observe is the uniform path every handled failure goes through.
func (h *Handler) observe(err error, class Class, meta Meta) {
	defer func() { _ = recover() }()

	metrics.HandledErrors.WithLabelValues(meta.Collection, meta.Operation, string(class)).Inc()
	h.log.Debug("handling backend failure",
		zap.String("collection", meta.Collection),
		zap.String("operation", meta.Operation),
		zap.String("class", string(class)),
		zap.Error(err),
	)
}

func (h *Handler) logUnknown(err error, meta Meta) {
	defer func() { _ = recover() }()

	h.log.Error("unhandled backend failure",
		zap.Time("timestamp", h.now().UTC()),
		zap.String("message", err.Error()),
		zap.String("code", string(docstore.CodeOf(err))),
		zap.Stack("stack"),
		zap.String("collection", meta.Collection),
		zap.String("operation", meta.Operation),
		zap.String("doc_id", meta.DocID),
		zap.String("owner_id", meta.OwnerID),
		zap.Any("context", meta.Fields),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
