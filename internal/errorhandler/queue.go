package errorhandler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/pkg/metrics"
)

// PendingWrite is a write deferred after the backend reported quota
// exhaustion.
type PendingWrite struct {
	ID         string
	Collection string
	Operation  string
	DocID      string
	OwnerID    string
	Payload    docstore.Document
	QueuedAt   time.Time
	Attempts   int
	LastError  string
}

// Queue stores pending writes until they can be replayed.
type Queue interface {
	Enqueue(ctx context.Context, w PendingWrite) (PendingWrite, error)
	// Pending returns up to limit writes, oldest first. limit <= 0 returns all.
	Pending(ctx context.Context, limit int) ([]PendingWrite, error)
	Remove(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is a process-local Queue.
type MemoryQueue struct {
	mu     sync.Mutex
	writes map[string]PendingWrite
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{writes: make(map[string]PendingWrite)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, w PendingWrite) (PendingWrite, error) {
	if w.Collection == "" || w.Operation == "" {
		return PendingWrite{}, errors.New("pending write: collection and operation are required")
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.QueuedAt.IsZero() {
		w.QueuedAt = time.Now().UTC()
	}
	w.Payload = w.Payload.Clone()

	q.mu.Lock()
	q.writes[w.ID] = w
	q.mu.Unlock()
	return w, nil
}

func (q *MemoryQueue) Pending(_ context.Context, limit int) ([]PendingWrite, error) {
	q.mu.Lock()
	out := make([]PendingWrite, 0, len(q.writes))
	for _, w := range q.writes {
		w.Payload = w.Payload.Clone()
		out = append(out, w)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	delete(q.writes, id)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) MarkFailed(_ context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	w, ok := q.writes[id]
	if !ok {
		return fmt.Errorf("pending write %s not found", id)
	}
	w.Attempts++
	if cause != nil {
		w.LastError = cause.Error()
	}
	q.writes[id] = w
	return nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.writes), nil
}

// MaxReplayAttempts bounds how often a write failing with a transient error
// is replayed before it is dropped. Quota failures do not count.
const MaxReplayAttempts = 5

// DrainResult reports the outcome of one Drain pass. Failed writes stay
// queued; Dropped ones were removed because replaying them cannot succeed.
type DrainResult struct {
	Replayed int
	Failed   int
	Dropped  int
}

// Drain replays up to limit queued writes, removing the ones that succeed.
// It stops early when the backend is still out of quota. Writes that fail
// for any reason other than quota or a transient outage, or that exhaust
// MaxReplayAttempts, are removed so they cannot block the queue. Failures
// are combined into the returned error.
func Drain(ctx context.Context, q Queue, limit int, replay func(context.Context, PendingWrite) error) (DrainResult, error) {
	var result DrainResult
	if q == nil || replay == nil {
		return result, nil
	}

	writes, err := q.Pending(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("list pending writes: %w", err)
	}

	var errs error
	for _, w := range writes {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}

		replayErr := replay(ctx, w)
		if replayErr == nil {
			errs = multierr.Append(errs, q.Remove(ctx, w.ID))
			result.Replayed++
			continue
		}
		errs = multierr.Append(errs, fmt.Errorf("replay %s %s/%s: %w", w.Operation, w.Collection, w.DocID, replayErr))

		class := Classify(replayErr)
		if class == ClassQuota || (class.Retryable() && w.Attempts+1 < MaxReplayAttempts) {
			result.Failed++
			errs = multierr.Append(errs, q.MarkFailed(ctx, w.ID, replayErr))
			if class == ClassQuota {
				break
			}
			continue
		}

		result.Dropped++
		errs = multierr.Append(errs, q.Remove(ctx, w.ID))
	}

	if n, lenErr := q.Len(ctx); lenErr == nil {
		metrics.PendingWrites.Set(float64(n))
	}
	return result, errs
}
