package docstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store. Live queries are notified
// synchronously after each committed write.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	feed        *feed
	now         func() time.Time
}

// Option customises a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
		feed:        newFeed(),
		now:         o.now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, Errorf(CodeInvalidArgument, "empty document id")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, Errorf(CodeNotFound, "%s/%s not found", collection, id)
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Add(ctx context.Context, collection string, data Document) (Document, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	doc, err := s.insertLocked(collection, data)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(collection)
	return doc.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, updates Document) (Document, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	doc, err := s.updateLocked(collection, id, updates)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.publish(collection)
	return doc.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	_, existed := s.collections[collection][id]
	delete(s.collections[collection], id)
	s.mu.Unlock()

	if existed {
		s.publish(collection)
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	return s.evaluate(q), nil
}

func (s *MemoryStore) Listen(ctx context.Context, q Query, onSnapshot func(Snapshot), onError func(error)) (func(), error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if q.Collection == "" {
		return nil, Errorf(CodeInvalidArgument, "listen: empty collection")
	}

	l, stop := s.feed.add(q, onSnapshot, onError)
	l.deliver(s.evaluate(q), nil, true)
	return stop, nil
}

func (s *MemoryStore) Commit(ctx context.Context, collection string, writes []Write) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	backup := make(map[string]Document, len(s.collections[collection]))
	for id, doc := range s.collections[collection] {
		backup[id] = doc
	}

	for _, w := range writes {
		var err error
		switch w.Type {
		case WriteCreate:
			data := w.Data.Clone()
			if data == nil {
				data = Document{}
			}
			if w.ID != "" {
				data[FieldID] = w.ID
			}
			_, err = s.insertLocked(collection, data)
		case WriteUpdate:
			_, err = s.updateLocked(collection, w.ID, w.Data)
		case WriteDelete:
			delete(s.collections[collection], w.ID)
		default:
			err = Errorf(CodeInvalidArgument, "commit: unknown write type %q", w.Type)
		}
		if err != nil {
			s.collections[collection] = backup
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	s.publish(collection)
	return nil
}

// ListenerCount reports how many live queries are registered.
func (s *MemoryStore) ListenerCount() int {
	return s.feed.count()
}

func (s *MemoryStore) insertLocked(collection string, data Document) (Document, error) {
	docs := s.collections[collection]
	if docs == nil {
		docs = make(map[string]Document)
		s.collections[collection] = docs
	}

	id := data.ID()
	if id == "" {
		id = uuid.NewString()
	} else if _, exists := docs[id]; exists {
		return nil, Errorf(CodeAlreadyExists, "%s/%s already exists", collection, id)
	}

	now := s.now().UTC()
	doc := data.Merge(Document{
		FieldID:        id,
		FieldCreatedAt: now,
		FieldUpdatedAt: now,
	})
	docs[id] = doc
	return doc, nil
}

func (s *MemoryStore) updateLocked(collection, id string, updates Document) (Document, error) {
	current, ok := s.collections[collection][id]
	if !ok {
		return nil, Errorf(CodeNotFound, "%s/%s not found", collection, id)
	}

	patch := updates.Clone()
	delete(patch, FieldID)
	delete(patch, FieldCreatedAt)
	doc := current.Merge(patch)
	doc[FieldUpdatedAt] = s.now().UTC()
	s.collections[collection][id] = doc
	return doc, nil
}

func (s *MemoryStore) evaluate(q Query) []Document {
	s.mu.RLock()
	docs := make([]Document, 0, len(s.collections[q.Collection]))
	for _, doc := range s.collections[q.Collection] {
		docs = append(docs, doc)
	}
	s.mu.RUnlock()

	return cloneAll(Apply(docs, q.Constraints))
}

func (s *MemoryStore) publish(collection string) {
	s.feed.publish(collection, func(q Query) ([]Document, error) {
		return s.evaluate(q), nil
	})
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	switch err := ctx.Err(); err {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return WrapError(CodeDeadlineExceeded, "context deadline exceeded", err)
	default:
		return WrapError(CodeCancelled, "context cancelled", err)
	}
}
