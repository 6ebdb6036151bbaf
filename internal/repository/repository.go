// Package repository composes the cache, the query builder and the error
// handler into CRUD, list and live-subscription operations over one
// document collection.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/dentaldesk/internal/cache"
	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/errorhandler"
	"github.com/charlesng35/dentaldesk/internal/query"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/logger"
	"github.com/charlesng35/dentaldesk/pkg/metrics"
	"github.com/charlesng35/dentaldesk/pkg/validator"
)

// Schema validates documents before they are written.
type Schema interface {
	Validate(data map[string]any) validator.Result
	ValidatePartial(data map[string]any) validator.Result
}

// Stats summarises a repository for observability.
type Stats struct {
	Collection      string      `json:"collection"`
	ActiveListeners int         `json:"activeListeners"`
	Cache           cache.Stats `json:"cache"`
}

// Option configures a Repository.
type Option func(*Repository)

// WithSchema validates creates fully and updates partially.
func WithSchema(schema Schema) Option {
	return func(r *Repository) {
		r.schema = schema
	}
}

// WithCacheOptions configures the repository's cache.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(r *Repository) {
		r.cacheOpts = append(r.cacheOpts, opts...)
	}
}

// WithCleanupInterval starts the cache's periodic expiry sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(r *Repository) {
		r.cleanupInterval = d
	}
}

// WithLogger overrides the logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Repository) {
		if log != nil {
			r.log = log
		}
	}
}

// Repository serves one collection. It owns its cache and live listeners;
// the store and error handler are shared.
type Repository struct {
	collection string
	store      docstore.Store
	handler    *errorhandler.Handler
	cache      *cache.Manager
	schema     Schema
	log        *zap.Logger

	cacheOpts       []cache.Option
	cleanupInterval time.Duration

	mu        sync.Mutex
	listeners map[uint64]func()
	nextID    uint64
}

// New builds a repository for collection.
func New(collection string, store docstore.Store, handler *errorhandler.Handler, opts ...Option) (*Repository, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, errors.New("repository: collection is required")
	}
	if store == nil {
		return nil, errors.New("repository: store is required")
	}
	if handler == nil {
		handler = errorhandler.New()
	}

	r := &Repository{
		collection: collection,
		store:      store,
		handler:    handler,
		log:        logger.WithModule("repository"),
		listeners:  make(map[uint64]func()),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(zap.String("collection", collection))
	r.cache = cache.New(collection, append([]cache.Option{cache.WithLogger(r.log)}, r.cacheOpts...)...)
	if r.cleanupInterval > 0 {
		r.cache.StartAutoCleanup(r.cleanupInterval)
	}
	return r, nil
}

// Collection returns the collection name.
func (r *Repository) Collection() string {
	return r.collection
}

// Cache exposes the repository's cache.
func (r *Repository) Cache() *cache.Manager {
	return r.cache
}

// Create validates data, stores it for owner and caches the result.
func (r *Repository) Create(ctx context.Context, owner string, data docstore.Document) (docstore.Document, error) {
	if owner == "" {
		return nil, apperrors.InvalidArgument("create: owner is required")
	}
	if r.schema != nil {
		if result := r.schema.Validate(data); !result.Valid {
			return nil, result.Err()
		}
	}

	payload := data.Clone()
	if payload == nil {
		payload = docstore.Document{}
	}
	delete(payload, docstore.FieldCreatedAt)
	delete(payload, docstore.FieldUpdatedAt)
	payload[docstore.FieldUserID] = owner

	meta := r.meta("create", errorhandler.Write, payload.ID(), owner)
	meta.Payload = payload
	doc, err := errorhandler.Execute(ctx, r.handler, meta, func(ctx context.Context) (docstore.Document, error) {
		return r.store.Add(ctx, r.collection, payload)
	})
	if err != nil {
		r.record("create", err)
		return nil, err
	}

	r.cache.Set(cache.DocKey(owner, doc.ID()), doc, 0)
	r.cache.Invalidate(cache.ListKey(owner))
	r.record("create", nil)
	return doc, nil
}

// Read returns a document, or nil when it does not exist. With an owner
// the cache is consulted first and documents of other owners are hidden.
func (r *Repository) Read(ctx context.Context, id, owner string) (docstore.Document, error) {
	if id == "" {
		return nil, apperrors.InvalidArgument("read: id is required")
	}
	if owner != "" {
		if cached, ok := r.cache.Get(cache.DocKey(owner, id)); ok {
			if doc, ok := cached.(docstore.Document); ok {
				return doc, nil
			}
		}
	}

	doc, err := errorhandler.Execute(ctx, r.handler, r.meta("read", errorhandler.Read, id, owner), func(ctx context.Context) (docstore.Document, error) {
		doc, err := r.store.Get(ctx, r.collection, id)
		if docstore.IsNotFound(err) {
			return nil, nil
		}
		return doc, err
	})
	if err != nil {
		r.record("read", err)
		return nil, err
	}
	r.record("read", nil)
	if doc == nil || (owner != "" && doc.UserID() != owner) {
		return nil, nil
	}

	r.cache.Set(cache.DocKey(doc.UserID(), id), doc, 0)
	return doc, nil
}

// Update merges updates into a document. When the document is cached the
// change is applied to the cache first and rolled back if the write fails.
func (r *Repository) Update(ctx context.Context, id string, updates docstore.Document, owner string) (docstore.Document, error) {
	if id == "" {
		return nil, apperrors.InvalidArgument("update: id is required")
	}
	if r.schema != nil {
		if result := r.schema.ValidatePartial(updates); !result.Valid {
			return nil, result.Err()
		}
	}

	patch := updates.Clone()
	if patch == nil {
		patch = docstore.Document{}
	}
	for _, reserved := range []string{docstore.FieldID, docstore.FieldUserID, docstore.FieldCreatedAt, docstore.FieldUpdatedAt} {
		delete(patch, reserved)
	}

	var rollback func()
	if owner != "" {
		key := cache.DocKey(owner, id)
		if cached, ok := r.cache.Get(key); ok {
			if current, ok := cached.(docstore.Document); ok {
				rollback = r.cache.OptimisticUpdate(key, current.Merge(patch), func() {
					r.log.Debug("rolled back optimistic update", zap.String("id", id))
				})
			}
		}
	}

	meta := r.meta("update", errorhandler.Write, id, owner)
	meta.Payload = patch
	doc, err := errorhandler.Execute(ctx, r.handler, meta, func(ctx context.Context) (docstore.Document, error) {
		if err := r.checkOwner(ctx, id, owner); err != nil {
			return nil, err
		}
		return r.store.Update(ctx, r.collection, id, patch)
	})
	if err != nil {
		if rollback != nil {
			rollback()
		}
		r.record("update", err)
		return nil, err
	}

	r.cache.Set(cache.DocKey(doc.UserID(), id), doc, 0)
	r.cache.Invalidate(cache.ListKey(doc.UserID()))
	r.record("update", nil)
	return doc, nil
}

// Delete removes a document permanently and drops its cache entries.
func (r *Repository) Delete(ctx context.Context, id, owner string) error {
	if id == "" {
		return apperrors.InvalidArgument("delete: id is required")
	}

	_, err := errorhandler.Execute(ctx, r.handler, r.meta("delete", errorhandler.Write, id, owner), func(ctx context.Context) (struct{}, error) {
		if err := r.checkOwner(ctx, id, owner); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, r.store.Delete(ctx, r.collection, id)
	})
	if err != nil {
		r.record("delete", err)
		return err
	}

	if owner != "" {
		r.cache.Invalidate(cache.DocKey(owner, id))
		r.cache.Invalidate(cache.ListKey(owner))
	} else {
		r.cache.InvalidatePattern(cache.Pattern{Kind: cache.KindDoc, ID: id})
		r.cache.InvalidatePattern(cache.Pattern{Kind: cache.KindList})
	}
	r.record("delete", nil)
	return nil
}

// FindAll lists owner's documents. Only the unfiltered list is cached.
func (r *Repository) FindAll(ctx context.Context, owner string, filters ...Filter) ([]docstore.Document, error) {
	if owner == "" {
		return nil, apperrors.InvalidArgument("findAll: owner is required")
	}

	listKey := cache.ListKey(owner)
	if len(filters) == 0 {
		if cached, ok := r.cache.Get(listKey); ok {
			if docs, ok := cached.([]docstore.Document); ok {
				return docs, nil
			}
		}
	}

	b := query.New(r.collection)
	clientSort := applyFilters(b, owner, filters)
	q, err := b.Build()
	if err != nil {
		r.record("findAll", err)
		return nil, err
	}

	docs, err := errorhandler.Execute(ctx, r.handler, r.meta("findAll", errorhandler.Read, "", owner), func(ctx context.Context) ([]docstore.Document, error) {
		return r.store.Query(ctx, q)
	})
	if err != nil {
		r.record("findAll", err)
		return nil, err
	}
	r.record("findAll", nil)

	// A nil result is the quota fallback and must not be cached.
	if docs == nil {
		return []docstore.Document{}, nil
	}
	sortDocuments(docs, clientSort)
	if len(filters) == 0 {
		r.cache.Set(listKey, docs, 0)
	}
	return docs, nil
}

// Subscribe streams owner's documents to callback until the returned
// function is called. Setup failures deliver one empty result and return a
// no-op unsubscribe.
func (r *Repository) Subscribe(ctx context.Context, owner string, callback func([]docstore.Document), filters ...Filter) (unsubscribe func()) {
	noop := func() {}
	if callback == nil {
		return noop
	}

	b := query.New(r.collection)
	clientSort := applyFilters(b, owner, filters)
	q, err := b.Build()
	if err != nil || owner == "" {
		r.log.Warn("subscribe setup failed", zap.String("owner", owner), zap.Error(err))
		callback([]docstore.Document{})
		return noop
	}

	onSnapshot := func(snap docstore.Snapshot) {
		for _, change := range snap.Changes {
			if change.Type == docstore.Removed {
				r.cache.HandleRealtimeUpdate(change.ID, nil, owner)
			} else {
				r.cache.HandleRealtimeUpdate(change.ID, change.Document, owner)
			}
		}
		docs := snap.Documents
		if docs == nil {
			docs = []docstore.Document{}
		}
		sortDocuments(docs, clientSort)
		if len(filters) == 0 {
			r.cache.Set(cache.ListKey(owner), docs, 0)
		}
		callback(docs)
	}

	onError := func(err error) {
		if errorhandler.Classify(err).Retryable() {
			r.log.Warn("live query interrupted, keeping last results", zap.String("owner", owner), zap.Error(err))
			return
		}
		r.log.Error("live query failed", zap.String("owner", owner), zap.Error(err))
		callback([]docstore.Document{})
	}

	stop, err := errorhandler.Execute(ctx, r.handler, r.meta("subscribe", errorhandler.Read, "", owner), func(ctx context.Context) (func(), error) {
		return r.store.Listen(ctx, q, onSnapshot, onError)
	})
	if err != nil || stop == nil {
		r.log.Warn("subscribe setup failed", zap.String("owner", owner), zap.Error(err))
		callback([]docstore.Document{})
		return noop
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = stop
	r.mu.Unlock()
	metrics.ActiveListeners.WithLabelValues(r.collection).Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			_, active := r.listeners[id]
			delete(r.listeners, id)
			r.mu.Unlock()
			if active {
				stop()
				metrics.ActiveListeners.WithLabelValues(r.collection).Dec()
			}
		})
	}
}

// BatchOp is one write inside Batch.
type BatchOp struct {
	Type docstore.WriteType `json:"type"`
	ID   string             `json:"id,omitempty"`
	Data docstore.Document  `json:"data,omitempty"`
}

// Batch applies ops atomically for owner. Malformed ops fail the whole
// batch before anything is sent to the store.
func (r *Repository) Batch(ctx context.Context, owner string, ops []BatchOp) error {
	if owner == "" {
		return apperrors.InvalidArgument("batch: owner is required")
	}
	writes := make([]docstore.Write, 0, len(ops))
	for i, op := range ops {
		if !op.Type.Valid() {
			return apperrors.InvalidArgument("batch: operation %d has unknown type %q", i, op.Type)
		}
		if op.Type != docstore.WriteCreate && op.ID == "" {
			return apperrors.InvalidArgument("batch: operation %d (%s) requires an id", i, op.Type)
		}
		if r.schema != nil {
			var result validator.Result
			switch op.Type {
			case docstore.WriteCreate:
				result = r.schema.Validate(op.Data)
			case docstore.WriteUpdate:
				result = r.schema.ValidatePartial(op.Data)
			default:
				result = validator.Result{Valid: true}
			}
			if !result.Valid {
				return fmt.Errorf("batch operation %d: %w", i, result.Err())
			}
		}

		data := op.Data.Clone()
		if data == nil {
			data = docstore.Document{}
		}
		delete(data, docstore.FieldCreatedAt)
		delete(data, docstore.FieldUpdatedAt)
		if op.Type == docstore.WriteCreate {
			data[docstore.FieldUserID] = owner
		} else {
			delete(data, docstore.FieldID)
			delete(data, docstore.FieldUserID)
		}
		writes = append(writes, docstore.Write{Type: op.Type, ID: op.ID, Data: data})
	}
	if len(writes) == 0 {
		return nil
	}

	meta := r.meta("batch", errorhandler.Write, "", owner)
	meta.Payload = encodeWrites(writes)
	_, err := errorhandler.Execute(ctx, r.handler, meta, func(ctx context.Context) (struct{}, error) {
		if err := r.checkBatchOwner(ctx, writes, owner); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, r.store.Commit(ctx, r.collection, writes)
	})
	if err != nil {
		r.record("batch", err)
		return err
	}

	r.invalidateWrites(owner, writes)
	r.record("batch", nil)
	return nil
}

// Cleanup stops every live listener, the cache sweep and clears the cache.
// The repository should not be used afterwards.
func (r *Repository) Cleanup() {
	r.mu.Lock()
	stops := make([]func(), 0, len(r.listeners))
	for id, stop := range r.listeners {
		stops = append(stops, stop)
		delete(r.listeners, id)
	}
	r.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	if len(stops) > 0 {
		metrics.ActiveListeners.WithLabelValues(r.collection).Sub(float64(len(stops)))
	}

	r.cache.StopAutoCleanup()
	r.cache.Clear()
	r.log.Debug("repository cleaned up", zap.Int("listeners", len(stops)))
}

// Stats reports listener and cache state.
func (r *Repository) Stats() Stats {
	r.mu.Lock()
	active := len(r.listeners)
	r.mu.Unlock()

	return Stats{
		Collection:      r.collection,
		ActiveListeners: active,
		Cache:           r.cache.Stats(),
	}
}

// checkOwner hides documents that belong to someone else.
func (r *Repository) checkOwner(ctx context.Context, id, owner string) error {
	if owner == "" {
		return nil
	}
	doc, err := r.store.Get(ctx, r.collection, id)
	if err != nil {
		return err
	}
	if doc.UserID() != owner {
		return docstore.Errorf(docstore.CodeNotFound, "%s/%s not found", r.collection, id)
	}
	return nil
}

func (r *Repository) invalidateWrites(owner string, writes []docstore.Write) {
	for _, w := range writes {
		if w.Type != docstore.WriteCreate && w.ID != "" {
			r.cache.Invalidate(cache.DocKey(owner, w.ID))
		}
	}
	r.cache.Invalidate(cache.ListKey(owner))
}

func (r *Repository) meta(operation string, kind errorhandler.OpKind, id, owner string) errorhandler.Meta {
	return errorhandler.Meta{
		Operation:  operation,
		Collection: r.collection,
		Kind:       kind,
		DocID:      id,
		OwnerID:    owner,
	}
}

func (r *Repository) record(operation string, err error) {
	result := "ok"
	switch {
	case apperrors.IsQueued(err):
		result = "queued"
	case err != nil:
		result = "error"
	}
	metrics.RepositoryOps.WithLabelValues(r.collection, operation, result).Inc()
}
