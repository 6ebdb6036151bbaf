// Package cache holds per-collection, TTL-bounded copies of documents and
// document lists with optimistic-update support and change notification.
package cache

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/pkg/logger"
	"github.com/charlesng35/dentaldesk/pkg/metrics"
)

const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 1000
)

// Entry is one cached value.
type Entry struct {
	Data      any
	CreatedAt time.Time
	ExpiresAt time.Time

	seq uint64
}

// Event is published to subscribers after every mutation.
type Event struct {
	Key            string
	Data           any
	IsInvalidation bool
	Timestamp      time.Time
}

// Stats summarises a cache for observability endpoints.
type Stats struct {
	Collection  string `json:"collection"`
	Size        int    `json:"size"`
	MaxSize     int    `json:"maxSize"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expired     uint64 `json:"expired"`
	Subscribers int    `json:"subscribers"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTTL sets the TTL applied when Set receives ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// WithMaxSize bounds the number of entries.
func WithMaxSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// Manager caches values for one collection. Stored and returned values are
// deep copies so callers never share memory with the cache.
type Manager struct {
	collection string
	defaultTTL time.Duration
	maxSize    int
	now        func() time.Time
	log        *zap.Logger

	mu      sync.Mutex
	entries map[Key]*Entry
	seq     uint64
	stats   Stats

	subMu   sync.RWMutex
	subs    map[uint64]func(Event)
	nextSub uint64

	cleanupMu   sync.Mutex
	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// New returns an empty cache for collection.
func New(collection string, opts ...Option) *Manager {
	m := &Manager{
		collection: collection,
		defaultTTL: DefaultTTL,
		maxSize:    DefaultMaxSize,
		now:        time.Now,
		log:        logger.WithModule("cache"),
		entries:    make(map[Key]*Entry),
		subs:       make(map[uint64]func(Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("collection", collection))
	return m
}

// Collection returns the collection the cache serves.
func (m *Manager) Collection() string {
	return m.collection
}

// KeyString renders the composite string form of key.
func (m *Manager) KeyString(key Key) string {
	return key.composite(m.collection)
}

// Get returns a copy of the cached value. Missing and expired entries report
// false; expired entries are removed.
func (m *Manager) Get(key Key) (any, bool) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		m.stats.Misses++
		m.mu.Unlock()
		m.record("miss")
		return nil, false
	}
	if m.now().After(entry.ExpiresAt) {
		delete(m.entries, key)
		m.stats.Misses++
		m.stats.Expired++
		size := len(m.entries)
		m.mu.Unlock()
		m.record("expire")
		m.gauge(size)
		return nil, false
	}
	m.stats.Hits++
	data := entry.Data
	m.mu.Unlock()

	m.record("hit")
	return docstore.Clone(data), true
}

// Set stores a copy of data under key. ttl <= 0 applies the default TTL.
// At capacity the entry with the oldest creation time is evicted first.
func (m *Manager) Set(key Key, data any, ttl time.Duration) {
	if !key.Valid() {
		panic(fmt.Sprintf("cache: malformed key %+v", key))
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	stored := docstore.Clone(data)
	now := m.now()

	m.mu.Lock()
	evicted := false
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxSize {
		evicted = m.evictOldestLocked()
	}
	m.seq++
	m.entries[key] = &Entry{
		Data:      stored,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		seq:       m.seq,
	}
	size := len(m.entries)
	m.mu.Unlock()

	if evicted {
		m.record("evict")
	}
	m.record("set")
	m.gauge(size)
	m.notify(Event{Key: m.KeyString(key), Data: docstore.Clone(stored), Timestamp: now})
}

// Invalidate removes key and notifies subscribers.
func (m *Manager) Invalidate(key Key) {
	m.mu.Lock()
	_, existed := m.entries[key]
	delete(m.entries, key)
	size := len(m.entries)
	m.mu.Unlock()

	if existed {
		m.record("invalidate")
		m.gauge(size)
	}
	m.notify(Event{Key: m.KeyString(key), IsInvalidation: true, Timestamp: m.now()})
}

// InvalidatePattern removes every key selected by p and returns the count.
func (m *Manager) InvalidatePattern(p Pattern) int {
	return m.invalidateWhere(p.Match)
}

// InvalidatePrefix removes every key whose composite string starts with
// prefix.
func (m *Manager) InvalidatePrefix(prefix string) int {
	return m.invalidateWhere(func(k Key) bool {
		return strings.HasPrefix(m.KeyString(k), prefix)
	})
}

func (m *Manager) invalidateWhere(match func(Key) bool) int {
	m.mu.Lock()
	var removed []Key
	for k := range m.entries {
		if match(k) {
			delete(m.entries, k)
			removed = append(removed, k)
		}
	}
	size := len(m.entries)
	m.mu.Unlock()

	if len(removed) == 0 {
		return 0
	}
	m.gauge(size)
	now := m.now()
	for _, k := range removed {
		m.record("invalidate")
		m.notify(Event{Key: m.KeyString(k), IsInvalidation: true, Timestamp: now})
	}
	return len(removed)
}

// OptimisticUpdate stores data immediately and returns a rollback that
// restores the previous entry exactly, or removes the key when there was
// none, and then calls onRollback. The rollback runs at most once.
func (m *Manager) OptimisticUpdate(key Key, data any, onRollback func()) (rollback func()) {
	m.mu.Lock()
	var snapshot *Entry
	if prev, ok := m.entries[key]; ok {
		cpy := *prev
		snapshot = &cpy
	}
	m.mu.Unlock()

	m.Set(key, data, 0)

	var once sync.Once
	return func() {
		once.Do(func() {
			if snapshot == nil {
				m.Invalidate(key)
			} else {
				m.restore(key, snapshot)
			}
			if onRollback != nil {
				onRollback()
			}
		})
	}
}

func (m *Manager) restore(key Key, entry *Entry) {
	m.mu.Lock()
	m.entries[key] = entry
	size := len(m.entries)
	m.mu.Unlock()

	m.gauge(size)
	m.notify(Event{Key: m.KeyString(key), Data: docstore.Clone(entry.Data), Timestamp: m.now()})
}

// HandleRealtimeUpdate applies a pushed change: the document entry is
// refreshed, or dropped when data is nil, and the owner's list entry is
// always invalidated.
func (m *Manager) HandleRealtimeUpdate(docID string, data any, owner string) {
	if docID != "" {
		if isNil(data) {
			m.Invalidate(DocKey(owner, docID))
		} else {
			m.Set(DocKey(owner, docID), data, 0)
		}
	}
	m.Invalidate(ListKey(owner))
}

// Subscribe registers fn for every cache event. A panicking subscriber is
// logged and does not affect the others.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) notify(evt Event) {
	m.subMu.RLock()
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range subs {
		m.deliver(fn, evt)
	}
}

func (m *Manager) deliver(fn func(Event), evt Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("cache subscriber panicked", zap.String("key", evt.Key), zap.Any("panic", r))
		}
	}()
	fn(evt)
}

// Cleanup removes expired entries and returns how many were dropped.
func (m *Manager) Cleanup() int {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for k, entry := range m.entries {
		if entry.ExpiresAt.Before(now) {
			delete(m.entries, k)
			removed++
		}
	}
	m.stats.Expired += uint64(removed)
	size := len(m.entries)
	m.mu.Unlock()

	if removed > 0 {
		metrics.CacheEvents.WithLabelValues(m.collection, "expire").Add(float64(removed))
		m.gauge(size)
		m.log.Debug("cache sweep", zap.Int("removed", removed))
	}
	return removed
}

// StartAutoCleanup sweeps expired entries every interval, replacing any
// sweep already running.
func (m *Manager) StartAutoCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	m.stopCleanupLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	m.cleanupStop = stop
	m.cleanupDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}

// StopAutoCleanup stops the periodic sweep, if any.
func (m *Manager) StopAutoCleanup() {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()
	m.stopCleanupLocked()
}

func (m *Manager) stopCleanupLocked() {
	if m.cleanupStop == nil {
		return
	}
	close(m.cleanupStop)
	<-m.cleanupDone
	m.cleanupStop = nil
	m.cleanupDone = nil
}

// Clear drops every entry.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.entries = make(map[Key]*Entry)
	m.mu.Unlock()
	m.gauge(0)
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Stats returns a snapshot of cache counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := m.stats
	s.Collection = m.collection
	s.Size = len(m.entries)
	s.MaxSize = m.maxSize
	m.mu.Unlock()

	m.subMu.RLock()
	s.Subscribers = len(m.subs)
	m.subMu.RUnlock()
	return s
}

func (m *Manager) evictOldestLocked() bool {
	var (
		oldestKey Key
		oldest    *Entry
	)
	for k, entry := range m.entries {
		if oldest == nil || entry.CreatedAt.Before(oldest.CreatedAt) ||
			(entry.CreatedAt.Equal(oldest.CreatedAt) && entry.seq < oldest.seq) {
			oldestKey, oldest = k, entry
		}
	}
	if oldest == nil {
		return false
	}
	delete(m.entries, oldestKey)
	m.stats.Evictions++
	return true
}

func (m *Manager) record(event string) {
	metrics.CacheEvents.WithLabelValues(m.collection, event).Inc()
}

func (m *Manager) gauge(size int) {
	metrics.CacheEntries.WithLabelValues(m.collection).Set(float64(size))
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
