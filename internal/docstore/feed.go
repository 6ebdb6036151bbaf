package docstore

import (
	"reflect"
	"sync"
)

// feed fans out collection changes to live queries. Each listener keeps the
// last result it delivered so snapshots carry per-document changes.
type feed struct {
	mu        sync.Mutex
	nextID    int64
	listeners map[int64]*listener
}

type listener struct {
	// deliverMu serializes callbacks; mu guards state and is never held
	// while a callback runs.
	deliverMu  sync.Mutex
	mu         sync.Mutex
	query      Query
	onSnapshot func(Snapshot)
	onError    func(error)
	last       map[string]Document
	stopped    bool
}

func newFeed() *feed {
	return &feed{listeners: make(map[int64]*listener)}
}

// add registers a listener and returns the function that removes it.
func (f *feed) add(q Query, onSnapshot func(Snapshot), onError func(error)) (*listener, func()) {
	l := &listener{query: q, onSnapshot: onSnapshot, onError: onError}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = l
	f.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, id)
			f.mu.Unlock()

			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
		})
	}
	return l, stop
}

// count returns the number of registered listeners.
func (f *feed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// publish re-runs every live query on collection and delivers snapshots for
// those whose result changed. Callbacks run without the feed lock held.
func (f *feed) publish(collection string, load func(Query) ([]Document, error)) {
	f.mu.Lock()
	targets := make([]*listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		if l.query.Collection == collection {
			targets = append(targets, l)
		}
	}
	f.mu.Unlock()

	for _, l := range targets {
		docs, err := load(l.query)
		l.deliver(docs, err, false)
	}
}

// deliver diffs docs against the previous result. The initial delivery is
// always sent, even when empty.
func (l *listener) deliver(docs []Document, err error, initial bool) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	if err != nil {
		onError := l.onError
		l.mu.Unlock()
		if onError != nil {
			onError(err)
		}
		return
	}

	changes := diff(l.last, docs)
	next := make(map[string]Document, len(docs))
	for _, d := range docs {
		next[d.ID()] = d
	}
	l.last = next
	onSnapshot := l.onSnapshot
	l.mu.Unlock()

	if len(changes) == 0 && !initial {
		return
	}
	if onSnapshot != nil {
		onSnapshot(Snapshot{Documents: cloneAll(docs), Changes: changes})
	}
}

func diff(prev map[string]Document, docs []Document) []Change {
	var changes []Change
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		id := d.ID()
		seen[id] = struct{}{}
		old, ok := prev[id]
		switch {
		case !ok:
			changes = append(changes, Change{Type: Added, ID: id, Document: d.Clone()})
		case !reflect.DeepEqual(old, d):
			changes = append(changes, Change{Type: Modified, ID: id, Document: d.Clone()})
		}
	}
	for id, old := range prev {
		if _, ok := seen[id]; !ok {
			changes = append(changes, Change{Type: Removed, ID: id, Document: old.Clone()})
		}
	}
	return changes
}

func cloneAll(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}
