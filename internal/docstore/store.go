// Package docstore is the document database the repository layer talks to:
// collections of schemaless documents, native queries built from constraint
// primitives, live queries with per-document change events, and atomic
// batched writes.
package docstore

import "context"

// Store is a document database.
type Store interface {
	// Get returns a document or a not-found error.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Add stores a new document, assigning an id when data carries none,
	// and stamps createdAt/updatedAt.
	Add(ctx context.Context, collection string, data Document) (Document, error)
	// Update merges updates into an existing document and bumps updatedAt.
	Update(ctx context.Context, collection, id string, updates Document) (Document, error)
	// Delete removes a document. Deleting a missing document succeeds.
	Delete(ctx context.Context, collection, id string) error
	// Query evaluates q and returns matching documents.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Listen delivers an initial snapshot of q and then one snapshot per
	// change to its result set until stop is called. Errors raised after
	// setup go to onError.
	Listen(ctx context.Context, q Query, onSnapshot func(Snapshot), onError func(error)) (stop func(), err error)
	// Commit applies writes atomically: all succeed or none do.
	Commit(ctx context.Context, collection string, writes []Write) error
}

// ChangeType describes how a document moved relative to a live query.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

// Change is a single per-document event in a snapshot.
type Change struct {
	Type     ChangeType
	ID       string
	Document Document
}

// Snapshot is the full result of a live query after a change.
type Snapshot struct {
	Documents []Document
	Changes   []Change
}

// WriteType selects the mutation a batched Write performs.
type WriteType string

const (
	WriteCreate WriteType = "create"
	WriteUpdate WriteType = "update"
	WriteDelete WriteType = "delete"
)

// Valid reports whether t is a known write type.
func (t WriteType) Valid() bool {
	return t == WriteCreate || t == WriteUpdate || t == WriteDelete
}

// Write is one mutation inside a batch.
type Write struct {
	Type WriteType
	ID   string
	Data Document
}
