package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/dentaldesk/internal/cache"
	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/errorhandler"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/validator"
)

// countingStore counts backend calls and injects failures.
type countingStore struct {
	*docstore.MemoryStore

	mu          sync.Mutex
	gets        int
	queries     int
	commits     int
	getErr      error
	updateErrs  []error
	queryErr    error
	listenErr   error
	liveOnError func(error)
}

func (s *countingStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	s.mu.Lock()
	s.gets++
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Get(ctx, collection, id)
}

func (s *countingStore) Update(ctx context.Context, collection, id string, updates docstore.Document) (docstore.Document, error) {
	s.mu.Lock()
	if len(s.updateErrs) > 0 {
		err := s.updateErrs[0]
		if len(s.updateErrs) > 1 {
			s.updateErrs = s.updateErrs[1:]
		}
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.MemoryStore.Update(ctx, collection, id, updates)
}

func (s *countingStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	s.mu.Lock()
	s.queries++
	err := s.queryErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Query(ctx, q)
}

func (s *countingStore) Listen(ctx context.Context, q docstore.Query, onSnapshot func(docstore.Snapshot), onError func(error)) (func(), error) {
	s.mu.Lock()
	err := s.listenErr
	s.liveOnError = onError
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Listen(ctx, q, onSnapshot, onError)
}

func (s *countingStore) Commit(ctx context.Context, collection string, writes []docstore.Write) error {
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return s.MemoryStore.Commit(ctx, collection, writes)
}

func (s *countingStore) counts() (gets, queries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.queries
}

func newTestRepo(t *testing.T, opts ...Option) (*Repository, *countingStore) {
	t.Helper()
	store := &countingStore{MemoryStore: docstore.NewMemoryStore()}
	handler := errorhandler.New(
		errorhandler.WithLogger(zap.NewNop()),
		errorhandler.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	repo, err := New("patients", store, handler, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(repo.Cleanup)
	return repo, store
}

func TestNewRequiresCollectionAndStore(t *testing.T) {
	_, err := New("", docstore.NewMemoryStore(), nil)
	require.Error(t, err)
	_, err = New("patients", nil, nil)
	require.Error(t, err)
}

func TestCreateThenReadIsServedFromCache(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID())
	require.Equal(t, "owner1", created.UserID())
	require.False(t, created.CreatedAt().IsZero())
	require.False(t, created.UpdatedAt().IsZero())

	got, err := repo.Read(ctx, created.ID(), "owner1")
	require.NoError(t, err)
	require.Equal(t, created, got)

	gets, _ := store.counts()
	require.Zero(t, gets)
}

func TestReadMissingDocumentReturnsNil(t *testing.T) {
	repo, _ := newTestRepo(t)

	got, err := repo.Read(context.Background(), "nope", "owner1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestReadHidesOtherOwnersDocuments(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	doc, err := store.MemoryStore.Add(ctx, "patients", docstore.Document{"userId": "owner2", "name": "X"})
	require.NoError(t, err)

	got, err := repo.Read(ctx, doc.ID(), "owner1")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = repo.Read(ctx, doc.ID(), "")
	require.NoError(t, err)
	require.Equal(t, "X", got["name"])
}

func TestCreateValidatesEveryField(t *testing.T) {
	schema := validator.NewSchema(validator.Rules{
		"name":  "required,min=2",
		"email": "required,email",
	})
	repo, _ := newTestRepo(t, WithSchema(schema))

	_, err := repo.Create(context.Background(), "owner1", docstore.Document{"name": "A"})
	appErr := apperrors.FromError(err)
	require.Equal(t, apperrors.KindValidation, appErr.Kind)
	require.Len(t, appErr.Fields, 2)
}

func TestUpdateValidatesPartially(t *testing.T) {
	schema := validator.NewSchema(validator.Rules{
		"name":  "required,min=2",
		"email": "required,email",
	})
	repo, _ := newTestRepo(t, WithSchema(schema))
	ctx := context.Background()

	created, err := repo.Create(ctx, "owner1", docstore.Document{"name": "Ann", "email": "ann@example.com"})
	require.NoError(t, err)

	updated, err := repo.Update(ctx, created.ID(), docstore.Document{"name": "Anna"}, "owner1")
	require.NoError(t, err)
	require.Equal(t, "Anna", updated["name"])

	_, err = repo.Update(ctx, created.ID(), docstore.Document{"email": "nope"}, "owner1")
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestUpdateFailureRollsBackOptimisticEntry(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)

	store.updateErrs = []error{docstore.Errorf(docstore.CodeUnavailable, "backend offline")}
	_, err = repo.Update(ctx, created.ID(), docstore.Document{"name": "B"}, "owner1")
	require.True(t, apperrors.IsKind(err, apperrors.KindTransient))

	got, err := repo.Read(ctx, created.ID(), "owner1")
	require.NoError(t, err)
	require.Equal(t, "A", got["name"])
}

func TestUpdateWithoutCachedEntrySkipsOptimisticPath(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	doc, err := store.MemoryStore.Add(ctx, "patients", docstore.Document{"userId": "owner1", "name": "A"})
	require.NoError(t, err)

	store.updateErrs = []error{docstore.Errorf(docstore.CodePermissionDenied, "denied")}
	_, err = repo.Update(ctx, doc.ID(), docstore.Document{"name": "B"}, "owner1")
	require.True(t, apperrors.IsKind(err, apperrors.KindPermission))

	_, cached := repo.Cache().Get(cache.DocKey("owner1", doc.ID()))
	require.False(t, cached)

	store.updateErrs = nil
	updated, err := repo.Update(ctx, doc.ID(), docstore.Document{"name": "C"}, "owner1")
	require.NoError(t, err)
	require.Equal(t, "C", updated["name"])
}

func TestUpdateRejectsOtherOwner(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)

	_, err = repo.Update(ctx, created.ID(), docstore.Document{"name": "B"}, "owner2")
	require.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestUpdateKeepsReservedFields(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)

	updated, err := repo.Update(ctx, created.ID(), docstore.Document{"userId": "owner2", "id": "other"}, "owner1")
	require.NoError(t, err)
	require.Equal(t, "owner1", updated.UserID())
	require.Equal(t, created.ID(), updated.ID())
}

func TestFindAllCachesUnfilteredResults(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)

	first, err := repo.FindAll(ctx, "owner1")
	require.NoError(t, err)
	second, err := repo.FindAll(ctx, "owner1")
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, queries := store.counts()
	require.Equal(t, 1, queries)

	_, err = repo.Create(ctx, "owner1", docstore.Document{"name": "B"})
	require.NoError(t, err)
	third, err := repo.FindAll(ctx, "owner1")
	require.NoError(t, err)
	require.Len(t, third, 2)

	_, queries = store.counts()
	require.Equal(t, 2, queries)
}

func TestFindAllFiltersAlwaysHitBackend(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	for _, status := range []string{"active", "archived", "active"} {
		_, err := repo.Create(ctx, "owner1", docstore.Document{"status": status})
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, "owner2", docstore.Document{"status": "active"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		docs, err := repo.FindAll(ctx, "owner1", Equals{Field: "status", Value: "active"})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		for _, doc := range docs {
			require.Equal(t, "owner1", doc.UserID())
		}
	}
	_, queries := store.counts()
	require.Equal(t, 2, queries)
}

func TestFindAllOwnerScopeCannotBeReplaced(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, "victim", docstore.Document{"name": "Secret"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, "attacker", docstore.Document{"name": "Own"})
	require.NoError(t, err)

	docs, err := repo.FindAll(ctx, "attacker", Equals{Field: docstore.FieldUserID, Value: "victim"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "Own", docs[0]["name"])

	delivered := make(chan []docstore.Document, 4)
	unsubscribe := repo.Subscribe(ctx, "attacker", func(docs []docstore.Document) {
		delivered <- docs
	}, Equals{Field: docstore.FieldUserID, Value: "victim"})
	defer unsubscribe()

	select {
	case docs := <-delivered:
		require.Len(t, docs, 1)
		require.Equal(t, "attacker", docs[0].UserID())
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestParseFiltersRejectsReservedFields(t *testing.T) {
	for _, key := range []string{docstore.FieldID, docstore.FieldUserID, docstore.FieldCreatedAt, docstore.FieldUpdatedAt} {
		_, err := ParseFilters(map[string]any{key: "x"})
		require.True(t, apperrors.IsKind(err, apperrors.KindInvalidArgument), "key %s", key)
	}

	filters, err := ParseFilters(map[string]any{"status": "active"})
	require.NoError(t, err)
	require.Equal(t, []Filter{Equals{Field: "status", Value: "active"}}, filters)
}

func TestFindAllSortsClientSide(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for _, total := range []int{200, 50, 125} {
		_, err := repo.Create(ctx, "owner1", docstore.Document{"total": total})
		require.NoError(t, err)
	}

	desc, err := repo.FindAll(ctx, "owner1", Sort{Field: "total"})
	require.NoError(t, err)
	require.Equal(t, []any{200, 125, 50}, totals(desc))

	asc, err := repo.FindAll(ctx, "owner1", Sort{Field: "total", Order: docstore.Asc, Force: true})
	require.NoError(t, err)
	require.Equal(t, []any{50, 125, 200}, totals(asc))
}

func TestFindAllLimitAndCursor(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for _, total := range []int{10, 20, 30, 40} {
		_, err := repo.Create(ctx, "owner1", docstore.Document{"total": total})
		require.NoError(t, err)
	}

	page, err := repo.FindAll(ctx, "owner1", Sort{Field: "total", Order: docstore.Asc, Force: true}, Limit{N: 2})
	require.NoError(t, err)
	require.Equal(t, []any{10, 20}, totals(page))

	next, err := repo.FindAll(ctx, "owner1",
		Sort{Field: "total", Order: docstore.Asc, Force: true},
		Limit{N: 2},
		Cursor{Value: page[len(page)-1]},
	)
	require.NoError(t, err)
	require.Equal(t, []any{30, 40}, totals(next))
}

func TestFindAllQuotaReadReturnsEmptyAndSkipsCache(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	store.queryErr = docstore.Errorf(docstore.CodeResourceExhausted, "quota")
	docs, err := repo.FindAll(ctx, "owner1")
	require.NoError(t, err)
	require.NotNil(t, docs)
	require.Empty(t, docs)

	_, cached := repo.Cache().Get(cache.ListKey("owner1"))
	require.False(t, cached)
}

func TestFindAllRequiresOwner(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.FindAll(context.Background(), "")
	require.True(t, apperrors.IsKind(err, apperrors.KindInvalidArgument))
}

func TestDeleteInvalidatesCaches(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)
	_, err = repo.FindAll(ctx, "owner1")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, created.ID(), "owner1"))

	_, cached := repo.Cache().Get(cache.DocKey("owner1", created.ID()))
	require.False(t, cached)
	docs, err := repo.FindAll(ctx, "owner1")
	require.NoError(t, err)
	require.Empty(t, docs)

	_, queries := store.counts()
	require.Equal(t, 2, queries)

	got, err := repo.Read(ctx, created.ID(), "owner1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteWithoutOwnerInvalidatesEveryMatchingKey(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)
	_, err = repo.FindAll(ctx, "owner1")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, created.ID(), ""))
	require.Zero(t, repo.Cache().Len())
}

func TestSubscribeDeliversAndRefreshesListCache(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	var (
		mu        sync.Mutex
		snapshots [][]docstore.Document
	)
	unsubscribe := repo.Subscribe(ctx, "owner1", func(docs []docstore.Document) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, docs)
	})

	created, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, snapshots, 2)
	require.Empty(t, snapshots[0])
	require.Len(t, snapshots[1], 1)
	mu.Unlock()

	// A change from another client refreshes the unfiltered list cache.
	_, err = store.MemoryStore.Update(ctx, "patients", created.ID(), docstore.Document{"name": "A2"})
	require.NoError(t, err)

	docs, err := repo.FindAll(ctx, "owner1")
	require.NoError(t, err)
	require.Equal(t, "A2", docs[0]["name"])
	_, queries := store.counts()
	require.Zero(t, queries)

	require.Equal(t, 1, repo.Stats().ActiveListeners)
	unsubscribe()
	unsubscribe()
	require.Zero(t, repo.Stats().ActiveListeners)
	require.Zero(t, store.ListenerCount())
}

func TestSubscribeRemovedDocumentInvalidatesCaches(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A", "status": "active"})
	require.NoError(t, err)

	var latest []docstore.Document
	unsubscribe := repo.Subscribe(ctx, "owner1", func(docs []docstore.Document) {
		latest = docs
	}, Equals{Field: "status", Value: "active"})
	defer unsubscribe()
	require.Len(t, latest, 1)

	_, err = repo.FindAll(ctx, "owner1")
	require.NoError(t, err)
	_, queriesBefore := store.counts()

	// Removed by another client, bypassing this repository.
	require.NoError(t, store.MemoryStore.Delete(ctx, "patients", created.ID()))
	require.Empty(t, latest)

	_, cached := repo.Cache().Get(cache.DocKey("owner1", created.ID()))
	require.False(t, cached)
	_, cached = repo.Cache().Get(cache.ListKey("owner1"))
	require.False(t, cached)

	_, err = repo.FindAll(ctx, "owner1")
	require.NoError(t, err)
	_, queriesAfter := store.counts()
	require.Equal(t, queriesBefore+1, queriesAfter)
}

func TestSubscribeKeepsDataOnTransientLiveError(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	calls := 0
	var latest []docstore.Document
	unsubscribe := repo.Subscribe(ctx, "owner1", func(docs []docstore.Document) {
		calls++
		latest = docs
	})
	defer unsubscribe()
	require.Equal(t, 1, calls)

	store.liveOnError(docstore.Errorf(docstore.CodeUnavailable, "reconnecting"))
	require.Equal(t, 1, calls)

	store.liveOnError(docstore.Errorf(docstore.CodePermissionDenied, "revoked"))
	require.Equal(t, 2, calls)
	require.NotNil(t, latest)
	require.Empty(t, latest)
}

func TestSubscribeSetupFailureDeliversEmptyOnce(t *testing.T) {
	repo, store := newTestRepo(t)
	store.listenErr = docstore.Errorf(docstore.CodePermissionDenied, "denied")

	calls := 0
	unsubscribe := repo.Subscribe(context.Background(), "owner1", func(docs []docstore.Document) {
		calls++
		require.Empty(t, docs)
	})
	require.Equal(t, 1, calls)
	require.NotPanics(t, unsubscribe)
	require.Zero(t, repo.Stats().ActiveListeners)
}

func TestBatchAppliesAtomically(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	existing, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)
	doomed, err := repo.Create(ctx, "owner1", docstore.Document{"name": "Z"})
	require.NoError(t, err)

	err = repo.Batch(ctx, "owner1", []BatchOp{
		{Type: docstore.WriteCreate, Data: docstore.Document{"name": "N"}},
		{Type: docstore.WriteUpdate, ID: existing.ID(), Data: docstore.Document{"name": "A2"}},
		{Type: docstore.WriteDelete, ID: doomed.ID()},
	})
	require.NoError(t, err)

	docs, err := repo.FindAll(ctx, "owner1", Sort{Field: "name", Order: docstore.Asc})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "A2", docs[0]["name"])
	require.Equal(t, "N", docs[1]["name"])
	require.Equal(t, 1, store.commits)
}

func TestBatchRejectsUnknownTypeBeforeCommit(t *testing.T) {
	repo, store := newTestRepo(t)

	err := repo.Batch(context.Background(), "owner1", []BatchOp{
		{Type: docstore.WriteCreate, Data: docstore.Document{"name": "N"}},
		{Type: "upsert", ID: "x"},
	})
	require.True(t, apperrors.IsKind(err, apperrors.KindInvalidArgument))
	require.Zero(t, store.commits)
}

func TestBatchRejectsOtherOwnersDocuments(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	foreign, err := repo.Create(ctx, "owner2", docstore.Document{"name": "B"})
	require.NoError(t, err)

	err = repo.Batch(ctx, "owner1", []BatchOp{
		{Type: docstore.WriteCreate, Data: docstore.Document{"name": "N"}},
		{Type: docstore.WriteDelete, ID: foreign.ID()},
	})
	require.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	require.Zero(t, store.commits)

	got, err := repo.Read(ctx, foreign.ID(), "owner2")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestQueuedWriteReplaysThroughRegistry(t *testing.T) {
	queue := errorhandler.NewMemoryQueue()
	store := &countingStore{MemoryStore: docstore.NewMemoryStore()}
	handler := errorhandler.New(errorhandler.WithLogger(zap.NewNop()), errorhandler.WithQueue(queue))
	repo, err := New("patients", store, handler, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer repo.Cleanup()

	registry := NewRegistry()
	require.NoError(t, registry.Register(repo))
	require.Error(t, registry.Register(repo))

	ctx := context.Background()
	created, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)

	store.updateErrs = []error{docstore.Errorf(docstore.CodeResourceExhausted, "quota")}
	_, err = repo.Update(ctx, created.ID(), docstore.Document{"name": "B"}, "owner1")
	require.True(t, apperrors.IsQueued(err))

	store.updateErrs = nil
	result, err := errorhandler.Drain(ctx, queue, 0, registry.Replay)
	require.NoError(t, err)
	require.Equal(t, 1, result.Replayed)

	got, err := repo.Read(ctx, created.ID(), "owner1")
	require.NoError(t, err)
	require.Equal(t, "B", got["name"])
}

func newQueuedRepo(t *testing.T) (*Repository, *countingStore, *errorhandler.MemoryQueue) {
	t.Helper()
	queue := errorhandler.NewMemoryQueue()
	store := &countingStore{MemoryStore: docstore.NewMemoryStore()}
	handler := errorhandler.New(errorhandler.WithLogger(zap.NewNop()), errorhandler.WithQueue(queue))
	repo, err := New("patients", store, handler, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(repo.Cleanup)
	return repo, store, queue
}

func TestQueuedWritesFromOtherOwnerAreNotReplayed(t *testing.T) {
	repo, store, queue := newQueuedRepo(t)
	ctx := context.Background()

	target, err := repo.Create(ctx, "victim", docstore.Document{"name": "A"})
	require.NoError(t, err)
	id := target.ID()

	// Ownership cannot be checked while reads are out of quota.
	store.getErr = docstore.Errorf(docstore.CodeResourceExhausted, "read quota")
	_, err = repo.Update(ctx, id, docstore.Document{"name": "pwned"}, "attacker")
	require.True(t, apperrors.IsQueued(err))
	require.True(t, apperrors.IsQueued(repo.Delete(ctx, id, "attacker")))
	require.True(t, apperrors.IsQueued(repo.Batch(ctx, "attacker", []BatchOp{
		{Type: docstore.WriteUpdate, ID: id, Data: docstore.Document{"name": "pwned"}},
	})))
	store.getErr = nil

	result, err := errorhandler.Drain(ctx, queue, 0, repo.Replay)
	require.Error(t, err)
	require.Equal(t, errorhandler.DrainResult{Dropped: 3}, result)

	stored, err := store.MemoryStore.Get(ctx, "patients", id)
	require.NoError(t, err)
	require.Equal(t, "A", stored["name"])
	require.Equal(t, "victim", stored.UserID())
}

func TestQueuedOwnerCheckedWritesReplayForOwner(t *testing.T) {
	repo, store, queue := newQueuedRepo(t)
	ctx := context.Background()

	target, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)

	store.getErr = docstore.Errorf(docstore.CodeResourceExhausted, "read quota")
	_, err = repo.Update(ctx, target.ID(), docstore.Document{"name": "B"}, "owner1")
	require.True(t, apperrors.IsQueued(err))
	store.getErr = nil

	result, err := errorhandler.Drain(ctx, queue, 0, repo.Replay)
	require.NoError(t, err)
	require.Equal(t, 1, result.Replayed)

	got, err := repo.Read(ctx, target.ID(), "owner1")
	require.NoError(t, err)
	require.Equal(t, "B", got["name"])
}

func TestQueuedBatchPayloadRoundTrips(t *testing.T) {
	writes := []docstore.Write{
		{Type: docstore.WriteCreate, Data: docstore.Document{"name": "N"}},
		{Type: docstore.WriteDelete, ID: "d1", Data: docstore.Document{}},
	}
	decoded, err := decodeWrites(encodeWrites(writes))
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	require.Equal(t, docstore.WriteCreate, decoded[0].Type)
	require.Equal(t, "N", decoded[0].Data["name"])
	require.Equal(t, "d1", decoded[1].ID)
}

func TestCleanupStopsListenersAndClearsCache(t *testing.T) {
	repo, store := newTestRepo(t)
	ctx := context.Background()

	repo.Subscribe(ctx, "owner1", func([]docstore.Document) {})
	repo.Subscribe(ctx, "owner2", func([]docstore.Document) {})
	_, err := repo.Create(ctx, "owner1", docstore.Document{"name": "A"})
	require.NoError(t, err)
	require.Equal(t, 2, store.ListenerCount())

	repo.Cleanup()
	require.Zero(t, store.ListenerCount())
	require.Zero(t, repo.Cache().Len())
	require.Zero(t, repo.Stats().ActiveListeners)
}

func totals(docs []docstore.Document) []any {
	out := make([]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc["total"])
	}
	return out
}
