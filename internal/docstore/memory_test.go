package docstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithClock(fixedClock()))

	created, err := store.Add(ctx, "patients", Document{"name": "Ana", FieldUserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID())
	require.False(t, created.CreatedAt().IsZero())
	require.Equal(t, created.CreatedAt(), created.UpdatedAt())

	got, err := store.Get(ctx, "patients", created.ID())
	require.NoError(t, err)
	require.Equal(t, "Ana", got["name"])

	got["name"] = "mutated"
	again, err := store.Get(ctx, "patients", created.ID())
	require.NoError(t, err)
	require.Equal(t, "Ana", again["name"])

	updated, err := store.Update(ctx, "patients", created.ID(), Document{"phone": "555", FieldCreatedAt: time.Time{}})
	require.NoError(t, err)
	require.Equal(t, "Ana", updated["name"])
	require.Equal(t, "555", updated["phone"])
	require.Equal(t, created.CreatedAt(), updated.CreatedAt())
	require.True(t, updated.UpdatedAt().After(created.UpdatedAt()))

	require.NoError(t, store.Delete(ctx, "patients", created.ID()))
	_, err = store.Get(ctx, "patients", created.ID())
	require.True(t, IsNotFound(err))

	require.NoError(t, store.Delete(ctx, "patients", created.ID()))
}

func TestMemoryStoreUpdateMissingDocument(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Update(context.Background(), "patients", "missing", Document{"name": "x"})
	require.Equal(t, CodeNotFound, CodeOf(err))
}

func TestMemoryStoreAddRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Add(ctx, "settings", Document{FieldID: "u1", "clinicName": "Smile"})
	require.NoError(t, err)
	_, err = store.Add(ctx, "settings", Document{FieldID: "u1"})
	require.Equal(t, CodeAlreadyExists, CodeOf(err))
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().Query(ctx, Collection("patients"))
	require.Equal(t, CodeCancelled, CodeOf(err))
}

func seedQuotes(t *testing.T, store *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	rows := []Document{
		{FieldID: "q1", FieldUserID: "u1", "status": "draft", "total": 120, "tags": []any{"ortho"}},
		{FieldID: "q2", FieldUserID: "u1", "status": "sent", "total": 80.5, "tags": []any{"implant", "ortho"}},
		{FieldID: "q3", FieldUserID: "u1", "status": "accepted", "total": 300},
		{FieldID: "q4", FieldUserID: "u2", "status": "draft", "total": 50},
	}
	for _, row := range rows {
		_, err := store.Add(ctx, "quotes", row)
		require.NoError(t, err)
	}
}

func ids(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID())
	}
	return out
}

func TestMemoryStoreQueryOperators(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedQuotes(t, store)

	owner, err := NewWhere(FieldUserID, OpEqual, "u1")
	require.NoError(t, err)

	cases := []struct {
		name  string
		where Where
		want  []string
	}{
		{"equal", Where{Field: "status", Op: OpEqual, Value: "draft"}, []string{"q1"}},
		{"not equal", Where{Field: "status", Op: OpNotEqual, Value: "draft"}, []string{"q2", "q3"}},
		{"greater mixed numbers", Where{Field: "total", Op: OpGreater, Value: 100}, []string{"q1", "q3"}},
		{"less equal", Where{Field: "total", Op: OpLessEqual, Value: 120.0}, []string{"q1", "q2"}},
		{"in", Where{Field: "status", Op: OpIn, Value: []string{"sent", "accepted"}}, []string{"q2", "q3"}},
		{"not in", Where{Field: "status", Op: OpNotIn, Value: []any{"sent"}}, []string{"q1", "q3"}},
		{"array contains", Where{Field: "tags", Op: OpArrayContains, Value: "ortho"}, []string{"q1", "q2"}},
		{"array contains any", Where{Field: "tags", Op: OpArrayContainsAny, Value: []string{"implant"}}, []string{"q2"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			docs, err := store.Query(ctx, Collection("quotes").With(owner, tc.where))
			require.NoError(t, err)
			require.Equal(t, tc.want, ids(docs))
		})
	}
}

func TestMemoryStoreQueryOrderCursorLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedQuotes(t, store)

	base := Collection("quotes").With(
		Where{Field: FieldUserID, Op: OpEqual, Value: "u1"},
		OrderBy{Field: "total", Direction: Desc},
	)

	docs, err := store.Query(ctx, base)
	require.NoError(t, err)
	require.Equal(t, []string{"q3", "q1", "q2"}, ids(docs))

	docs, err = store.Query(ctx, base.With(Limit{N: 2}))
	require.NoError(t, err)
	require.Equal(t, []string{"q3", "q1"}, ids(docs))

	docs, err = store.Query(ctx, base.With(Cursor{Kind: StartAfter, Value: Document{"total": 300}}))
	require.NoError(t, err)
	require.Equal(t, []string{"q1", "q2"}, ids(docs))

	docs, err = store.Query(ctx, base.With(Cursor{Kind: StartAt, Value: 120}))
	require.NoError(t, err)
	require.Equal(t, []string{"q1", "q2"}, ids(docs))

	docs, err = store.Query(ctx, base.With(Cursor{Kind: EndBefore, Value: 80.5}))
	require.NoError(t, err)
	require.Equal(t, []string{"q3", "q1"}, ids(docs))
}

func TestNewWhereValidatesListOperands(t *testing.T) {
	_, err := NewWhere("status", OpIn, "draft")
	require.Equal(t, CodeInvalidArgument, CodeOf(err))

	_, err = NewWhere("status", OpIn, []string{})
	require.Error(t, err)

	tooMany := make([]int, MaxDisjunction+1)
	_, err = NewWhere("status", OpNotIn, tooMany)
	require.Error(t, err)

	_, err = NewWhere("status", Operator("~="), 1)
	require.Error(t, err)

	_, err = NewLimit(0)
	require.Error(t, err)

	_, err = NewCursor(StartAfter, nil)
	require.Error(t, err)

	order, err := NewOrderBy("name", "")
	require.NoError(t, err)
	require.Equal(t, Asc, order.Direction)
}

func TestMemoryStoreListenDeliversChanges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	q := Collection("patients").With(Where{Field: FieldUserID, Op: OpEqual, Value: "u1"})

	var snapshots []Snapshot
	stop, err := store.Listen(ctx, q, func(s Snapshot) {
		snapshots = append(snapshots, s)
	}, func(error) {})
	require.NoError(t, err)

	require.Len(t, snapshots, 1)
	require.Empty(t, snapshots[0].Documents)

	doc, err := store.Add(ctx, "patients", Document{"name": "Ana", FieldUserID: "u1"})
	require.NoError(t, err)
	_, err = store.Add(ctx, "patients", Document{"name": "Other", FieldUserID: "u2"})
	require.NoError(t, err)

	_, err = store.Update(ctx, "patients", doc.ID(), Document{"name": "Ana Maria"})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "patients", doc.ID()))

	require.Len(t, snapshots, 4)
	require.Equal(t, Added, snapshots[1].Changes[0].Type)
	require.Equal(t, Modified, snapshots[2].Changes[0].Type)
	require.Equal(t, "Ana Maria", snapshots[2].Documents[0]["name"])
	require.Equal(t, Removed, snapshots[3].Changes[0].Type)
	require.Equal(t, doc.ID(), snapshots[3].Changes[0].ID)
	require.Empty(t, snapshots[3].Documents)

	require.Equal(t, 1, store.ListenerCount())
	stop()
	stop()
	require.Equal(t, 0, store.ListenerCount())

	_, err = store.Add(ctx, "patients", Document{"name": "Late", FieldUserID: "u1"})
	require.NoError(t, err)
	require.Len(t, snapshots, 4)
}

func TestMemoryStoreCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	existing, err := store.Add(ctx, "doctors", Document{"name": "Dr. Lima"})
	require.NoError(t, err)

	err = store.Commit(ctx, "doctors", []Write{
		{Type: WriteCreate, Data: Document{"name": "Dr. Costa"}},
		{Type: WriteUpdate, ID: "missing", Data: Document{"name": "x"}},
	})
	require.Equal(t, CodeNotFound, CodeOf(err))

	docs, err := store.Query(ctx, Collection("doctors"))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	err = store.Commit(ctx, "doctors", []Write{
		{Type: WriteCreate, ID: "d2", Data: Document{"name": "Dr. Costa"}},
		{Type: WriteUpdate, ID: existing.ID(), Data: Document{"active": false}},
	})
	require.NoError(t, err)

	docs, err = store.Query(ctx, Collection("doctors"))
	require.NoError(t, err)
	require.Len(t, docs, 2)

	require.NoError(t, store.Commit(ctx, "doctors", []Write{{Type: WriteDelete, ID: "d2"}}))
	_, err = store.Get(ctx, "doctors", "d2")
	require.True(t, IsNotFound(err))
}

func TestCloneIsDeep(t *testing.T) {
	when := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	original := Document{
		"name":    "Ana",
		"visit":   when,
		"address": map[string]any{"city": "Porto"},
		"teeth":   []any{11, map[string]any{"code": 12}},
		"tags":    []string{"a"},
	}

	cloned := original.Clone()
	require.Equal(t, original, cloned)

	cloned["address"].(map[string]any)["city"] = "Braga"
	cloned["teeth"].([]any)[1].(map[string]any)["code"] = 99
	cloned["tags"].([]string)[0] = "z"

	require.Equal(t, "Porto", original["address"].(map[string]any)["city"])
	require.Equal(t, 12, original["teeth"].([]any)[1].(map[string]any)["code"])
	require.Equal(t, "a", original["tags"].([]string)[0])
	require.IsType(t, time.Time{}, cloned["visit"])
}

func TestCompareValuesAcrossRepresentations(t *testing.T) {
	when := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Equal(t, 0, CompareValues(when, when.Format(time.RFC3339)))
	require.Equal(t, 0, CompareValues(int64(3), 3.0))
	require.Equal(t, -1, CompareValues(nil, "a"))
	require.Equal(t, -1, CompareValues(false, true))
	require.Equal(t, 1, CompareValues("b", "a"))
}
