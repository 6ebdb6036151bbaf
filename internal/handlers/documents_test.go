package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dentaldesk/internal/handlers/testutil"
)

func TestDocumentCRUDLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.Token("clinic-1")

	created := env.Create("patients", map[string]any{"firstName": "Ada", "lastName": "Lovelace"}, token)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	require.Equal(t, "clinic-1", created["userId"])

	w := env.Request(http.MethodGet, "/api/patients/"+id, nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodPatch, "/api/patients/"+id, map[string]any{"phone": "555-0100", "userId": "intruder"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &updated)
	require.Equal(t, "555-0100", updated["phone"])
	require.Equal(t, "clinic-1", updated["userId"])

	w = env.Request(http.MethodDelete, "/api/patients/"+id, nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/patients/"+id, nil, token)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentRoutesRequireToken(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/patients", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.Request(http.MethodGet, "/api/patients", nil, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDocumentValidationReportsFields(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/patients", map[string]any{"email": "nope"}, env.Token("clinic-1"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.Equal(t, "VALIDATION_FAILED", resp.Error.Code)

	var fields []string
	for _, f := range resp.Error.Fields {
		fields = append(fields, f.Field)
	}
	require.ElementsMatch(t, []string{"firstName", "lastName", "email"}, fields)

	w = env.Request(http.MethodPost, "/api/patients", []any{"not", "an", "object"}, env.Token("clinic-1"))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentsAreScopedToOwner(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.Token("clinic-1")
	other := env.Token("clinic-2")

	created := env.Create("doctors", map[string]any{"firstName": "Grace", "lastName": "Hopper"}, owner)
	id := created["id"].(string)

	w := env.Request(http.MethodGet, "/api/doctors/"+id, nil, other)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.Request(http.MethodPatch, "/api/doctors/"+id, map[string]any{"firstName": "Mallory"}, other)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	w = env.Request(http.MethodDelete, "/api/doctors/"+id, nil, other)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/doctors", nil, other)
	require.Equal(t, http.StatusOK, w.Code)
	require.Zero(t, testutil.DecodeResponse(t, w).Meta.Total)
}

func TestDocumentListRejectsReservedFieldFilters(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.Token("clinic-1")
	other := env.Token("clinic-2")

	created := env.Create("patients", map[string]any{"firstName": "Secret", "lastName": "Record"}, owner)
	id := created["id"].(string)

	for _, query := range []string{"userId=clinic-1", "id=" + id, "createdAt=2026-01-01", "updatedAt=2026-01-01"} {
		w := env.Request(http.MethodGet, "/api/patients?"+query, nil, other)
		require.Equal(t, http.StatusBadRequest, w.Code, "query %s: %s", query, w.Body.String())
		require.NotContains(t, w.Body.String(), "Secret")
	}

	w := env.Request(http.MethodGet, "/api/patients?userId=clinic-1", nil, owner)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentListFiltersAndPages(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.Token("clinic-1")

	for _, name := range []string{"Carter", "Adams", "Baker", "Dunn"} {
		env.Create("patients", map[string]any{"firstName": "P", "lastName": name, "status": "active"}, token)
	}
	env.Create("patients", map[string]any{"firstName": "P", "lastName": "Evans", "status": "archived"}, token)

	w := env.Request(http.MethodGet, "/api/patients?status=archived", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var docs []map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &docs)
	require.Len(t, docs, 1)
	require.Equal(t, "Evans", docs[0]["lastName"])

	w = env.Request(http.MethodGet, "/api/patients?status=active&sortBy=lastName&sortOrder=asc&forceOrderBy=true&limitCount=2", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	testutil.DecodeInto(t, resp.Data, &docs)
	require.Equal(t, []any{"Adams", "Baker"}, []any{docs[0]["lastName"], docs[1]["lastName"]})
	require.Equal(t, "Baker", resp.Meta.NextCursor)

	w = env.Request(http.MethodGet, "/api/patients?status=active&sortBy=lastName&sortOrder=asc&forceOrderBy=true&limitCount=2&startAfterDoc=Baker", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &docs)
	require.Len(t, docs, 2)
	require.Equal(t, []any{"Carter", "Dunn"}, []any{docs[0]["lastName"], docs[1]["lastName"]})

	w = env.Request(http.MethodGet, "/api/patients?sortBy=lastName&sortOrder=sideways", nil, token)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodGet, "/api/patients?limitCount=zero", nil, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentBatch(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.Token("clinic-1")

	existing := env.Create("quotes", map[string]any{"patientId": "p1", "total": 100}, token)

	w := env.Request(http.MethodPost, "/api/quotes/batch", map[string]any{
		"operations": []map[string]any{
			{"type": "create", "data": map[string]any{"patientId": "p1", "total": 50}},
			{"type": "update", "id": existing["id"], "data": map[string]any{"status": "accepted"}},
		},
	}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/quotes", nil, token)
	require.Equal(t, 2, testutil.DecodeResponse(t, w).Meta.Total)

	w = env.Request(http.MethodPost, "/api/quotes/batch", map[string]any{
		"operations": []map[string]any{{"type": "upsert", "id": "x"}},
	}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPost, "/api/quotes/batch", map[string]any{"operations": []any{}}, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/invoices", nil, env.Token("clinic-1"))
	require.Equal(t, http.StatusNotFound, w.Code)
}
