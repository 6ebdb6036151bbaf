package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/dentaldesk/internal/api"
	iauth "github.com/charlesng35/dentaldesk/internal/auth"
	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/errorhandler"
	"github.com/charlesng35/dentaldesk/internal/realtime"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/internal/services"
	"github.com/charlesng35/dentaldesk/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory store for handler tests.
type Env struct {
	T       *testing.T
	Store   *docstore.MemoryStore
	Catalog *services.Catalog
	Hub     *realtime.Hub
	Router  *gin.Engine
	Tokens  *iauth.TokenService
}

// NewEnv provisions a fresh handler test environment.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	store := docstore.NewMemoryStore()
	handler := errorhandler.New(
		errorhandler.WithLogger(zap.NewNop()),
		errorhandler.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	catalog, err := services.NewCatalog(store, handler, repository.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(catalog.Close)

	tokens, err := iauth.NewTokenService(iauth.Config{
		Secret: "test-suite-super-secret-key-32-bytes!!",
		Issuer: "test-suite",
	})
	require.NoError(t, err)

	hub := realtime.NewHub(catalog.Registry)
	t.Cleanup(hub.Close)

	router, err := api.NewRouter(api.Dependencies{
		Registry:       catalog.Registry,
		Tokens:         tokens,
		Hub:            hub,
		Patients:       catalog.Patients,
		Doctors:        catalog.Doctors,
		Quotes:         catalog.Quotes,
		TreatmentPlans: catalog.TreatmentPlans,
		Settings:       catalog.Settings,
		MetricsPath:    "/metrics",
	})
	require.NoError(t, err)

	return &Env{
		T:       t,
		Store:   store,
		Catalog: catalog,
		Hub:     hub,
		Router:  router,
		Tokens:  tokens,
	}
}

// Token issues a bearer token for owner.
func (e *Env) Token(owner string) string {
	e.T.Helper()
	token, err := e.Tokens.Issue(iauth.Identity{OwnerID: owner, Name: owner})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Queued  bool                `json:"queued"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// Create posts data to collection and returns the stored document.
func (e *Env) Create(collection string, data map[string]any, token string) map[string]any {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/"+collection, data, token)
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var doc map[string]any
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &doc)
	return doc
}
