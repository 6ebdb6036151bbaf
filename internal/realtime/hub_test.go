package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/errorhandler"
	"github.com/charlesng35/dentaldesk/internal/realtime"
	"github.com/charlesng35/dentaldesk/internal/repository"
)

type wireMessage struct {
	Stream string          `json:"stream"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Meta   map[string]any  `json:"meta"`
}

func setupHub(t *testing.T, owner string, streams ...string) (*realtime.Hub, *repository.Repository, *websocket.Conn) {
	t.Helper()

	store := docstore.NewMemoryStore()
	repo, err := repository.New("patients", store, errorhandler.New())
	require.NoError(t, err)
	registry := repository.NewRegistry()
	require.NoError(t, registry.Register(repo))

	hub := realtime.NewHub(registry)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(owner, streams, w, r)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return hub, repo, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) wireMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readMessage(t, conn)
		if msg.Event == event {
			return msg
		}
	}
	t.Fatalf("event %s not received", event)
	return wireMessage{}
}

func TestHubStreamsOwnerSnapshots(t *testing.T) {
	hub, repo, conn := setupHub(t, "clinic-1", "patients")

	msg := readMessage(t, conn)
	require.Equal(t, realtime.EventSubscribed, msg.Event)
	require.Equal(t, "patients", msg.Stream)

	msg = readUntil(t, conn, realtime.EventSnapshot)
	require.EqualValues(t, 0, msg.Meta["count"])

	_, err := repo.Create(context.Background(), "clinic-2", docstore.Document{"firstName": "Other"})
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), "clinic-1", docstore.Document{"firstName": "Ada"})
	require.NoError(t, err)

	msg = readUntil(t, conn, realtime.EventSnapshot)
	var docs []map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &docs))
	require.Len(t, docs, 1)
	require.Equal(t, "Ada", docs[0]["firstName"])
	require.Equal(t, 1, hub.Connections())
}

func TestHubControlMessages(t *testing.T) {
	_, repo, conn := setupHub(t, "clinic-1")

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "ping"}))
	require.Equal(t, realtime.EventPong, readMessage(t, conn).Event)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "streams": []string{"patients", "unknown"}}))
	readUntil(t, conn, realtime.EventSnapshot)
	require.Eventually(t, func() bool { return repo.Stats().ActiveListeners == 1 }, time.Second, 10*time.Millisecond)

	msg := readUntil(t, conn, realtime.EventError)
	require.Equal(t, "unknown", msg.Stream)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "unsubscribe", "streams": []string{"patients"}}))
	require.Equal(t, realtime.EventUnsubscribed, readUntil(t, conn, realtime.EventUnsubscribed).Event)
	require.Equal(t, 0, repo.Stats().ActiveListeners)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "dance"}))
	require.Equal(t, realtime.EventError, readMessage(t, conn).Event)
}

func TestHubReleasesSubscriptionsOnDisconnect(t *testing.T) {
	hub, repo, conn := setupHub(t, "clinic-1", "patients")
	readUntil(t, conn, realtime.EventSnapshot)
	require.Equal(t, 1, repo.Stats().ActiveListeners)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return hub.Connections() == 0 && repo.Stats().ActiveListeners == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub, repo, conn := setupHub(t, "clinic-1", "patients")
	readUntil(t, conn, realtime.EventSnapshot)

	hub.Close()
	require.Equal(t, 0, hub.Connections())
	require.Equal(t, 0, repo.Stats().ActiveListeners)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestParseStreams(t *testing.T) {
	require.Equal(t, []string{"patients", "quotes"}, realtime.ParseStreams(" patients,quotes,,patients "))
	require.Nil(t, realtime.ParseStreams(""))
}
