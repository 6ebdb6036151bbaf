// Package realtime streams live repository snapshots to websocket clients.
// Each stream is named after a collection; a client receives only the
// documents of the owner it authenticated as.
package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 64
)

// Events sent to clients.
const (
	EventSnapshot     = "snapshot"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
	EventPong         = "pong"
)

// Message represents a JSON payload delivered to realtime subscribers.
type Message struct {
	Stream string         `json:"stream,omitempty"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Hub tracks connected clients and their live subscriptions.
type Hub struct {
	registry *repository.Registry
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu          sync.Mutex
	connections map[*connection]struct{}
}

// NewHub constructs a realtime hub serving the collections in registry.
func NewHub(registry *repository.Registry) *Hub {
	return &Hub{
		registry:    registry,
		log:         logger.WithModule("realtime"),
		connections: make(map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the HTTP connection to a WebSocket, subscribes the client
// to streams and blocks until the client disconnects.
func (h *Hub) Serve(owner string, streams []string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, conn, owner)
	h.mu.Lock()
	h.connections[client] = struct{}{}
	h.mu.Unlock()

	go client.writeLoop()
	for _, stream := range uniqueStreams(streams) {
		client.subscribe(stream)
	}
	client.readLoop()
}

// Connections reports how many clients are connected.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// Close disconnects every client and releases their subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*connection, 0, len(h.connections))
	for client := range h.connections {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	delete(h.connections, client)
	h.mu.Unlock()
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	owner  string
	send   chan Message
	done   chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]func()
	closed bool
}

func newConnection(hub *Hub, conn *websocket.Conn, owner string) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		hub:    hub,
		socket: conn,
		owner:  owner,
		send:   make(chan Message, defaultBufferSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]func()),
	}
}

func (c *connection) subscribe(stream string) {
	repo, ok := c.hub.registry.Get(stream)
	if !ok {
		c.enqueue(Message{Stream: stream, Event: EventError, Data: "unknown stream"})
		return
	}

	c.mu.Lock()
	_, exists := c.subs[stream]
	closed := c.closed
	c.mu.Unlock()
	if exists || closed {
		return
	}

	c.enqueue(Message{Stream: stream, Event: EventSubscribed})
	unsubscribe := repo.Subscribe(c.ctx, c.owner, func(docs []docstore.Document) {
		c.enqueue(Message{Stream: stream, Event: EventSnapshot, Data: docs, Meta: map[string]any{"count": len(docs)}})
	})

	c.mu.Lock()
	_, raced := c.subs[stream]
	if c.closed || raced {
		c.mu.Unlock()
		unsubscribe()
		return
	}
	c.subs[stream] = unsubscribe
	c.mu.Unlock()
}

func (c *connection) unsubscribe(stream string) {
	c.mu.Lock()
	stop, ok := c.subs[stream]
	delete(c.subs, stream)
	c.mu.Unlock()
	if ok {
		stop()
		c.enqueue(Message{Stream: stream, Event: EventUnsubscribed})
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("owner", c.owner), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.String("owner", c.owner), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			for _, stream := range uniqueStreams(ctrl.Streams) {
				c.subscribe(stream)
			}
		case "unsubscribe":
			for _, stream := range uniqueStreams(ctrl.Streams) {
				c.unsubscribe(stream)
			}
		case "ping":
			c.enqueue(Message{Event: EventPong})
		default:
			c.enqueue(Message{Event: EventError, Data: "unsupported action " + ctrl.Action})
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue never blocks; a client that cannot keep up is disconnected.
func (c *connection) enqueue(message Message) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- message:
	default:
		c.hub.log.Warn("dropping slow client", zap.String("owner", c.owner))
		go c.close()
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		subs := c.subs
		c.subs = make(map[string]func())
		c.mu.Unlock()

		for _, stop := range subs {
			stop()
		}
		c.cancel()
		close(c.done)
		c.hub.unregister(c)
		// Give the write loop a moment to send the close frame.
		time.AfterFunc(writeWait, func() { _ = c.socket.Close() })
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

// ParseStreams splits a comma separated stream list.
func ParseStreams(raw string) []string {
	return uniqueStreams(strings.Split(raw, ","))
}

func uniqueStreams(streams []string) []string {
	unique := make(map[string]struct{}, len(streams))
	var result []string
	for _, stream := range streams {
		if stream = strings.TrimSpace(stream); stream != "" {
			if _, exists := unique[stream]; !exists {
				unique[stream] = struct{}{}
				result = append(result, stream)
			}
		}
	}
	return result
}
