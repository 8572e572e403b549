// Package realtime pushes a user's activity to their open browser tabs and
// API clients over WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/metrics"
)

const (
	// MaxClients caps concurrent connections across all users.
	MaxClients = 10000

	sendBuffer   = 64
	queueSize    = 256
	readLimit    = 4 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin admits non-browser clients and pages served from this host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// EventType names a pushed message.
type EventType string

const EventActivityLogged EventType = "activity_logged"

// Activity describes one created or edited log entry.
type Activity struct {
	Change     string    `json:"change"` // "created" or "updated"
	ActionID   int64     `json:"actionId"`
	ActionName string    `json:"actionName"`
	LogID      int64     `json:"logId"`
	Delta      int64     `json:"delta"`
	Note       string    `json:"note,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event is one message pushed to a single user's clients.
type Event struct {
	Type      EventType `json:"type"`
	UserID    int64     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Data      Activity  `json:"data"`
}

// Subscription narrows what a client receives within its own user's events.
// Empty lists match everything.
type Subscription struct {
	EventTypes []EventType `json:"eventTypes"`
	ActionIDs  []int64     `json:"actionIds"`
}

func (s Subscription) matches(ev *Event) bool {
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, ev.Type) {
		return false
	}
	if len(s.ActionIDs) > 0 && !slices.Contains(s.ActionIDs, ev.Data.ActionID) {
		return false
	}
	return true
}

// Client is one open socket.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID int64

	mu  sync.RWMutex
	sub Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *Client) subscribe(s Subscription) {
	c.mu.Lock()
	c.sub = s
	c.mu.Unlock()
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connected    int   `json:"connected"`
	Users        int   `json:"users"`
	Peak         int64 `json:"peak"`
	TotalClients int64 `json:"totalClients"`
	TotalEvents  int64 `json:"totalEvents"`
	Dropped      int64 `json:"dropped"`
}

// Hub fans events out to the clients of the user they belong to. One
// goroutine (Run) owns membership changes; readers take mu.RLock.
type Hub struct {
	logger     *slog.Logger
	now        func() time.Time
	maxClients int

	mu    sync.RWMutex
	users map[int64]map[*Client]struct{}
	count int

	events     chan *Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	peak         atomic.Int64
	totalClients atomic.Int64
	totalEvents  atomic.Int64
	dropped      atomic.Int64
}

// NewHub returns a hub; call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		maxClients: MaxClients,
		users:      make(map[int64]map[*Client]struct{}),
		events:     make(chan *Event, queueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes membership changes and events until ctx is done, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.users {
				for c := range set {
					close(c.send)
				}
			}
			h.users = make(map[int64]map[*Client]struct{})
			h.count = 0
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.add(c)

		case c := <-h.unregister:
			h.remove(c)

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	set, ok := h.users[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.users[c.userID] = set
	}
	set[c] = struct{}{}
	h.count++
	n := h.count
	h.mu.Unlock()

	h.totalClients.Add(1)
	if int64(n) > h.peak.Load() {
		h.peak.Store(int64(n))
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("client connected", "user_id", c.userID, "total", n)
}

func (h *Hub) remove(clients ...*Client) {
	h.mu.Lock()
	for _, c := range clients {
		set := h.users[c.userID]
		if _, ok := set[c]; !ok {
			continue
		}
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
		close(c.send)
		h.count--
	}
	n := h.count
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("clients disconnected", "removed", len(clients), "total", n)
}

// deliver sends ev to its owner's matching clients. A client whose buffer
// is full is dropped.
func (h *Hub) deliver(ev *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode event", "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.users[ev.UserID] {
		if !c.subscription().matches(ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.remove(slow...)
	}
}

// EmitActivity queues a for userID's clients. A full queue drops the event.
func (h *Hub) EmitActivity(userID int64, a Activity) {
	ev := &Event{Type: EventActivityLogged, UserID: userID, Timestamp: h.now(), Data: a}
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
		h.logger.Warn("event queue full, dropping event", "user_id", userID)
	}
}

// Stats reports connection and event counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	connected, users := h.count, len(h.users)
	h.mu.RUnlock()
	return Stats{
		Connected:    connected,
		Users:        users,
		Peak:         h.peak.Load(),
		TotalClients: h.totalClients.Load(),
		TotalEvents:  h.totalEvents.Load(),
		Dropped:      h.dropped.Load(),
	}
}

// Handler upgrades an authenticated request to a WebSocket for its user.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserID(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Log in or send a bearer token to open a live connection",
			})
			return
		}
		h.HandleWebSocket(c.Writer, c.Request, userID)
	}
}

// HandleWebSocket upgrades the request and attaches the socket to userID.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID int64) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.Stats().Connected >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), userID: userID}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}

// readLoop applies subscription messages until the socket fails.
func (c *Client) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(msg, &sub); err != nil {
			c.hub.logger.Debug("ignoring malformed subscription", "user_id", c.userID)
			continue
		}
		c.subscribe(sub)
	}
}

// writeLoop drains send and keeps the connection alive with pings. A
// closed send channel ends the socket with a close frame.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
