package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	events "github.com/mark3748/jobdesk-go/cmd/api/events"
	metrics "github.com/mark3748/jobdesk-go/cmd/api/metrics"
	"github.com/mark3748/jobdesk-go/internal/jobs"
)

// Hub maintains the set of active clients and broadcasts job events to them.
type Hub struct {
	rdb        *redis.Client
	register   chan *Client
	unregister chan *Client
	clients    map[*Client]bool
	broadcast  chan jobs.Event
	done       chan struct{} // closed when Run returns
}

// NewHub constructs a Hub. rdb may be nil, in which case only events passed
// to Broadcast reach clients.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		rdb:        rdb,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan jobs.Event, 16),
		done:       make(chan struct{}),
	}
}

// Run starts the hub loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	var ch <-chan *redis.Message
	if h.rdb != nil {
		sub := h.rdb.Subscribe(ctx, events.Channel)
		ch = sub.Channel()
		go func() {
			<-ctx.Done()
			_ = sub.Close()
		}()
	}
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case msg, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			var ev jobs.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil {
				h.fanout(ev)
			}
		case c := <-h.register:
			h.clients[c] = true
			metrics.WSClients.Inc()
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case ev := <-h.broadcast:
			h.fanout(ev)
		}
	}
}

func (h *Hub) fanout(ev jobs.Event) {
	for c := range h.clients {
		if c.jobRef != "" && c.jobRef != ev.JobRef {
			continue
		}
		select {
		case c.send <- ev:
		default:
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	metrics.WSClients.Dec()
}

// Broadcast enqueues an event for all clients. It is a no-op once the hub
// has stopped.
func (h *Hub) Broadcast(ev jobs.Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Register adds a client to the hub. It reports false, leaving the client
// unregistered, once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. It returns immediately once the hub has
// stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Client represents a WebSocket connection, optionally following one job.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan jobs.Event
	jobRef string
}

// NewClient constructs a client. An empty jobRef receives every event.
func NewClient(h *Hub, conn *websocket.Conn, jobRef string) *Client {
	return &Client{hub: h, conn: conn, send: make(chan jobs.Event, 8), jobRef: jobRef}
}

// ReadPump reads messages from the WebSocket to detect disconnects.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump writes events to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	defer func() { _ = c.conn.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

// Upgrader allows any origin; the route sits behind the auth middleware.
var Upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Handler upgrades the request and attaches the connection to h. The
// optional job_ref query parameter narrows the feed to one job.
func Handler(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade")
			return
		}
		client := NewClient(h, conn, c.Query("job_ref"))
		if !h.Register(client) {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			_ = conn.Close()
			return
		}
		go client.WritePump(context.WithoutCancel(c.Request.Context()))
		client.ReadPump()
	}
}
