package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pss-server/pkg/auth"
	"pss-server/pkg/errors"
	"pss-server/pkg/messaging"
	"pss-server/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 256
	broadcastQueue = 1024
)

// Client is one connected event stream consumer. It only receives events of
// its own organization, optionally narrowed to one session or goal.
type Client struct {
	hub     *EventHub
	conn    *websocket.Conn
	send    chan []byte
	logger  *logrus.Logger
	orgID   string
	subject string
}

// EventHub fans domain events out to websocket clients. It implements
// messaging.Publisher so it can sit next to the AMQP publisher.
type EventHub struct {
	logger     *logrus.Logger
	upgrader   websocket.Upgrader
	clients    map[*Client]bool
	broadcast  chan messaging.Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
}

// NewEventHub creates an event hub. With allowedOrigins empty every origin
// may connect.
func NewEventHub(logger *logrus.Logger, allowedOrigins []string) *EventHub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[origin] = true
	}

	return &EventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				return origins[r.Header.Get("Origin")]
			},
		},
		clients:    make(map[*Client]bool),
		broadcast:  make(chan messaging.Event, broadcastQueue),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run dispatches events until ctx is cancelled, then disconnects all clients
func (h *EventHub) Run(ctx context.Context) {
	h.logger.Info("Starting event stream hub")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			h.logger.Info("Shutting down event stream hub")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{
				"org_id":  client.orgID,
				"subject": client.subject,
			}).Debug("Client connected to event stream")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.WithField("org_id", client.orgID).Debug("Client disconnected from event stream")
			}
			h.mutex.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).WithField("event_type", event.Type).Error("Failed to marshal event")
				continue
			}

			h.mutex.Lock()
			for client := range h.clients {
				if !client.wants(event) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// Slow consumer; drop it rather than stall every tenant.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (c *Client) wants(event messaging.Event) bool {
	if event.OrgID != c.orgID {
		return false
	}
	return c.subject == "" || c.subject == event.SubjectID
}

// Publish queues an event for delivery. It never blocks on slow clients; when
// the queue is full the event is dropped and an error returned.
func (h *EventHub) Publish(ctx context.Context, event messaging.Event) error {
	select {
	case h.broadcast <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("event stream queue full, dropped %s", event.Type)
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWs upgrades an authenticated request to an event stream. The optional
// subject query parameter narrows the stream to one session or goal.
func (h *EventHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user.OrgID == "" {
		errors.WriteError(w, errors.NewUnauthenticated("authentication required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade connection to WebSocket")
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, clientBuffer),
		logger:  h.logger,
		orgID:   user.OrgID,
		subject: r.URL.Query().Get("subject"),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump discards client messages and notices disconnects
func (c *Client) readPump() {
	disconnected := metrics.WebsocketConnected()
	defer func() {
		disconnected()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("Event stream closed unexpectedly")
			}
			return
		}
	}
}

// writePump pumps events from the hub to the websocket connection, one JSON
// event per message
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
