package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nerrad567/indi-panel/internal/infrastructure/config"
	"github.com/nerrad567/indi-panel/internal/infrastructure/logging"
)

// Message types on the panel socket.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll matches every engine event kind.
	WSChannelAll = "*"

	// wsSendBufferSize is how many encoded events may queue per panel
	// before new ones are dropped for that panel.
	wsSendBufferSize = 256
)

// WSMessage is the envelope for every frame in either direction.
// Engine events carry EventType set to the event kind.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists event kinds (property_updated, blob_saved, ...)
// for subscribe and unsubscribe requests. "*" selects all of them.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is the inbound form of WSMessage; Payload is decoded per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans engine events out to connected panels.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients *xsync.MapOf[*WSClient, struct{}]
}

// WSClient is one connected panel and its channel filter.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}

	// subject comes from the ticket; empty when auth is disabled.
	subject string
}

// CORS middleware already decides which origins reach the handler.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// wsTimings converts the second-based config into connection deadlines.
type wsTimings struct {
	ping  time.Duration
	read  time.Duration
	write time.Duration
}

func timingsFrom(cfg config.WebSocketConfig) wsTimings {
	ping := time.Duration(cfg.PingInterval) * time.Second
	pong := time.Duration(cfg.PongTimeout) * time.Second
	return wsTimings{ping: ping, read: ping + pong, write: pong}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: xsync.NewMapOf[*WSClient, struct{}](),
	}
}

// Run blocks until ctx is done, then disconnects every panel.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.clients.Range(func(client *WSClient, _ struct{}) bool {
		if h.detach(client) && client.conn != nil {
			client.conn.Close()
		}
		return true
	})
}

func (h *Hub) attach(client *WSClient) {
	h.clients.Store(client, struct{}{})
	h.logger.Debug("panel connected", "panels", h.ClientCount(), "subject", client.subject)
}

// detach removes client and closes its send queue. It reports false when
// another goroutine already did so.
func (h *Hub) detach(client *WSClient) bool {
	if _, ok := h.clients.LoadAndDelete(client); !ok {
		return false
	}
	close(client.send)
	h.logger.Debug("panel disconnected", "panels", h.ClientCount(), "subject", client.subject)
	return true
}

// Broadcast encodes payload once and queues it for every panel whose
// filter matches channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeWS(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("encoding panel event", "channel", channel, "error", err)
		return
	}

	delivered := 0
	h.clients.Range(func(client *WSClient, _ struct{}) bool {
		if client.wants(channel) {
			client.enqueue(data)
			delivered++
		}
		return true
	})
	if delivered > 0 {
		h.logger.Debug("event pushed to panels", "channel", channel, "panels", delivered)
	}
}

// ClientCount returns the number of connected panels.
func (h *Hub) ClientCount() int {
	return h.clients.Size()
}

// handleWebSocket upgrades a panel connection. With auth enabled the
// request must carry a one-shot ticket from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.secCfg.JWT.Secret != "" {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		entry, ok := s.tickets.consume(ticket)
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		subject = entry.subject
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
		subject:  subject,
	}
	s.hub.attach(client)

	t := timingsFrom(s.wsCfg)
	go client.writeLoop(t)
	go client.readLoop(t, int64(s.wsCfg.MaxMessageSize))
}

func (c *WSClient) readLoop(t wsTimings, limit int64) {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(t.read)) }
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("panel read failed", "error", err)
			} else {
				c.hub.logger.Debug("panel closed", "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		extend() //nolint:errcheck // a failed deadline surfaces as a read error
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(t.write)) //nolint:errcheck // write error reported below
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // peer may already be gone
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.updateChannels(req, true)
	case WSTypeUnsubscribe:
		c.updateChannels(req, false)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.replyError(req.ID, "unknown message type: "+req.Type)
	}
}

// updateChannels adds or removes the requested channels and echoes them.
func (c *WSClient) updateChannels(req wsRequest, add bool) {
	var sub WSSubscribePayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &sub) != nil {
		c.replyError(req.ID, "invalid "+req.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if add {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
		c.hub.logger.Debug("panel subscribed", "channels", sub.Channels, "subject", c.subject)
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

func (c *WSClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[WSChannelAll]; ok {
		return true
	}
	_, ok := c.channels[channel]
	return ok
}

// enqueue drops data when the panel is slow. The queue may be closed by
// detach between the hub lookup and the send; that panic is absorbed.
func (c *WSClient) enqueue(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a queue closed by detach
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := encodeWS(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}

// encodeWS stamps msg with the current UTC time and encodes it.
func encodeWS(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
