package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/physics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// EventFrame is the event name of frame updates.
	EventFrame = "frame"

	// EventError is sent to a single client whose message was rejected.
	EventError = "error"
)

// Encoding of outbound messages, chosen per client with ?format=.
type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingMsgpack
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message represents an outbound WebSocket message
type Message struct {
	SessionID string        `json:"session_id" msgpack:"session_id"`
	Frame     *engine.Frame `json:"frame,omitempty" msgpack:"frame,omitempty"`
	Event     string        `json:"event,omitempty" msgpack:"event,omitempty"`
	Data      interface{}   `json:"data,omitempty" msgpack:"data,omitempty"`
}

// InboundMessage is what clients send. Only "input" is understood; it
// replaces the held controls of the session's real-time loop.
type InboundMessage struct {
	Type  string        `json:"type" msgpack:"type"`
	Input physics.Input `json:"input" msgpack:"input"`
}

// InputHandler applies controls received from a client.
type InputHandler func(ctx context.Context, sessionID string, in physics.Input) error

// Client represents a WebSocket client
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	encoding  Encoding
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients by session ID
	sessions map[string]map[*Client]bool
	mu       sync.RWMutex

	// Messages queued by BroadcastEvent
	broadcast chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	onInput InputHandler
	logger  zerolog.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sessions:   make(map[string]map[*Client]bool),
		broadcast:  make(chan *Message, engine.WebSocketBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("component", "websocket").Logger()
	return h
}

// SetInputHandler sets where inbound input messages go. The hub is usually
// built before the service that handles input, hence the setter.
func (h *Hub) SetInputHandler(fn InputHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onInput = fn
}

// Run starts the hub's event loop and returns when ctx is done. All
// remaining clients are disconnected on return.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.deliver(message)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// ServeWS handles WebSocket requests from clients
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, engine.WebSocketBufferSize),
		sessionID: sessionID,
	}
	if r.URL.Query().Get("format") == "msgpack" {
		client.encoding = EncodingMsgpack
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// BroadcastFrame sends a frame to all clients of a session. It never blocks
// the caller, so it is safe to call from a simulation loop.
func (h *Hub) BroadcastFrame(sessionID string, frame *engine.Frame) {
	h.deliver(&Message{
		SessionID: sessionID,
		Frame:     frame,
		Event:     EventFrame,
	})
}

// BroadcastEvent queues a custom event for all clients in a session
func (h *Hub) BroadcastEvent(sessionID string, event string, data interface{}) {
	message := &Message{
		SessionID: sessionID,
		Event:     event,
		Data:      data,
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn().Str("session", sessionID).Str("event", event).Msg("broadcast queue full, event dropped")
	}
}

// ClientCount returns the number of clients watching a session
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionKey(sessionID)])
}

// sessionKey folds IDs the way the session manager does, so "AB12" and
// "ab12" reach the same clients.
func sessionKey(id string) string {
	return strings.ToLower(id)
}

// registerClient adds a client to a session
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[sessionKey(client.sessionID)] == nil {
		h.sessions[sessionKey(client.sessionID)] = make(map[*Client]bool)
	}
	h.sessions[sessionKey(client.sessionID)][client] = true

	h.logger.Debug().Str("session", client.sessionID).
		Int("clients", len(h.sessions[sessionKey(client.sessionID)])).Msg("client registered")
}

// unregisterClient removes a client from a session
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.sessions[sessionKey(client.sessionID)]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	close(client.send)

	// Clean up empty sessions
	if len(clients) == 0 {
		delete(h.sessions, sessionKey(client.sessionID))
	}

	h.logger.Debug().Str("session", client.sessionID).
		Int("clients", len(clients)).Msg("client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.sessions {
		for client := range clients {
			h.removeLocked(client)
		}
	}
}

// deliver encodes a message once per encoding in use and hands it to every
// client of the session. Clients whose buffer is full are dropped.
func (h *Hub) deliver(message *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.sessions[sessionKey(message.SessionID)]
	if !ok {
		return
	}

	var encoded [2][]byte
	for client := range clients {
		data := encoded[client.encoding]
		if data == nil {
			var err error
			data, err = encode(message, client.encoding)
			if err != nil {
				h.logger.Error().Err(err).Str("session", message.SessionID).Msg("failed to encode message")
				return
			}
			encoded[client.encoding] = data
		}

		select {
		case client.send <- data:
		default:
			// Client's send buffer is full, drop it
			h.removeLocked(client)
		}
	}
}

func encode(message *Message, enc Encoding) ([]byte, error) {
	if enc == EncodingMsgpack {
		return msgpack.Marshal(message)
	}
	return json.Marshal(message)
}

func decode(data []byte, enc Encoding, in *InboundMessage) error {
	if enc == EncodingMsgpack {
		return msgpack.Unmarshal(data, in)
	}
	return json.Unmarshal(data, in)
}

// handleInbound applies one client message and reports problems back to
// that client only.
func (c *Client) handleInbound(data []byte, msgType int) {
	enc := EncodingJSON
	if msgType == websocket.BinaryMessage {
		enc = EncodingMsgpack
	}

	var in InboundMessage
	if err := decode(data, enc, &in); err != nil {
		c.reply(EventError, "malformed message")
		return
	}
	if in.Type != "input" {
		c.reply(EventError, "unknown message type: "+in.Type)
		return
	}

	c.hub.mu.RLock()
	handler := c.hub.onInput
	c.hub.mu.RUnlock()
	if handler == nil {
		c.reply(EventError, "input not accepted")
		return
	}

	if err := handler(context.Background(), c.sessionID, in.Input); err != nil {
		c.reply(EventError, err.Error())
	}
}

func (c *Client) reply(event string, data interface{}) {
	payload, err := encode(&Message{SessionID: c.sessionID, Event: event, Data: data}, c.encoding)
	if err != nil {
		return
	}

	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if !c.hub.sessions[sessionKey(c.sessionID)][c] {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("session", c.sessionID).Msg("websocket read failed")
			}
			break
		}
		c.handleInbound(data, msgType)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.encoding == EncodingMsgpack {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(msgType, message); err != nil {
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
