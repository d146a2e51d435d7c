package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmuc-msm/onpass-socket/internal/access"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/config"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/logging"
	"github.com/jmuc-msm/onpass-socket/internal/metrics"
)

const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSTypeScanEvent carries a device scan event, as HTTP POST /events does.
	WSTypeScanEvent = "http_sio_event"

	// WSTypeUserAccess carries a door choice after a door selection.
	WSTypeUserAccess = "user_access"

	// ChannelAll subscribes a client to every channel.
	ChannelAll = "*"

	wsSendBufferSize = 256
)

// WSMessage is the envelope of every WebSocket frame.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is WSMessage as received; the payload is decoded per type.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// AccessService is the part of access.Processor the transports use.
type AccessService interface {
	Submit(ctx context.Context, ev access.ScanEvent) error
	HandleUserAccess(ctx context.Context, req access.UserAccessRequest, notify access.Broadcaster) error
	InFlight() int
}

// Hub manages WebSocket connections and fans out broadcasts. It implements
// access.Broadcaster.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	access   AccessService
	accessMu sync.RWMutex

	// inbound tracks goroutines started for client requests.
	inbound sync.WaitGroup
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// SetAccess connects the inbound scan and door messages to svc. The hub
// is created before the processor that broadcasts through it.
func (h *Hub) SetAccess(svc AccessService) {
	h.accessMu.Lock()
	h.access = svc
	h.accessMu.Unlock()
}

func (h *Hub) accessService() AccessService {
	h.accessMu.RLock()
	defer h.accessMu.RUnlock()
	return h.access
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the caller that removes the client
// from the map closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	metrics.WebSocketClients.Set(float64(n))
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends an event to every client subscribed to channel or to
// ChannelAll. Clients with a full buffer miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := eventFrame(channel, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sentCount++
		}
	}
	h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Wait blocks until inbound requests started by clients have finished or
// ctx is done.
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inbound.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	metrics.WebSocketClients.Set(0)
}

func eventFrame(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// ServeHTTP upgrades the connection and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	h.Register(client)

	go client.writePump(h.cfg)
	go client.readPump(h.cfg)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message keeps the connection alive.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg, true)
	case WSTypeUnsubscribe:
		c.handleSubscribe(msg, false)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	case WSTypeScanEvent:
		c.handleScanEvent(msg)
	case WSTypeUserAccess:
		c.handleUserAccess(msg)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) handleSubscribe(msg wsInbound, subscribe bool) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if subscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	if subscribe {
		c.hub.logger.Debug("websocket client subscribed", "channels", sub.Channels)
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels})
		return
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
}

// handleScanEvent submits a scan reported over the socket. The reply says
// whether it was accepted; the outcome itself arrives as broadcasts.
func (c *WSClient) handleScanEvent(msg wsInbound) {
	svc := c.hub.accessService()
	if svc == nil {
		c.sendError(msg.ID, "access processing unavailable")
		return
	}

	ev, err := access.ParseScanEvent(msg.Payload)
	if err == nil {
		err = svc.Submit(context.Background(), ev)
	}
	switch {
	case err == nil:
		c.sendResponse(msg.ID, WSTypeResponse, map[string]string{"status": "accepted"})
	case errors.Is(err, access.ErrNotScanEvent):
		c.sendResponse(msg.ID, WSTypeResponse, map[string]string{"status": "ignored"})
	default:
		c.sendError(msg.ID, err.Error())
	}
}

// handleUserAccess runs a door choice on its own goroutine, since it holds
// for the door-open delay. The success notice goes to this client only.
// Failures past validation are not reported on the socket.
func (c *WSClient) handleUserAccess(msg wsInbound) {
	svc := c.hub.accessService()
	if svc == nil {
		c.sendError(msg.ID, "access processing unavailable")
		return
	}

	req, err := access.ParseUserAccessRequest(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}

	c.hub.inbound.Add(1)
	go func() {
		defer c.hub.inbound.Done()
		if err := svc.HandleUserAccess(context.Background(), req, clientNotifier{c}); err != nil {
			if errors.Is(err, access.ErrInvalidEvent) {
				c.sendError(msg.ID, err.Error())
				return
			}
			c.hub.logger.Debug("user access over websocket failed", "door_id", req.DoorID, "error", err)
		}
	}()
}

// clientNotifier delivers broadcasts to a single client regardless of its
// subscriptions.
type clientNotifier struct {
	c *WSClient
}

func (n clientNotifier) Broadcast(channel string, payload any) {
	data, err := eventFrame(channel, payload)
	if err != nil {
		n.c.hub.logger.Error("failed to marshal notification", "channel", channel, "error", err)
		return
	}
	n.c.trySend(data)
}

// trySend drops data when the client has gone or its buffer is full.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subscriptions[ChannelAll]; ok {
		return true
	}
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
