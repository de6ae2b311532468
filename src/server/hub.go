package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"quote-aggregator/src/aggregation"
	"quote-aggregator/src/auth"
	"quote-aggregator/src/events"
	"quote-aggregator/src/helpers"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/protocol"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RequestLookup resolves a request id to its live aggregator.
type RequestLookup interface {
	Lookup(requestID string) (*aggregation.Aggregator, error)
}

// -----------------------------------------------------------------------------
// Hub
// -----------------------------------------------------------------------------

// Hub is the connection manager: it owns every real-time connection and runs
// the auth / subscribe / unsubscribe protocol on their behalf.
type Hub struct {
	Config   models.MWebSocketConfig
	Auth     *auth.Authenticator
	Requests RequestLookup
	Bus      *events.EventBus
	Logger   *logger.Logger

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client

	mu          sync.RWMutex
	connections int
	done        chan struct{}
	stopOnce    sync.Once
}

// -----------------------------------------------------------------------------

func NewHub(cfg models.MWebSocketConfig, authenticator *auth.Authenticator, requests RequestLookup, bus *events.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		Config:     cfg,
		Auth:       authenticator,
		Requests:   requests,
		Bus:        bus,
		Logger:     log,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// Run is the hub loop. It returns when ctx is done, closing every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setConnections(len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.setConnections(len(h.clients))
			}

		case <-ctx.Done():
			h.Stop()
			for client := range h.clients {
				go client.close()
			}
			h.clients = make(map[*Client]struct{})
			h.setConnections(0)
			return
		}
	}
}

// Stop makes the hub refuse new connections.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// -----------------------------------------------------------------------------

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) setConnections(n int) {
	h.mu.Lock()
	h.connections = n
	h.mu.Unlock()
}

// Connections is the number of live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connections
}

// -----------------------------------------------------------------------------
// WebSocket Handler
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (h *Hub) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := newClient(uuid.NewString(), h, conn)

	// connection_ack goes out before anything else
	client.Enqueue(&protocol.ConnectionAck{ClientID: client.id})

	if !h.registerClient(client) {
		conn.Close()
		return
	}
	h.Logger.Info("Client %s connected from %s", client.id, c.ClientIP())

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Protocol state machine
// -----------------------------------------------------------------------------

// HandleClientMessage dispatches one inbound frame. Every failure is answered
// with an error frame and the connection stays usable.
func (h *Hub) HandleClientMessage(client *Client, raw []byte) {
	msg, err := protocol.DecodeClientMessage(raw)
	if err != nil {
		h.Logger.Debug("Client %s sent an invalid message: %v", client.id, err)
		h.sendError(client, err)
		return
	}

	switch m := msg.(type) {
	case *protocol.AuthMessage:
		h.handleAuth(client, m)
	case *protocol.SubscribeQuotesMessage:
		h.handleSubscribe(client, m)
	case *protocol.UnsubscribeQuotesMessage:
		h.handleUnsubscribe(client, m)
	default:
		h.sendError(client, helpers.NewProtocolError("unsupported message type: %s", msg.MessageType()))
	}
}

// -----------------------------------------------------------------------------

func (h *Hub) handleAuth(client *Client, m *protocol.AuthMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	principal, err := h.Auth.Authenticate(ctx, m.UserID, m.OrganizationID)
	if err != nil {
		h.Logger.Info("Client %s failed to authenticate as %s: %v", client.id, m.UserID, err)
		h.sendError(client, err)
		return
	}

	client.mu.Lock()
	changed := client.principal != nil && *client.principal != principal
	client.principal = &principal
	var dropped []string
	if changed {
		for id := range client.subscriptions {
			dropped = append(dropped, id)
		}
		client.subscriptions = make(map[string]bool)
	}
	client.mu.Unlock()

	// a different identity may not keep the previous one's subscriptions
	for _, id := range dropped {
		h.Bus.Unsubscribe(id, client.id)
	}

	client.Enqueue(&protocol.AuthSuccess{})
}

// -----------------------------------------------------------------------------

func (h *Hub) handleSubscribe(client *Client, m *protocol.SubscribeQuotesMessage) {
	principal, ok := client.Principal()
	if !ok {
		h.sendError(client, helpers.NewAuthenticationError("not authenticated", nil))
		return
	}

	agg, err := h.Requests.Lookup(m.RequestID)
	if err != nil {
		h.sendError(client, err)
		return
	}

	if !principal.CanView(agg.Request()) {
		h.Logger.Warning("Client %s (%s/%s) denied access to request %s", client.id, principal.OrganizationID, principal.UserID, m.RequestID)
		h.sendError(client, helpers.NewAuthorizationError("request "+m.RequestID+" belongs to another organization"))
		return
	}

	if err := h.Bus.Subscribe(m.RequestID, principal.OrganizationID, client, agg); err != nil {
		h.sendError(client, err)
		return
	}

	client.mu.Lock()
	client.subscriptions[m.RequestID] = true
	client.mu.Unlock()
}

// -----------------------------------------------------------------------------

// handleUnsubscribe never cancels the request; other subscribers may remain.
func (h *Hub) handleUnsubscribe(client *Client, m *protocol.UnsubscribeQuotesMessage) {
	if _, ok := client.Principal(); !ok {
		h.sendError(client, helpers.NewAuthenticationError("not authenticated", nil))
		return
	}

	h.Bus.Unsubscribe(m.RequestID, client.id)

	client.mu.Lock()
	delete(client.subscriptions, m.RequestID)
	client.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (h *Hub) sendError(client *Client, err error) {
	client.Enqueue(&protocol.ErrorMessage{Error: err.Error()})
}

// -----------------------------------------------------------------------------

func (h *Hub) pongWait() time.Duration {
	if h.Config.PongWaitSeconds > 0 {
		return time.Duration(h.Config.PongWaitSeconds) * time.Second
	}
	return defaultPongWait
}

func (h *Hub) writeWait() time.Duration {
	if h.Config.WriteWaitSeconds > 0 {
		return time.Duration(h.Config.WriteWaitSeconds) * time.Second
	}
	return defaultWriteWait
}

func (h *Hub) maxMessageSize() int64 {
	if h.Config.MaxMessageBytes > 0 {
		return int64(h.Config.MaxMessageBytes)
	}
	return defaultMaxMessageSize
}
