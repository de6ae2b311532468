package server

import (
	"sync"
	"time"

	"quote-aggregator/src/models"
	"quote-aggregator/src/protocol"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Defaults
// -----------------------------------------------------------------------------

const (
	defaultWriteWait      = 2 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

// Client is one real-time connection. State moves Unauthenticated ->
// Authenticated -> Subscribed(0..N); closing purges its subscriptions only.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	out  *outbox

	mu            sync.Mutex
	principal     *models.MPrincipal
	subscriptions map[string]bool

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		out:           newOutbox(hub.Config.MaxPendingMessages),
		subscriptions: make(map[string]bool),
		done:          make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

func (c *Client) ID() string { return c.id }

// Enqueue implements events.Subscriber. It never blocks; an overflowing
// connection is closed as a slow consumer.
func (c *Client) Enqueue(msg protocol.ServerMessage) bool {
	if c.out.push(msg) {
		return true
	}
	if !c.isClosed() {
		c.hub.Logger.Warning("Client %s is a slow consumer (%d pending), closing", c.id, c.out.len())
		go c.close()
	}
	return false
}

// -----------------------------------------------------------------------------

func (c *Client) Principal() (models.MPrincipal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.principal == nil {
		return models.MPrincipal{}, false
	}
	return *c.principal, true
}

// Subscriptions lists the request ids this connection follows.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		ids = append(ids, id)
	}
	return ids
}

// -----------------------------------------------------------------------------

// close tears the connection down once; later calls are no-ops.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.out.close()
		c.conn.Close()

		removed := c.hub.Bus.RemoveSubscriber(c.id)
		c.mu.Lock()
		c.subscriptions = make(map[string]bool)
		c.mu.Unlock()

		c.hub.unregisterClient(c)
		c.hub.Logger.Info("Client %s disconnected (%d subscriptions purged)", c.id, removed)
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer c.close()

	pongWait := c.hub.pongWait()
	c.conn.SetReadLimit(c.hub.maxMessageSize())
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket error on %s: %v", c.id, err)
			}
			return
		}
		c.hub.HandleClientMessage(c, message)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends messages to client
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	pingPeriod := (c.hub.pongWait() * 9) / 10
	writeWait := c.hub.writeWait()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-c.out.notify:
			for _, msg := range c.out.drain() {
				data, err := protocol.Encode(msg)
				if err != nil {
					c.hub.Logger.Error("Encode %s for %s: %v", msg.MessageType(), c.id, err)
					continue
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					c.hub.Logger.Info("Write error on %s: %v", c.id, err)
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
