package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/protocol"

	"github.com/gorilla/websocket"
)

const defaultReconnectDelay = 2 * time.Second

// SearchResult is what a watcher gets once a search completes.
type SearchResult struct {
	RequestID   string
	Quotes      []models.MQuote
	Progress    models.MProgressSnapshot
	TotalQuotes int
	CompletedAt time.Time
}

// -----------------------------------------------------------------------------
// Subscriber
// -----------------------------------------------------------------------------

// Subscriber follows one quote search over the real-time channel. It
// authenticates on every (re)connection, re-subscribes to its target and merges
// provider results, so a dropped connection never shows the same quote twice.
type Subscriber struct {
	URL            string
	UserID         string
	OrganizationID string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Logger         *logger.Logger

	mu            sync.Mutex
	ctx           context.Context
	conn          *websocket.Conn
	clientID      string
	authenticated bool
	subscribed    bool
	target        string
	quotes        []models.MQuote
	seen          map[string]bool
	progress      *models.MProgressSnapshot
	lastError     string
	reconnect     *time.Timer
	closed        bool

	writeMu sync.Mutex
	results chan SearchResult
	done    chan struct{}
}

// -----------------------------------------------------------------------------

func NewSubscriber(url, userID, organizationID string, reconnectDelay time.Duration, log *logger.Logger) *Subscriber {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	return &Subscriber{
		URL:            url,
		UserID:         userID,
		OrganizationID: organizationID,
		ReconnectDelay: reconnectDelay,
		Dialer:         websocket.DefaultDialer,
		Logger:         log,
		seen:           make(map[string]bool),
		results:        make(chan SearchResult, 8),
		done:           make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// Connect dials the server. ctx also bounds every later reconnect.
func (s *Subscriber) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("subscriber is closed")
	}
	s.ctx = ctx
	s.mu.Unlock()

	return s.dial()
}

func (s *Subscriber) dial() error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	conn, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.URL, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("subscriber is closed")
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

// -----------------------------------------------------------------------------

// Watch retargets the subscriber. Previously accumulated state is discarded.
func (s *Subscriber) Watch(requestID string) error {
	s.mu.Lock()
	previous := s.target
	wasSubscribed := s.subscribed
	s.target = requestID
	s.resetLocked()
	conn := s.conn
	ready := s.authenticated
	if ready {
		s.subscribed = true
	}
	s.mu.Unlock()

	if conn == nil || !ready {
		// subscribed after the next auth_success
		return nil
	}
	if wasSubscribed && previous != "" && previous != requestID {
		if err := s.send(conn, &protocol.UnsubscribeQuotesMessage{RequestID: previous}); err != nil {
			return err
		}
	}
	return s.send(conn, &protocol.SubscribeQuotesMessage{RequestID: requestID})
}

// -----------------------------------------------------------------------------

// Close stops the subscriber and cancels any pending reconnect.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	close(s.done)
	if conn != nil {
		s.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// Results delivers one SearchResult per completed search.
func (s *Subscriber) Results() <-chan SearchResult {
	return s.results
}

func (s *Subscriber) Quotes() []models.MQuote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MQuote(nil), s.quotes...)
}

func (s *Subscriber) Progress() (models.MProgressSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return models.MProgressSnapshot{}, false
	}
	return *s.progress, true
}

func (s *Subscriber) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Subscriber) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *Subscriber) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// LastError is the most recent error frame received.
func (s *Subscriber) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// -----------------------------------------------------------------------------
// Read side
// -----------------------------------------------------------------------------

func (s *Subscriber) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.connectionLost(conn, err)
			return
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			s.Logger.Warning("Ignoring invalid frame: %v", err)
			continue
		}
		s.handle(conn, msg)
	}
}

// -----------------------------------------------------------------------------

func (s *Subscriber) handle(conn *websocket.Conn, msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case *protocol.ConnectionAck:
		s.mu.Lock()
		s.clientID = m.ClientID
		s.mu.Unlock()
		s.sendOrLog(conn, &protocol.AuthMessage{UserID: s.UserID, OrganizationID: s.OrganizationID})

	case *protocol.AuthSuccess:
		s.mu.Lock()
		s.authenticated = true
		target := s.target
		if target != "" {
			s.subscribed = true
		}
		s.mu.Unlock()
		if target != "" {
			s.sendOrLog(conn, &protocol.SubscribeQuotesMessage{RequestID: target})
		}

	case *protocol.QuoteUpdate:
		s.mu.Lock()
		if m.RequestID == s.target && m.Status == protocol.UpdateSuccess {
			for _, q := range m.Quotes {
				if q.ProviderID == "" {
					q.ProviderID = m.ProviderID
				}
				if s.seen[q.Key()] {
					continue
				}
				s.seen[q.Key()] = true
				s.quotes = append(s.quotes, q)
			}
		}
		s.mu.Unlock()

	case *protocol.QuoteProgress:
		s.mu.Lock()
		if m.RequestID == s.target {
			snapshot := m.Snapshot()
			s.progress = &snapshot
		}
		s.mu.Unlock()

	case *protocol.QuoteCompletion:
		s.mu.Lock()
		if m.RequestID != s.target {
			s.mu.Unlock()
			return
		}
		result := SearchResult{
			RequestID:   m.RequestID,
			Quotes:      s.quotes,
			TotalQuotes: m.TotalQuotes,
			CompletedAt: time.UnixMilli(m.Timestamp),
		}
		if s.progress != nil {
			result.Progress = *s.progress
		}
		s.target = ""
		s.subscribed = false
		s.resetLocked()
		s.mu.Unlock()

		s.Logger.Info("Search %s completed with %d quotes", result.RequestID, len(result.Quotes))
		select {
		case s.results <- result:
		case <-s.done:
		}

	case *protocol.ErrorMessage:
		s.mu.Lock()
		s.lastError = m.Error
		s.mu.Unlock()
		s.Logger.Warning("Server error: %s", m.Error)
	}
}

// -----------------------------------------------------------------------------

// connectionLost keeps the target and schedules a reconnect.
func (s *Subscriber) connectionLost(conn *websocket.Conn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != conn {
		return
	}
	conn.Close()
	s.conn = nil
	s.authenticated = false
	s.subscribed = false

	if s.closed {
		return
	}
	s.Logger.Info("Connection lost (%v), reconnecting in %s", err, s.ReconnectDelay)
	s.scheduleReconnectLocked()
}

func (s *Subscriber) scheduleReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	s.reconnect = time.AfterFunc(s.ReconnectDelay, s.redial)
}

func (s *Subscriber) redial() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.reconnect = nil
	ctx := s.ctx
	s.mu.Unlock()

	if ctx != nil && ctx.Err() != nil {
		return
	}
	if err := s.dial(); err != nil {
		s.Logger.Warning("Reconnect failed: %v", err)
		s.mu.Lock()
		if !s.closed {
			s.scheduleReconnectLocked()
		}
		s.mu.Unlock()
	}
}

// -----------------------------------------------------------------------------
// Write side
// -----------------------------------------------------------------------------

func (s *Subscriber) send(conn *websocket.Conn, msg protocol.ClientMessage) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Subscriber) sendOrLog(conn *websocket.Conn, msg protocol.ClientMessage) {
	if err := s.send(conn, msg); err != nil {
		s.Logger.Warning("Send %s failed: %v", msg.MessageType(), err)
	}
}

func (s *Subscriber) resetLocked() {
	s.quotes = nil
	s.seen = make(map[string]bool)
	s.progress = nil
}
