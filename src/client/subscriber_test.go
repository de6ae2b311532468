package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer runs one script per accepted connection, in order.
type scriptedServer struct {
	t       *testing.T
	scripts []func(conn *websocket.Conn)

	mu          sync.Mutex
	connections int
	received    []protocol.ClientMessage
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	idx := s.connections
	s.connections++
	s.mu.Unlock()

	if idx < len(s.scripts) {
		s.scripts[idx](conn)
	}
}

func (s *scriptedServer) record(msg protocol.ClientMessage) {
	s.mu.Lock()
	s.received = append(s.received, msg)
	s.mu.Unlock()
}

func (s *scriptedServer) messages() []protocol.ClientMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.ClientMessage(nil), s.received...)
}

func (s *scriptedServer) connectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func (s *scriptedServer) write(conn *websocket.Conn, msg protocol.ServerMessage) {
	data, err := protocol.Encode(msg)
	require.NoError(s.t, err)
	require.NoError(s.t, conn.WriteMessage(websocket.TextMessage, data))
}

// expect reads the next client frame and checks its type.
func (s *scriptedServer) expect(conn *websocket.Conn, want protocol.MessageType) protocol.ClientMessage {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(s.t, err)
	msg, err := protocol.DecodeClientMessage(data)
	require.NoError(s.t, err)
	require.Equal(s.t, want, msg.MessageType())
	s.record(msg)
	return msg
}

// handshake plays connection_ack / auth / auth_success / subscribe_quotes.
func (s *scriptedServer) handshake(conn *websocket.Conn, clientID string) string {
	s.write(conn, &protocol.ConnectionAck{ClientID: clientID})
	s.expect(conn, protocol.TypeAuth)
	s.write(conn, &protocol.AuthSuccess{})
	sub := s.expect(conn, protocol.TypeSubscribeQuotes).(*protocol.SubscribeQuotesMessage)
	return sub.RequestID
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func quote(provider, id string, premium float64) models.MQuote {
	return models.MQuote{ID: id, ProviderID: provider, Premium: premium, CoverageAmount: 100000, TermMonths: 12}
}

func waitResult(t *testing.T, s *Subscriber) SearchResult {
	t.Helper()
	select {
	case r := <-s.Results():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no search result")
		return SearchResult{}
	}
}

// -----------------------------------------------------------------------------

func TestSubscriberMergesResultsUntilCompletion(t *testing.T) {
	server := &scriptedServer{t: t}
	server.scripts = []func(*websocket.Conn){
		func(conn *websocket.Conn) {
			reqID := server.handshake(conn, "c-1")
			server.write(conn, &protocol.QuoteProgress{RequestID: reqID, ProvidersTotal: 2})
			server.write(conn, &protocol.QuoteUpdate{RequestID: reqID, ProviderID: "p1", Status: protocol.UpdateSuccess, Quotes: []models.MQuote{quote("p1", "a", 10)}})
			server.write(conn, &protocol.QuoteUpdate{RequestID: "other", ProviderID: "p9", Status: protocol.UpdateSuccess, Quotes: []models.MQuote{quote("p9", "x", 1)}})
			server.write(conn, &protocol.QuoteUpdate{RequestID: reqID, ProviderID: "p2", Status: protocol.UpdateError, Error: "declined"})
			server.write(conn, &protocol.QuoteProgress{RequestID: reqID, ProvidersTotal: 2, ProvidersCompleted: 2, ProvidersSuccessful: 1, ProvidersFailed: 1})
			server.write(conn, &protocol.QuoteCompletion{RequestID: reqID, TotalQuotes: 1, Timestamp: 1700000000000})
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			conn.ReadMessage()
		},
	}
	srv := httptest.NewServer(server)
	defer srv.Close()

	sub := NewSubscriber(wsURL(srv), "alice", "acme", 50*time.Millisecond, logger.NewNop("test"))
	require.NoError(t, sub.Watch("req-1"))
	require.NoError(t, sub.Connect(context.Background()))
	defer sub.Close()

	result := waitResult(t, sub)
	assert.Equal(t, "req-1", result.RequestID)
	require.Len(t, result.Quotes, 1)
	assert.Equal(t, "p1/a", result.Quotes[0].Key())
	assert.Equal(t, 1, result.TotalQuotes)
	assert.Equal(t, 2, result.Progress.ProvidersCompleted)
	assert.Equal(t, int64(1700000000000), result.CompletedAt.UnixMilli())

	// completion clears the local state
	assert.Empty(t, sub.Target())
	assert.Empty(t, sub.Quotes())
	_, ok := sub.Progress()
	assert.False(t, ok)
	assert.Equal(t, "c-1", sub.ClientID())

	auth := server.messages()[0].(*protocol.AuthMessage)
	assert.Equal(t, "alice", auth.UserID)
	assert.Equal(t, "acme", auth.OrganizationID)
}

// -----------------------------------------------------------------------------

func TestSubscriberReconnectsWithoutDuplicates(t *testing.T) {
	server := &scriptedServer{t: t}
	server.scripts = []func(*websocket.Conn){
		func(conn *websocket.Conn) {
			reqID := server.handshake(conn, "c-1")
			server.write(conn, &protocol.QuoteUpdate{RequestID: reqID, ProviderID: "p1", Status: protocol.UpdateSuccess, Quotes: []models.MQuote{quote("p1", "a", 10), quote("p1", "b", 12)}})
			// connection drops here
		},
		func(conn *websocket.Conn) {
			reqID := server.handshake(conn, "c-2")
			// replay repeats p1 before the live p2 result
			server.write(conn, &protocol.QuoteProgress{RequestID: reqID, ProvidersTotal: 2, ProvidersCompleted: 1, ProvidersSuccessful: 1})
			server.write(conn, &protocol.QuoteUpdate{RequestID: reqID, ProviderID: "p1", Status: protocol.UpdateSuccess, Quotes: []models.MQuote{quote("p1", "a", 10), quote("p1", "b", 12)}})
			server.write(conn, &protocol.QuoteUpdate{RequestID: reqID, ProviderID: "p2", Status: protocol.UpdateSuccess, Quotes: []models.MQuote{quote("p2", "a", 9)}})
			server.write(conn, &protocol.QuoteCompletion{RequestID: reqID, TotalQuotes: 3, Timestamp: time.Now().UnixMilli()})
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			conn.ReadMessage()
		},
	}
	srv := httptest.NewServer(server)
	defer srv.Close()

	sub := NewSubscriber(wsURL(srv), "alice", "acme", 20*time.Millisecond, logger.NewNop("test"))
	require.NoError(t, sub.Watch("req-7"))
	require.NoError(t, sub.Connect(context.Background()))
	defer sub.Close()

	result := waitResult(t, sub)
	assert.Equal(t, 2, server.connectionCount())
	assert.Equal(t, "c-2", sub.ClientID())

	keys := make([]string, 0, len(result.Quotes))
	for _, q := range result.Quotes {
		keys = append(keys, q.Key())
	}
	assert.Equal(t, []string{"p1/a", "p1/b", "p2/a"}, keys)
	assert.Equal(t, 3, result.TotalQuotes)

	// both connections subscribed to the same target
	var subs []string
	for _, m := range server.messages() {
		if s, ok := m.(*protocol.SubscribeQuotesMessage); ok {
			subs = append(subs, s.RequestID)
		}
	}
	assert.Equal(t, []string{"req-7", "req-7"}, subs)
}

// -----------------------------------------------------------------------------

func TestSubscriberCloseCancelsPendingReconnect(t *testing.T) {
	server := &scriptedServer{t: t}
	server.scripts = []func(*websocket.Conn){
		func(conn *websocket.Conn) {
			server.write(conn, &protocol.ConnectionAck{ClientID: "c-1"})
			server.expect(conn, protocol.TypeAuth)
		},
	}
	srv := httptest.NewServer(server)
	defer srv.Close()

	sub := NewSubscriber(wsURL(srv), "alice", "", 200*time.Millisecond, logger.NewNop("test"))
	require.NoError(t, sub.Watch("req-1"))
	require.NoError(t, sub.Connect(context.Background()))

	// wait for the drop to be noticed, then close before the timer fires
	require.Eventually(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return sub.reconnect != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Close())

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, server.connectionCount())
	assert.Equal(t, "req-1", sub.Target())
	assert.Error(t, sub.Connect(context.Background()))
}

// -----------------------------------------------------------------------------

func TestSubscriberWatchSwitchesTarget(t *testing.T) {
	gotUnsub := make(chan string, 1)
	server := &scriptedServer{t: t}
	server.scripts = []func(*websocket.Conn){
		func(conn *websocket.Conn) {
			reqID := server.handshake(conn, "c-1")
			server.write(conn, &protocol.QuoteUpdate{RequestID: reqID, ProviderID: "p1", Status: protocol.UpdateSuccess, Quotes: []models.MQuote{quote("p1", "a", 10)}})
			unsub := server.expect(conn, protocol.TypeUnsubscribeQuotes).(*protocol.UnsubscribeQuotesMessage)
			gotUnsub <- unsub.RequestID
			server.expect(conn, protocol.TypeSubscribeQuotes)
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			conn.ReadMessage()
		},
	}
	srv := httptest.NewServer(server)
	defer srv.Close()

	sub := NewSubscriber(wsURL(srv), "alice", "acme", time.Second, logger.NewNop("test"))
	require.NoError(t, sub.Watch("req-1"))
	require.NoError(t, sub.Connect(context.Background()))
	defer sub.Close()

	require.Eventually(t, func() bool { return len(sub.Quotes()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Watch("req-2"))
	assert.Empty(t, sub.Quotes())
	assert.Equal(t, "req-2", sub.Target())

	select {
	case id := <-gotUnsub:
		assert.Equal(t, "req-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("no unsubscribe for the previous target")
	}
}

// -----------------------------------------------------------------------------

func TestSubscriberRecordsErrorFrames(t *testing.T) {
	server := &scriptedServer{t: t}
	server.scripts = []func(*websocket.Conn){
		func(conn *websocket.Conn) {
			server.write(conn, &protocol.ConnectionAck{ClientID: "c-1"})
			server.expect(conn, protocol.TypeAuth)
			server.write(conn, &protocol.ErrorMessage{Error: "authentication failed"})
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			conn.ReadMessage()
		},
	}
	srv := httptest.NewServer(server)
	defer srv.Close()

	sub := NewSubscriber(wsURL(srv), "mallory", "acme", time.Second, logger.NewNop("test"))
	require.NoError(t, sub.Connect(context.Background()))
	defer sub.Close()

	require.Eventually(t, func() bool { return sub.LastError() == "authentication failed" }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, sub.Authenticated())
}
