// Package protocol defines the real-time channel's JSON envelope. Every frame
// is an object with a "type" tag; each tag maps to exactly one Go type and
// decoding returns a sealed interface so dispatch is a type switch.
package protocol

import (
	"quote-aggregator/src/models"
)

type MessageType string

const (
	TypeAuth              MessageType = "auth"
	TypeSubscribeQuotes   MessageType = "subscribe_quotes"
	TypeUnsubscribeQuotes MessageType = "unsubscribe_quotes"

	TypeConnectionAck   MessageType = "connection_ack"
	TypeAuthSuccess     MessageType = "auth_success"
	TypeQuoteUpdate     MessageType = "quote_update"
	TypeQuoteProgress   MessageType = "quote_progress"
	TypeQuoteCompletion MessageType = "quote_completion"
	TypeError           MessageType = "error"
)

// UpdateStatus is the provider outcome carried by quote_update.
type UpdateStatus string

const (
	UpdatePending UpdateStatus = "pending"
	UpdateSuccess UpdateStatus = "success"
	UpdateError   UpdateStatus = "error"
)

// -----------------------------------------------------------------------------
// Client -> Server
// -----------------------------------------------------------------------------

// ClientMessage is implemented only by the client frame types below.
type ClientMessage interface {
	clientMessage()
	MessageType() MessageType
}

type AuthMessage struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId,omitempty"`
}

type SubscribeQuotesMessage struct {
	RequestID string `json:"requestId"`
}

type UnsubscribeQuotesMessage struct {
	RequestID string `json:"requestId"`
}

func (*AuthMessage) clientMessage()              {}
func (*SubscribeQuotesMessage) clientMessage()   {}
func (*UnsubscribeQuotesMessage) clientMessage() {}

func (*AuthMessage) MessageType() MessageType              { return TypeAuth }
func (*SubscribeQuotesMessage) MessageType() MessageType   { return TypeSubscribeQuotes }
func (*UnsubscribeQuotesMessage) MessageType() MessageType { return TypeUnsubscribeQuotes }

// -----------------------------------------------------------------------------
// Server -> Client
// -----------------------------------------------------------------------------

// ServerMessage is implemented only by the server frame types below.
type ServerMessage interface {
	serverMessage()
	MessageType() MessageType
}

type ConnectionAck struct {
	ClientID string `json:"clientId"`
}

type AuthSuccess struct{}

type QuoteUpdate struct {
	RequestID      string          `json:"requestId"`
	ProviderID     string          `json:"providerId"`
	Quotes         []models.MQuote `json:"quotes"`
	Status         UpdateStatus    `json:"status"`
	Error          string          `json:"error,omitempty"`
	OrganizationID string          `json:"organizationId,omitempty"`
}

type QuoteProgress struct {
	RequestID           string `json:"requestId"`
	ProvidersTotal      int    `json:"providersTotal"`
	ProvidersCompleted  int    `json:"providersCompleted"`
	ProvidersSuccessful int    `json:"providersSuccessful"`
	ProvidersFailed     int    `json:"providersFailed"`
	OrganizationID      string `json:"organizationId,omitempty"`
}

type QuoteCompletion struct {
	RequestID      string `json:"requestId"`
	TotalQuotes    int    `json:"totalQuotes"`
	Timestamp      int64  `json:"timestamp"` // unix millis
	OrganizationID string `json:"organizationId,omitempty"`
}

type ErrorMessage struct {
	Error string `json:"error"`
}

func (*ConnectionAck) serverMessage()   {}
func (*AuthSuccess) serverMessage()     {}
func (*QuoteUpdate) serverMessage()     {}
func (*QuoteProgress) serverMessage()   {}
func (*QuoteCompletion) serverMessage() {}
func (*ErrorMessage) serverMessage()    {}

func (*ConnectionAck) MessageType() MessageType   { return TypeConnectionAck }
func (*AuthSuccess) MessageType() MessageType     { return TypeAuthSuccess }
func (*QuoteUpdate) MessageType() MessageType     { return TypeQuoteUpdate }
func (*QuoteProgress) MessageType() MessageType   { return TypeQuoteProgress }
func (*QuoteCompletion) MessageType() MessageType { return TypeQuoteCompletion }
func (*ErrorMessage) MessageType() MessageType    { return TypeError }

// -----------------------------------------------------------------------------

// NewQuoteProgress builds a progress frame from a snapshot.
func NewQuoteProgress(s models.MProgressSnapshot, organizationID string) *QuoteProgress {
	return &QuoteProgress{
		RequestID:           s.RequestID,
		ProvidersTotal:      s.ProvidersTotal,
		ProvidersCompleted:  s.ProvidersCompleted,
		ProvidersSuccessful: s.ProvidersSuccessful,
		ProvidersFailed:     s.ProvidersFailed,
		OrganizationID:      organizationID,
	}
}

// Snapshot converts a progress frame back to the model.
func (p *QuoteProgress) Snapshot() models.MProgressSnapshot {
	return models.MProgressSnapshot{
		RequestID:           p.RequestID,
		ProvidersTotal:      p.ProvidersTotal,
		ProvidersCompleted:  p.ProvidersCompleted,
		ProvidersSuccessful: p.ProvidersSuccessful,
		ProvidersFailed:     p.ProvidersFailed,
	}
}

// RequestIDOf returns the request a server frame belongs to, or "".
func RequestIDOf(msg ServerMessage) string {
	switch m := msg.(type) {
	case *QuoteUpdate:
		return m.RequestID
	case *QuoteProgress:
		return m.RequestID
	case *QuoteCompletion:
		return m.RequestID
	default:
		return ""
	}
}

// Droppable reports whether a frame may be discarded under backpressure.
// Only progress frames are latest-wins.
func Droppable(msg ServerMessage) bool {
	_, ok := msg.(*QuoteProgress)
	return ok
}
