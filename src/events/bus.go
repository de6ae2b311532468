package events

import (
	"sync"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/protocol"
)

// Subscriber is one connection's outbound side. Enqueue must not block; it
// returns false once the subscriber can no longer accept messages.
type Subscriber interface {
	ID() string
	Enqueue(msg protocol.ServerMessage) bool
}

// ReplaySource hands the request's backlog to fn while holding the lock that
// serializes the request's publishes, so nothing is published between the
// backlog and the subscriber joining the live stream.
type ReplaySource interface {
	Replay(fn func(backlog []protocol.ServerMessage))
}

// -----------------------------------------------------------------------------

type group struct {
	mu             sync.Mutex
	organizationID string
	subs           map[string]Subscriber
	closed         bool
}

// EventBus multicasts request events to every subscribed connection.
type EventBus struct {
	mu     sync.RWMutex
	groups map[string]*group
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewEventBus(log *logger.Logger) *EventBus {
	return &EventBus{
		groups: make(map[string]*group),
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

// OpenGroup creates the multicast group for a new request.
func (b *EventBus) OpenGroup(requestID, organizationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.groups[requestID]; exists {
		return
	}
	b.groups[requestID] = &group{
		organizationID: organizationID,
		subs:           make(map[string]Subscriber),
	}
}

// -----------------------------------------------------------------------------

func (b *EventBus) lookup(requestID string) *group {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.groups[requestID]
}

// -----------------------------------------------------------------------------

// Subscribe replays the request's backlog to sub and adds it to the live group.
// Subscribing twice is a no-op.
func (b *EventBus) Subscribe(requestID, organizationID string, sub Subscriber, src ReplaySource) error {
	g := b.lookup(requestID)
	if g == nil {
		return helpers.NewNotFoundError("request %s not found", requestID)
	}
	if g.organizationID != organizationID {
		return helpers.NewAuthorizationError("request belongs to another organization")
	}

	var err error
	src.Replay(func(backlog []protocol.ServerMessage) {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.closed {
			err = helpers.NewNotFoundError("request %s not found", requestID)
			return
		}
		if _, exists := g.subs[sub.ID()]; exists {
			return
		}

		for _, msg := range backlog {
			if !sub.Enqueue(msg) {
				err = helpers.NewNotFoundError("subscriber %s is closed", sub.ID())
				return
			}
		}
		g.subs[sub.ID()] = sub
	})

	if err == nil {
		b.Logger.Debug("Subscriber %s joined request %s", sub.ID(), requestID)
	}
	return err
}

// -----------------------------------------------------------------------------

// Publish enqueues msg on every subscriber of the request without waiting for
// delivery. Subscribers that refuse the message are dropped from the group.
func (b *EventBus) Publish(requestID string, msg protocol.ServerMessage) {
	g := b.lookup(requestID)
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	for id, sub := range g.subs {
		if !sub.Enqueue(msg) {
			delete(g.subs, id)
			b.Logger.Warning("Dropped subscriber %s from request %s: outbound queue closed", id, requestID)
		}
	}
}

// -----------------------------------------------------------------------------

// Unsubscribe removes one subscription. The request itself is untouched.
func (b *EventBus) Unsubscribe(requestID, subscriberID string) bool {
	g := b.lookup(requestID)
	if g == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.subs[subscriberID]; !exists {
		return false
	}
	delete(g.subs, subscriberID)
	return true
}

// -----------------------------------------------------------------------------

// RemoveSubscriber drops a connection from every group. Returns how many
// subscriptions were removed.
func (b *EventBus) RemoveSubscriber(subscriberID string) int {
	b.mu.RLock()
	groups := make([]*group, 0, len(b.groups))
	for _, g := range b.groups {
		groups = append(groups, g)
	}
	b.mu.RUnlock()

	removed := 0
	for _, g := range groups {
		g.mu.Lock()
		if _, exists := g.subs[subscriberID]; exists {
			delete(g.subs, subscriberID)
			removed++
		}
		g.mu.Unlock()
	}
	return removed
}

// -----------------------------------------------------------------------------

// CloseGroup discards the request's group. Later publishes are ignored.
func (b *EventBus) CloseGroup(requestID string) {
	b.mu.Lock()
	g := b.groups[requestID]
	delete(b.groups, requestID)
	b.mu.Unlock()

	if g == nil {
		return
	}
	g.mu.Lock()
	g.closed = true
	g.subs = make(map[string]Subscriber)
	g.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (b *EventBus) SubscriberCount(requestID string) int {
	g := b.lookup(requestID)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// -----------------------------------------------------------------------------

// Subscriptions lists the request ids a subscriber currently belongs to.
func (b *EventBus) Subscriptions(subscriberID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ids []string
	for id, g := range b.groups {
		g.mu.Lock()
		if _, ok := g.subs[subscriberID]; ok {
			ids = append(ids, id)
		}
		g.mu.Unlock()
	}
	return ids
}
