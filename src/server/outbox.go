package server

import (
	"sync"

	"quote-aggregator/src/protocol"
)

// outbox is a connection's bounded outbound queue.
//
// Progress frames are latest-wins: a newer progress for the same request
// replaces the pending one (moving to the back so it never overtakes the
// update it summarizes), and progress is dropped when the queue is full.
// Every other frame is kept; once more than maxPending of them are waiting the
// consumer is too slow and push reports failure.
type outbox struct {
	mu         sync.Mutex
	items      []protocol.ServerMessage
	kept       int // pending frames that may not be dropped
	maxPending int
	closed     bool
	dropped    int

	notify chan struct{}
}

func newOutbox(maxPending int) *outbox {
	if maxPending <= 0 {
		maxPending = 256
	}
	return &outbox{
		maxPending: maxPending,
		notify:     make(chan struct{}, 1),
	}
}

// -----------------------------------------------------------------------------

// push queues msg. It returns false when the outbox is closed or overflowed.
func (o *outbox) push(msg protocol.ServerMessage) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}

	if protocol.Droppable(msg) {
		requestID := protocol.RequestIDOf(msg)
		replaced := false
		for i, pending := range o.items {
			if protocol.Droppable(pending) && protocol.RequestIDOf(pending) == requestID {
				o.items = append(o.items[:i], o.items[i+1:]...)
				o.dropped++
				replaced = true
				break
			}
		}
		// a replacement never grows the queue, so it is taken at any fill level
		if !replaced && len(o.items) >= o.maxPending {
			o.dropped++
			return true
		}
		o.items = append(o.items, msg)
		o.signal()
		return true
	}

	if o.kept >= o.maxPending {
		o.closed = true
		return false
	}
	o.items = append(o.items, msg)
	o.kept++
	o.signal()
	return true
}

// -----------------------------------------------------------------------------

// drain takes every pending frame.
func (o *outbox) drain() []protocol.ServerMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	items := o.items
	o.items = nil
	o.kept = 0
	return items
}

// -----------------------------------------------------------------------------

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (o *outbox) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func (o *outbox) droppedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

func (o *outbox) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}
