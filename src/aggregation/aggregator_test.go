package aggregation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []protocol.ServerMessage
}

func (p *recordingPublisher) Publish(_ string, msg protocol.ServerMessage) {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
}

func (p *recordingPublisher) all() []protocol.ServerMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.ServerMessage(nil), p.msgs...)
}

func (p *recordingPublisher) ofType(t protocol.MessageType) []protocol.ServerMessage {
	var out []protocol.ServerMessage
	for _, m := range p.all() {
		if m.MessageType() == t {
			out = append(out, m)
		}
	}
	return out
}

func newTestRequest(providers ...string) models.MQuoteRequest {
	return models.MQuoteRequest{
		ID:              "req-1",
		OrganizationID:  "acme",
		RequesterUserID: "alice",
		Filters:         models.MQuoteFilters{ProductType: "term_life", CoverageAmount: 500000, TermMonths: 240},
		Providers:       providers,
		Status:          models.RequestPending,
		CreatedAt:       time.Now(),
	}
}

func quotes(provider string, n int) []models.MQuote {
	out := make([]models.MQuote, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.MQuote{ID: fmt.Sprintf("%s-%d", provider, i), ProviderID: provider, Premium: 10, CoverageAmount: 500000})
	}
	return out
}

func success(provider string, n int) models.MTaskResult {
	return models.MTaskResult{ProviderID: provider, Status: models.TaskSucceeded, Quotes: quotes(provider, n), Attempts: 1}
}

func failure(provider string) models.MTaskResult {
	return models.MTaskResult{ProviderID: provider, Status: models.TaskFailed, Err: errors.New("declined"), Attempts: 1}
}

type finalizeRecorder struct {
	mu    sync.Mutex
	calls []models.MQuoteRequest
}

func (f *finalizeRecorder) fn(req models.MQuoteRequest, _ []models.MProviderTask) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
}

func (f *finalizeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// -----------------------------------------------------------------------------

// Three providers succeed: one update each, monotone progress, one completion.
func TestAggregatorAllProvidersSucceed(t *testing.T) {
	pub := &recordingPublisher{}
	fin := &finalizeRecorder{}
	agg := NewAggregator(newTestRequest("p1", "p2", "p3"), pub, logger.NewNop("test"), fin.fn)

	assert.True(t, agg.Deliver(success("p2", 2)))
	assert.True(t, agg.Deliver(success("p1", 1)))
	assert.True(t, agg.Deliver(success("p3", 3)))

	updates := pub.ofType(protocol.TypeQuoteUpdate)
	require.Len(t, updates, 3)
	assert.Equal(t, "p2", updates[0].(*protocol.QuoteUpdate).ProviderID)

	last := -1
	for _, m := range pub.ofType(protocol.TypeQuoteProgress) {
		p := m.(*protocol.QuoteProgress)
		assert.Greater(t, p.ProvidersCompleted, last)
		assert.Equal(t, p.ProvidersCompleted, p.ProvidersSuccessful+p.ProvidersFailed)
		assert.LessOrEqual(t, p.ProvidersCompleted, p.ProvidersTotal)
		last = p.ProvidersCompleted
	}
	assert.Equal(t, 3, last)

	completions := pub.ofType(protocol.TypeQuoteCompletion)
	require.Len(t, completions, 1)
	assert.Equal(t, 6, completions[0].(*protocol.QuoteCompletion).TotalQuotes)
	assert.Equal(t, "acme", completions[0].(*protocol.QuoteCompletion).OrganizationID)

	// completion is the last event
	all := pub.all()
	assert.Equal(t, protocol.TypeQuoteCompletion, all[len(all)-1].MessageType())

	req := agg.Request()
	assert.Equal(t, models.RequestCompleted, req.Status)
	assert.Equal(t, 6, req.TotalQuotes)
	assert.False(t, req.FinishedAt.IsZero())
	assert.True(t, agg.IsTerminal())
	assert.Equal(t, 1, fin.count())
}

// One of three fails: still completed, total counts only successes.
func TestAggregatorPartialFailure(t *testing.T) {
	pub := &recordingPublisher{}
	agg := NewAggregator(newTestRequest("p1", "p2", "p3"), pub, logger.NewNop("test"), nil)

	agg.Deliver(success("p1", 2))
	agg.Deliver(failure("p2"))
	agg.Deliver(success("p3", 1))

	snap := agg.Snapshot()
	assert.Equal(t, models.MProgressSnapshot{RequestID: "req-1", ProvidersTotal: 3, ProvidersCompleted: 3, ProvidersSuccessful: 2, ProvidersFailed: 1}, snap)
	assert.Equal(t, models.RequestCompleted, agg.Request().Status)
	assert.Equal(t, 3, agg.Request().TotalQuotes)

	update := pub.ofType(protocol.TypeQuoteUpdate)[1].(*protocol.QuoteUpdate)
	assert.Equal(t, protocol.UpdateError, update.Status)
	assert.Equal(t, "declined", update.Error)
	assert.NotNil(t, update.Quotes)

	tasks := agg.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, models.TaskFailed, tasks[1].Status)
	assert.Equal(t, "declined", tasks[1].Error)
}

// Two providers answer with 2 and 3 quotes, the third times out.
func TestAggregatorOneProviderTimesOut(t *testing.T) {
	pub := &recordingPublisher{}
	fin := &finalizeRecorder{}
	agg := NewAggregator(newTestRequest("p1", "p2", "p3"), pub, logger.NewNop("test"), fin.fn)

	assert.True(t, agg.Deliver(success("p1", 2)))
	assert.True(t, agg.Deliver(success("p2", 3)))
	assert.True(t, agg.Deliver(models.MTaskResult{ProviderID: "p3", Status: models.TaskTimedOut, Err: errors.New("timed out"), Attempts: 1}))

	snap := agg.Snapshot()
	assert.Equal(t, 3, snap.ProvidersTotal)
	assert.Equal(t, 3, snap.ProvidersCompleted)
	assert.Equal(t, 2, snap.ProvidersSuccessful)
	assert.Equal(t, 1, snap.ProvidersFailed)

	updates := pub.ofType(protocol.TypeQuoteUpdate)
	require.Len(t, updates, 3)
	timedOut := updates[2].(*protocol.QuoteUpdate)
	assert.Equal(t, "p3", timedOut.ProviderID)
	assert.Equal(t, protocol.UpdateError, timedOut.Status)
	assert.Equal(t, "timed out", timedOut.Error)

	completions := pub.ofType(protocol.TypeQuoteCompletion)
	require.Len(t, completions, 1)
	assert.Equal(t, 5, completions[0].(*protocol.QuoteCompletion).TotalQuotes)

	all := pub.all()
	assert.Equal(t, protocol.TypeQuoteCompletion, all[len(all)-1].MessageType())

	req := agg.Request()
	assert.Equal(t, models.RequestCompleted, req.Status)
	assert.Equal(t, 5, req.TotalQuotes)
	assert.Equal(t, 1, fin.count())
	assert.Equal(t, models.TaskTimedOut, agg.Tasks()[2].Status)
}

func TestAggregatorFailsWhenNoProviderSucceeds(t *testing.T) {
	pub := &recordingPublisher{}
	fin := &finalizeRecorder{}
	agg := NewAggregator(newTestRequest("p1", "p2"), pub, logger.NewNop("test"), fin.fn)

	agg.Deliver(failure("p1"))
	agg.Deliver(models.MTaskResult{ProviderID: "p2", Status: models.TaskTimedOut})

	assert.Equal(t, models.RequestFailed, agg.Request().Status)
	require.Len(t, pub.ofType(protocol.TypeQuoteCompletion), 1)
	assert.Zero(t, pub.ofType(protocol.TypeQuoteCompletion)[0].(*protocol.QuoteCompletion).TotalQuotes)
	require.Equal(t, 1, fin.count())
	assert.Equal(t, models.RequestFailed, fin.calls[0].Status)
}

func TestAggregatorIgnoresDuplicatesAndLateResults(t *testing.T) {
	pub := &recordingPublisher{}
	fin := &finalizeRecorder{}
	agg := NewAggregator(newTestRequest("p1", "p2"), pub, logger.NewNop("test"), fin.fn)

	assert.True(t, agg.Deliver(success("p1", 2)))
	assert.False(t, agg.Deliver(success("p1", 2)))
	assert.False(t, agg.Deliver(failure("p1")))
	assert.False(t, agg.Deliver(success("ghost", 1)))
	assert.False(t, agg.Deliver(models.MTaskResult{ProviderID: "p2", Status: models.TaskRunning}))

	assert.Equal(t, 1, agg.Snapshot().ProvidersCompleted)

	assert.True(t, agg.Deliver(success("p2", 1)))
	assert.False(t, agg.Deliver(success("p2", 5)))
	assert.Zero(t, agg.FailRemaining("late"))

	assert.Equal(t, 3, agg.Request().TotalQuotes)
	assert.Len(t, pub.ofType(protocol.TypeQuoteUpdate), 2)
	assert.Len(t, pub.ofType(protocol.TypeQuoteCompletion), 1)
	assert.Equal(t, 1, fin.count())
}

func TestAggregatorConcurrentDeliveries(t *testing.T) {
	providers := make([]string, 20)
	for i := range providers {
		providers[i] = fmt.Sprintf("p%02d", i)
	}
	pub := &recordingPublisher{}
	fin := &finalizeRecorder{}
	agg := NewAggregator(newTestRequest(providers...), pub, logger.NewNop("test"), fin.fn)

	var wg sync.WaitGroup
	for _, id := range providers {
		for dup := 0; dup < 3; dup++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				agg.Deliver(success(id, 1))
			}(id)
		}
	}
	wg.Wait()

	assert.Equal(t, 20, agg.Request().TotalQuotes)
	assert.Len(t, pub.ofType(protocol.TypeQuoteUpdate), 20)
	assert.Len(t, pub.ofType(protocol.TypeQuoteCompletion), 1)
	assert.Equal(t, 1, fin.count())
}

func TestAggregatorMarkRunning(t *testing.T) {
	pub := &recordingPublisher{}
	agg := NewAggregator(newTestRequest("p1", "p2"), pub, logger.NewNop("test"), nil)

	started := time.Now()
	agg.MarkRunning("p1", started)
	agg.MarkRunning("p1", started.Add(time.Second))
	agg.MarkRunning("ghost", started)

	assert.Equal(t, models.RequestInProgress, agg.Request().Status)
	tasks := agg.Tasks()
	assert.Equal(t, models.TaskRunning, tasks[0].Status)
	assert.Equal(t, started, tasks[0].StartedAt)
	assert.Equal(t, models.TaskPending, tasks[1].Status)

	pending := pub.ofType(protocol.TypeQuoteUpdate)
	require.Len(t, pending, 1)
	assert.Equal(t, protocol.UpdatePending, pending[0].(*protocol.QuoteUpdate).Status)

	// pending announcements are live-only
	var backlog []protocol.ServerMessage
	agg.Replay(func(b []protocol.ServerMessage) { backlog = b })
	require.Len(t, backlog, 1)
	assert.Equal(t, protocol.TypeQuoteProgress, backlog[0].MessageType())
}

func TestAggregatorReplayBacklog(t *testing.T) {
	agg := NewAggregator(newTestRequest("p1", "p2"), nil, logger.NewNop("test"), nil)
	agg.Deliver(success("p1", 1))

	var backlog []protocol.ServerMessage
	agg.Replay(func(b []protocol.ServerMessage) { backlog = b })
	require.Len(t, backlog, 2)
	assert.Equal(t, 1, backlog[0].(*protocol.QuoteProgress).ProvidersCompleted)
	assert.Equal(t, "p1", backlog[1].(*protocol.QuoteUpdate).ProviderID)

	agg.Deliver(failure("p2"))
	agg.Replay(func(b []protocol.ServerMessage) { backlog = b })
	require.Len(t, backlog, 4)
	assert.Equal(t, 2, backlog[0].(*protocol.QuoteProgress).ProvidersCompleted)
	assert.Equal(t, protocol.TypeQuoteCompletion, backlog[3].MessageType())
}

func TestAggregatorForceRemaining(t *testing.T) {
	pub := &recordingPublisher{}
	fin := &finalizeRecorder{}
	agg := NewAggregator(newTestRequest("p1", "p2", "p3"), pub, logger.NewNop("test"), fin.fn)

	agg.Deliver(success("p1", 2))
	assert.Equal(t, 2, agg.TimeoutRemaining("request deadline exceeded"))

	tasks := agg.Tasks()
	assert.Equal(t, models.TaskTimedOut, tasks[1].Status)
	assert.Equal(t, "request deadline exceeded", tasks[2].Error)
	assert.Equal(t, models.RequestCompleted, agg.Request().Status)
	assert.Equal(t, 2, agg.Request().TotalQuotes)
	assert.Len(t, pub.ofType(protocol.TypeQuoteCompletion), 1)
	assert.Equal(t, 1, fin.count())
}

func TestAggregatorMarkExpired(t *testing.T) {
	agg := NewAggregator(newTestRequest("p1"), nil, logger.NewNop("test"), nil)
	assert.False(t, agg.MarkExpired())
	assert.Equal(t, models.RequestPending, agg.Request().Status)

	agg.Deliver(success("p1", 1))
	assert.True(t, agg.MarkExpired())
	assert.Equal(t, models.RequestExpired, agg.Request().Status)
}
