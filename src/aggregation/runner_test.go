package aggregation

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcAdapter is a provider whose behaviour is a closure over the attempt number.
type funcAdapter struct {
	id    string
	calls int32
	fetch func(ctx context.Context, attempt int) ([]models.MQuote, error)
}

func (a *funcAdapter) ID() string         { return a.id }
func (a *funcAdapter) Type() string       { return "func" }
func (a *funcAdapter) Products() []string { return []string{"term_life"} }

func (a *funcAdapter) FetchQuotes(ctx context.Context, _ string, _ models.MQuoteFilters) ([]models.MQuote, error) {
	n := atomic.AddInt32(&a.calls, 1)
	return a.fetch(ctx, int(n))
}

func (a *funcAdapter) callCount() int { return int(atomic.LoadInt32(&a.calls)) }

type sinkRecorder struct {
	mu      sync.Mutex
	running []string
	results []models.MTaskResult
}

func (s *sinkRecorder) MarkRunning(providerID string, _ time.Time) {
	s.mu.Lock()
	s.running = append(s.running, providerID)
	s.mu.Unlock()
}

func (s *sinkRecorder) Deliver(result models.MTaskResult) bool {
	s.mu.Lock()
	s.results = append(s.results, result)
	s.mu.Unlock()
	return true
}

func testRunner(taskTimeout time.Duration, attempts int) *TaskRunner {
	return NewTaskRunner(models.MAggregationConfig{
		TaskTimeoutMs: int(taskTimeout / time.Millisecond),
		MaxAttempts:   attempts,
		BackoffBaseMs: 1,
		BackoffMaxMs:  5,
	}, nil, logger.NewNop("test"))
}

var testFilters = models.MQuoteFilters{ProductType: "term_life", CoverageAmount: 250000, TermMonths: 120}

func okQuotes(ids ...string) []models.MQuote {
	out := make([]models.MQuote, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.MQuote{ID: id, Premium: 20, CoverageAmount: 250000, TermMonths: 120})
	}
	return out
}

// -----------------------------------------------------------------------------

func TestRunnerSuccessNormalizesQuotes(t *testing.T) {
	adapter := &funcAdapter{id: "p1", fetch: func(context.Context, int) ([]models.MQuote, error) {
		return okQuotes("a", "", "a"), nil
	}}
	sink := &sinkRecorder{}

	result := testRunner(time.Second, 3).Run(context.Background(), "req-1", adapter, testFilters, sink)

	assert.Equal(t, models.TaskSucceeded, result.Status)
	assert.Equal(t, 1, result.Attempts)
	require.Len(t, result.Quotes, 2)
	assert.Equal(t, "a", result.Quotes[0].ID)
	assert.Equal(t, "p1-2", result.Quotes[1].ID)
	for _, q := range result.Quotes {
		assert.Equal(t, "p1", q.ProviderID)
		assert.False(t, q.FetchedAt.IsZero())
	}

	assert.Equal(t, []string{"p1"}, sink.running)
	require.Len(t, sink.results, 1)
	assert.Equal(t, result.Status, sink.results[0].Status)
}

func TestRunnerRetriesTransientErrors(t *testing.T) {
	adapter := &funcAdapter{id: "p1", fetch: func(_ context.Context, attempt int) ([]models.MQuote, error) {
		if attempt < 3 {
			return nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		}
		return okQuotes("a"), nil
	}}

	result := testRunner(time.Second, 3).Run(context.Background(), "req-1", adapter, testFilters, &sinkRecorder{})

	assert.Equal(t, models.TaskSucceeded, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, adapter.callCount())
}

func TestRunnerGivesUpAfterMaxAttempts(t *testing.T) {
	adapter := &funcAdapter{id: "p1", fetch: func(context.Context, int) ([]models.MQuote, error) {
		return nil, helpers.NewTransientError("carrier unavailable", nil)
	}}

	result := testRunner(time.Second, 2).Run(context.Background(), "req-1", adapter, testFilters, &sinkRecorder{})

	assert.Equal(t, models.TaskFailed, result.Status)
	assert.Equal(t, 2, result.Attempts)
	assert.True(t, helpers.IsTransient(result.Err))
}

func TestRunnerDoesNotRetryPermanentErrors(t *testing.T) {
	adapter := &funcAdapter{id: "p1", fetch: func(context.Context, int) ([]models.MQuote, error) {
		return nil, helpers.NewPermanentError("applicant rejected", nil)
	}}

	result := testRunner(time.Second, 5).Run(context.Background(), "req-1", adapter, testFilters, &sinkRecorder{})

	assert.Equal(t, models.TaskFailed, result.Status)
	assert.Equal(t, 1, adapter.callCount())
	assert.True(t, helpers.IsPermanent(result.Err))
}

func TestRunnerRejectsMalformedQuotes(t *testing.T) {
	adapter := &funcAdapter{id: "p1", fetch: func(context.Context, int) ([]models.MQuote, error) {
		return []models.MQuote{{ID: "a", Premium: 0, CoverageAmount: 1000}}, nil
	}}

	result := testRunner(time.Second, 3).Run(context.Background(), "req-1", adapter, testFilters, &sinkRecorder{})

	assert.Equal(t, models.TaskFailed, result.Status)
	assert.Equal(t, 1, adapter.callCount())
	assert.Contains(t, result.Err.Error(), "malformed")
}

func TestRunnerTimesOut(t *testing.T) {
	adapter := &funcAdapter{id: "p1", fetch: func(ctx context.Context, _ int) ([]models.MQuote, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	start := time.Now()
	result := testRunner(50*time.Millisecond, 3).Run(context.Background(), "req-1", adapter, testFilters, &sinkRecorder{})

	assert.Equal(t, models.TaskTimedOut, result.Status)
	assert.Equal(t, 1, adapter.callCount())
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunnerStopsOnRequestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	adapter := &funcAdapter{id: "p1", fetch: func(ctx context.Context, _ int) ([]models.MQuote, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	result := testRunner(time.Second, 3).Run(ctx, "req-1", adapter, testFilters, &sinkRecorder{})

	assert.Equal(t, models.TaskFailed, result.Status)
	assert.Equal(t, "request cancelled", result.Err.Error())
	assert.Equal(t, 1, adapter.callCount())
}

func TestRunnerRateLimit(t *testing.T) {
	runner := testRunner(2*time.Second, 1)
	runner.SetRateLimit("p1", 20, 1)

	adapter := &funcAdapter{id: "p1", fetch: func(context.Context, int) ([]models.MQuote, error) {
		return okQuotes("a"), nil
	}}

	start := time.Now()
	for i := 0; i < 3; i++ {
		result := runner.Run(context.Background(), "req-1", adapter, testFilters, &sinkRecorder{})
		require.Equal(t, models.TaskSucceeded, result.Status)
	}
	// burst 1 at 20/s: the 2nd and 3rd calls wait ~50ms each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	runner.SetRateLimit("p1", 0, 0)
	assert.Nil(t, runner.limiter("p1"))
}

func TestRunnerRateLimitBeyondDeadlineTimesOut(t *testing.T) {
	runner := testRunner(30*time.Millisecond, 1)
	runner.SetRateLimit("p1", 0.1, 1)

	adapter := &funcAdapter{id: "p1", fetch: func(context.Context, int) ([]models.MQuote, error) {
		return okQuotes("a"), nil
	}}

	first := runner.Run(context.Background(), "req-1", adapter, testFilters, &sinkRecorder{})
	require.Equal(t, models.TaskSucceeded, first.Status)

	second := runner.Run(context.Background(), "req-2", adapter, testFilters, &sinkRecorder{})
	assert.Equal(t, models.TaskTimedOut, second.Status)
	assert.Equal(t, 1, adapter.callCount())
}

func TestRunnerSkipsClosedProviders(t *testing.T) {
	schedule := utils.NewAvailabilitySchedule(nil, logger.NewNop("test"))
	schedule.SetCalendar("p1", "no-such-mic") // Mon-Fri fallback

	runner := testRunner(time.Second, 1)
	runner.Schedule = schedule
	saturday := time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC)
	runner.now = func() time.Time { return saturday }

	adapter := &funcAdapter{id: "p1", fetch: func(context.Context, int) ([]models.MQuote, error) {
		return okQuotes("a"), nil
	}}

	result := runner.Run(context.Background(), "req-1", adapter, testFilters, &sinkRecorder{})
	assert.Equal(t, models.TaskFailed, result.Status)
	assert.True(t, helpers.IsPermanent(result.Err))
	assert.Zero(t, adapter.callCount())

	monday := saturday.AddDate(0, 0, 2)
	runner.now = func() time.Time { return monday }
	result = runner.Run(context.Background(), "req-2", adapter, testFilters, &sinkRecorder{})
	assert.Equal(t, models.TaskSucceeded, result.Status)
}
