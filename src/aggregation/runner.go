package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/interfaces"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/utils"

	"golang.org/x/time/rate"
)

// ResultSink is where a task reports. Deliver may be called more than once for
// the same provider; the sink deduplicates.
type ResultSink interface {
	MarkRunning(providerID string, at time.Time)
	Deliver(result models.MTaskResult) bool
}

// -----------------------------------------------------------------------------

// TaskRunner executes one provider adapter call for one request: availability
// check, rate limit, bounded deadline, transient retry with backoff.
type TaskRunner struct {
	Config   models.MAggregationConfig
	Schedule *utils.AvailabilitySchedule
	Logger   *logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// -----------------------------------------------------------------------------

func NewTaskRunner(cfg models.MAggregationConfig, schedule *utils.AvailabilitySchedule, log *logger.Logger) *TaskRunner {
	return &TaskRunner{
		Config:   cfg,
		Schedule: schedule,
		Logger:   log,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// -----------------------------------------------------------------------------

// SetRateLimit caps calls to a provider across all requests. perSecond <= 0 removes the cap.
func (r *TaskRunner) SetRateLimit(providerID string, perSecond float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if perSecond <= 0 {
		delete(r.limiters, providerID)
		return
	}
	if burst <= 0 {
		burst = 1
	}
	r.limiters[providerID] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (r *TaskRunner) limiter(providerID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiters[providerID]
}

// -----------------------------------------------------------------------------

// Run executes the task to a terminal state and delivers it to sink. ctx is the
// request's context; cancelling it stops further retries.
func (r *TaskRunner) Run(ctx context.Context, requestID string, adapter interfaces.IProviderAdapter, filters models.MQuoteFilters, sink ResultSink) models.MTaskResult {
	providerID := adapter.ID()
	started := r.now()
	sink.MarkRunning(providerID, started)

	result := r.execute(ctx, requestID, adapter, filters, started)
	sink.Deliver(result)
	return result
}

// -----------------------------------------------------------------------------

func (r *TaskRunner) execute(ctx context.Context, requestID string, adapter interfaces.IProviderAdapter, filters models.MQuoteFilters, started time.Time) models.MTaskResult {
	providerID := adapter.ID()
	result := models.MTaskResult{ProviderID: providerID, StartedAt: started}

	if r.Schedule != nil && !r.Schedule.IsAvailable(providerID, started) {
		result.Status = models.TaskFailed
		result.Err = helpers.NewPermanentError(fmt.Sprintf("provider %s is closed on %s", providerID, started.Format("2006-01-02")), nil)
		result.FinishedAt = r.now()
		return result
	}

	taskCtx, cancel := context.WithTimeout(ctx, r.taskTimeout())
	defer cancel()

	policy := helpers.RetryPolicy{
		MaxAttempts: r.Config.MaxAttempts,
		BaseDelay:   r.Config.BackoffBase(),
		MaxDelay:    r.Config.BackoffMax(),
	}

	var quotes []models.MQuote
	attempts, err := helpers.RetryWithBackoff(taskCtx, policy, func(attempt int) error {
		if lim := r.limiter(providerID); lim != nil {
			if err := lim.Wait(taskCtx); err != nil {
				if ctxErr := taskCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				// the limiter refuses waits that would overrun the deadline
				return context.DeadlineExceeded
			}
		}

		raw, err := adapter.FetchQuotes(taskCtx, requestID, filters)
		if err != nil {
			classified := helpers.ClassifyProviderError(err)
			if helpers.IsTransient(classified) {
				r.Logger.Debug("Request %s: provider %s attempt %d failed: %v", requestID, providerID, attempt, err)
			}
			return classified
		}

		normalized, err := r.normalize(providerID, raw)
		if err != nil {
			return err
		}
		quotes = normalized
		return nil
	})

	result.Attempts = attempts
	result.FinishedAt = r.now()

	switch {
	case err == nil:
		result.Status = models.TaskSucceeded
		result.Quotes = quotes
	case ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded)):
		result.Status = models.TaskTimedOut
		result.Err = fmt.Errorf("provider %s timed out after %s", providerID, r.taskTimeout())
	case ctx.Err() != nil:
		result.Status = models.TaskFailed
		result.Err = fmt.Errorf("request cancelled")
	default:
		result.Status = models.TaskFailed
		result.Err = err
	}

	if result.Status != models.TaskSucceeded {
		r.Logger.Info("Request %s: provider %s %s after %d attempt(s): %v", requestID, providerID, result.Status, attempts, result.Err)
	}
	return result
}

// -----------------------------------------------------------------------------

// normalize stamps provider attribution and ids, and rejects unusable quotes.
func (r *TaskRunner) normalize(providerID string, raw []models.MQuote) ([]models.MQuote, error) {
	fetched := r.now()
	seen := make(map[string]bool, len(raw))
	quotes := make([]models.MQuote, 0, len(raw))

	for i, q := range raw {
		if q.Premium <= 0 || q.CoverageAmount <= 0 {
			return nil, helpers.NewPermanentError(fmt.Sprintf("malformed provider response: quote %d has premium %.2f and coverage %.2f", i, q.Premium, q.CoverageAmount), nil)
		}
		q.ProviderID = providerID
		if q.ID == "" {
			q.ID = fmt.Sprintf("%s-%d", providerID, i+1)
		}
		if q.FetchedAt.IsZero() {
			q.FetchedAt = fetched
		}
		if seen[q.ID] {
			continue
		}
		seen[q.ID] = true
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// -----------------------------------------------------------------------------

func (r *TaskRunner) taskTimeout() time.Duration {
	if d := r.Config.TaskTimeout(); d > 0 {
		return d
	}
	return 10 * time.Second
}
