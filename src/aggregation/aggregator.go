package aggregation

import (
	"sync"
	"time"

	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/protocol"
)

// Publisher receives the aggregator's events in the order they happen.
type Publisher interface {
	Publish(requestID string, msg protocol.ServerMessage)
}

// FinalizeFunc is called once, outside the aggregator lock, after the request
// reaches completed or failed.
type FinalizeFunc func(req models.MQuoteRequest, tasks []models.MProviderTask)

// -----------------------------------------------------------------------------

// Aggregator is the single owner of one request's mutable state. Every mutation
// and every publish happens under mu, which gives each request a total event order.
type Aggregator struct {
	mu         sync.Mutex
	request    models.MQuoteRequest
	tasks      map[string]*models.MProviderTask
	order      []string
	snapshot   models.MProgressSnapshot
	updates    []protocol.ServerMessage // terminal quote_update frames in delivery order
	completion *protocol.QuoteCompletion

	publisher     Publisher
	onFinalize    FinalizeFunc
	finalizeFired bool
	Logger        *logger.Logger
	now           func() time.Time
}

// -----------------------------------------------------------------------------

func NewAggregator(req models.MQuoteRequest, publisher Publisher, log *logger.Logger, onFinalize FinalizeFunc) *Aggregator {
	a := &Aggregator{
		request:    req,
		tasks:      make(map[string]*models.MProviderTask, len(req.Providers)),
		order:      append([]string(nil), req.Providers...),
		publisher:  publisher,
		onFinalize: onFinalize,
		Logger:     log,
		now:        time.Now,
	}
	for _, id := range req.Providers {
		a.tasks[id] = &models.MProviderTask{
			RequestID:  req.ID,
			ProviderID: id,
			Status:     models.TaskPending,
		}
	}
	a.snapshot = models.MProgressSnapshot{
		RequestID:      req.ID,
		ProvidersTotal: len(req.Providers),
	}
	return a
}

// -----------------------------------------------------------------------------

// MarkRunning moves a pending task to running and announces it as a pending update.
func (a *Aggregator) MarkRunning(providerID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	task, ok := a.tasks[providerID]
	if !ok || task.Status != models.TaskPending || a.completion != nil {
		return
	}
	task.Status = models.TaskRunning
	task.StartedAt = at
	if a.request.Status == models.RequestPending {
		a.request.Status = models.RequestInProgress
	}

	a.publish(&protocol.QuoteUpdate{
		RequestID:      a.request.ID,
		ProviderID:     providerID,
		Quotes:         []models.MQuote{},
		Status:         protocol.UpdatePending,
		OrganizationID: a.request.OrganizationID,
	})
}

// -----------------------------------------------------------------------------

// Deliver records a provider's terminal result. It returns false when the
// result was a duplicate, arrived after completion or names an unknown provider.
func (a *Aggregator) Deliver(result models.MTaskResult) bool {
	a.mu.Lock()
	accepted := a.applyLocked(result)
	final := a.finalizedLocked()
	a.mu.Unlock()

	if final != nil {
		final.fn(final.request, final.tasks)
	}
	return accepted
}

// -----------------------------------------------------------------------------

// TimeoutRemaining marks every non-terminal task timed out.
func (a *Aggregator) TimeoutRemaining(reason string) int {
	return a.forceRemaining(models.TaskTimedOut, reason)
}

// FailRemaining marks every non-terminal task failed.
func (a *Aggregator) FailRemaining(reason string) int {
	return a.forceRemaining(models.TaskFailed, reason)
}

func (a *Aggregator) forceRemaining(status models.TaskStatus, reason string) int {
	a.mu.Lock()
	forced := 0
	at := a.now()
	for _, id := range a.order {
		if a.tasks[id].Status.IsTerminal() {
			continue
		}
		if a.applyLocked(models.MTaskResult{
			ProviderID: id,
			Status:     status,
			Err:        reasonError(reason),
			Attempts:   a.tasks[id].Attempts,
			StartedAt:  a.tasks[id].StartedAt,
			FinishedAt: at,
		}) {
			forced++
		}
	}
	final := a.finalizedLocked()
	a.mu.Unlock()

	if final != nil {
		final.fn(final.request, final.tasks)
	}
	return forced
}

// -----------------------------------------------------------------------------

// MarkExpired moves a terminal request to expired. Non-terminal requests are untouched.
func (a *Aggregator) MarkExpired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.completion == nil {
		return false
	}
	a.request.Status = models.RequestExpired
	return true
}

// -----------------------------------------------------------------------------

// Replay calls fn with the current snapshot, every recorded quote_update and
// the completion (when present). No event is published while fn runs.
func (a *Aggregator) Replay(fn func(backlog []protocol.ServerMessage)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	backlog := make([]protocol.ServerMessage, 0, len(a.updates)+2)
	backlog = append(backlog, protocol.NewQuoteProgress(a.snapshot, a.request.OrganizationID))
	backlog = append(backlog, a.updates...)
	if a.completion != nil {
		backlog = append(backlog, a.completion)
	}
	fn(backlog)
}

// -----------------------------------------------------------------------------

func (a *Aggregator) Snapshot() models.MProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot
}

func (a *Aggregator) Request() models.MQuoteRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.request
}

func (a *Aggregator) Tasks() []models.MProviderTask {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasksLocked()
}

func (a *Aggregator) IsTerminal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completion != nil
}

// -----------------------------------------------------------------------------

func (a *Aggregator) applyLocked(result models.MTaskResult) bool {
	if a.completion != nil {
		return false
	}
	task, ok := a.tasks[result.ProviderID]
	if !ok {
		a.Logger.Warning("Request %s: result for unknown provider %s ignored", a.request.ID, result.ProviderID)
		return false
	}
	if task.Status.IsTerminal() || !result.Status.IsTerminal() {
		return false
	}

	task.Status = result.Status
	task.Attempts = result.Attempts
	task.FinishedAt = result.FinishedAt
	if task.StartedAt.IsZero() {
		task.StartedAt = result.StartedAt
	}
	if a.request.Status == models.RequestPending {
		a.request.Status = models.RequestInProgress
	}

	update := &protocol.QuoteUpdate{
		RequestID:      a.request.ID,
		ProviderID:     result.ProviderID,
		Quotes:         []models.MQuote{},
		OrganizationID: a.request.OrganizationID,
	}

	if result.Status == models.TaskSucceeded {
		task.Quotes = append([]models.MQuote{}, result.Quotes...)
		update.Quotes = task.Quotes
		update.Status = protocol.UpdateSuccess
		a.snapshot.ProvidersSuccessful++
	} else {
		if result.Err != nil {
			task.Error = result.Err.Error()
		} else {
			task.Error = string(result.Status)
		}
		update.Status = protocol.UpdateError
		update.Error = task.Error
		a.snapshot.ProvidersFailed++
	}
	a.snapshot.ProvidersCompleted++

	a.updates = append(a.updates, update)
	a.publish(update)
	a.publish(protocol.NewQuoteProgress(a.snapshot, a.request.OrganizationID))

	a.Logger.Debug("Request %s: provider %s %s (%d/%d)", a.request.ID, result.ProviderID,
		result.Status, a.snapshot.ProvidersCompleted, a.snapshot.ProvidersTotal)

	if a.snapshot.Done() {
		a.completeLocked()
	}
	return true
}

// -----------------------------------------------------------------------------

func (a *Aggregator) completeLocked() {
	total := 0
	for _, task := range a.tasks {
		if task.Status == models.TaskSucceeded {
			total += len(task.Quotes)
		}
	}

	finished := a.now()
	a.request.TotalQuotes = total
	a.request.FinishedAt = finished
	if a.snapshot.ProvidersSuccessful == 0 {
		a.request.Status = models.RequestFailed
	} else {
		a.request.Status = models.RequestCompleted
	}

	a.completion = &protocol.QuoteCompletion{
		RequestID:      a.request.ID,
		TotalQuotes:    total,
		Timestamp:      finished.UnixMilli(),
		OrganizationID: a.request.OrganizationID,
	}
	a.publish(a.completion)

	a.Logger.Info("Request %s %s: %d quotes from %d/%d providers", a.request.ID, a.request.Status,
		total, a.snapshot.ProvidersSuccessful, a.snapshot.ProvidersTotal)
}

// -----------------------------------------------------------------------------

type finalized struct {
	request models.MQuoteRequest
	tasks   []models.MProviderTask
	fn      FinalizeFunc
}

// finalizedLocked hands out the final state exactly once.
func (a *Aggregator) finalizedLocked() *finalized {
	if a.completion == nil || a.finalizeFired {
		return nil
	}
	a.finalizeFired = true
	if a.onFinalize == nil {
		return nil
	}
	return &finalized{request: a.request, tasks: a.tasksLocked(), fn: a.onFinalize}
}

func (a *Aggregator) tasksLocked() []models.MProviderTask {
	out := make([]models.MProviderTask, 0, len(a.order))
	for _, id := range a.order {
		t := *a.tasks[id]
		t.Quotes = append([]models.MQuote(nil), t.Quotes...)
		out = append(out, t)
	}
	return out
}

func (a *Aggregator) publish(msg protocol.ServerMessage) {
	if a.publisher != nil {
		a.publisher.Publish(a.request.ID, msg)
	}
}

// -----------------------------------------------------------------------------

type reasonError string

func (e reasonError) Error() string { return string(e) }
