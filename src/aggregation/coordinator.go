package aggregation

import (
	"context"
	"sync"
	"time"

	"quote-aggregator/src/events"
	"quote-aggregator/src/helpers"
	"quote-aggregator/src/interfaces"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/providers"

	"github.com/google/uuid"
)

// RequestView is the read model of one request.
type RequestView struct {
	Request  models.MQuoteRequest     `json:"request"`
	Progress models.MProgressSnapshot `json:"progress"`
	Tasks    []models.MProviderTask   `json:"tasks"`
}

type activeRequest struct {
	aggregator *Aggregator
	cancel     context.CancelFunc
	tenant     string
	createdAt  time.Time
	finishedAt time.Time
	finalized  bool
}

// -----------------------------------------------------------------------------

// RequestCoordinator creates requests, fans them out to providers and governs
// their lifecycle until they expire.
type RequestCoordinator struct {
	Config       *models.MConfig
	Registry     *providers.ProviderRegistry
	Runner       *TaskRunner
	Bus          *events.EventBus
	Store        interfaces.IRequestStore
	Logger       *logger.Logger
	ErrorHandler *helpers.ErrorHandler

	mu       sync.Mutex
	requests map[string]*activeRequest
	inFlight map[string]int
	stats    models.MServiceStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// -----------------------------------------------------------------------------

// NewRequestCoordinator wires the coordinator. store may be nil.
func NewRequestCoordinator(cfg *models.MConfig, registry *providers.ProviderRegistry, runner *TaskRunner, bus *events.EventBus, store interfaces.IRequestStore, log *logger.Logger) *RequestCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &RequestCoordinator{
		Config:       cfg,
		Registry:     registry,
		Runner:       runner,
		Bus:          bus,
		Store:        store,
		Logger:       log,
		ErrorHandler: helpers.NewErrorHandler(log),
		requests:     make(map[string]*activeRequest),
		inFlight:     make(map[string]int),
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
	}
}

// -----------------------------------------------------------------------------

// CreateRequest validates the search, reserves in-flight capacity for the
// tenant and starts one task per provider. It returns the new request id.
func (c *RequestCoordinator) CreateRequest(ctx context.Context, filters models.MQuoteFilters, requesterUserID, organizationID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if requesterUserID == "" {
		return "", helpers.NewValidationError("requesterUserId is required")
	}
	if err := filters.Validate(); err != nil {
		return "", helpers.NewValidationError("invalid filters: %v", err)
	}

	adapters := c.providersFor(filters.ProductType, organizationID)
	if len(adapters) == 0 {
		return "", helpers.NewValidationError("no providers available for product %s", filters.ProductType)
	}

	providerIDs := make([]string, 0, len(adapters))
	for _, a := range adapters {
		providerIDs = append(providerIDs, a.ID())
	}

	tenant := tenantKey(requesterUserID, organizationID)
	limit := c.limitFor(organizationID)

	req := models.MQuoteRequest{
		ID:              uuid.NewString(),
		OrganizationID:  organizationID,
		RequesterUserID: requesterUserID,
		Filters:         filters,
		Providers:       providerIDs,
		Status:          models.RequestPending,
		CreatedAt:       c.now(),
	}

	c.mu.Lock()
	if limit > 0 && c.inFlight[tenant] >= limit {
		c.stats.RequestsRejected++
		c.mu.Unlock()
		return "", helpers.NewCapacityError(tenant, limit)
	}
	c.inFlight[tenant]++
	c.stats.RequestsCreated++

	reqCtx, cancel := context.WithCancel(c.ctx)
	agg := NewAggregator(req, c.Bus, c.Logger.Named("aggregator"), c.finalize)
	c.Bus.OpenGroup(req.ID, organizationID)
	c.requests[req.ID] = &activeRequest{
		aggregator: agg,
		cancel:     cancel,
		tenant:     tenant,
		createdAt:  req.CreatedAt,
	}
	c.mu.Unlock()

	if c.Store != nil {
		c.ErrorHandler.Handle(c.Store.SaveRequest(req), "save request "+req.ID)
	}

	c.Logger.Info("Request %s created for %s: %s across %d providers", req.ID, tenant, filters.ProductType, len(adapters))

	for _, adapter := range adapters {
		c.wg.Add(1)
		go func(adapter interfaces.IProviderAdapter) {
			defer c.wg.Done()
			c.Runner.Run(reqCtx, req.ID, adapter, filters, agg)
		}(adapter)
	}

	return req.ID, nil
}

// -----------------------------------------------------------------------------

// CancelRequest stops further retries, fails every unfinished task so the
// completion is still delivered once, then removes the request.
func (c *RequestCoordinator) CancelRequest(requestID string) error {
	c.mu.Lock()
	ar, ok := c.requests[requestID]
	c.mu.Unlock()
	if !ok {
		return helpers.NewNotFoundError("request %s not found", requestID)
	}

	ar.cancel()
	ar.aggregator.FailRemaining("request cancelled")

	c.mu.Lock()
	delete(c.requests, requestID)
	c.mu.Unlock()

	c.Bus.CloseGroup(requestID)
	c.Logger.Info("Request %s cancelled", requestID)
	return nil
}

// -----------------------------------------------------------------------------

// Lookup returns the live aggregator of a request.
func (c *RequestCoordinator) Lookup(requestID string) (*Aggregator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ar, ok := c.requests[requestID]
	if !ok {
		return nil, helpers.NewNotFoundError("request %s not found", requestID)
	}
	return ar.aggregator, nil
}

// -----------------------------------------------------------------------------

// GetRequest returns the request's state, reading archived requests from the store.
func (c *RequestCoordinator) GetRequest(requestID string) (*RequestView, error) {
	if agg, err := c.Lookup(requestID); err == nil {
		return &RequestView{
			Request:  agg.Request(),
			Progress: agg.Snapshot(),
			Tasks:    agg.Tasks(),
		}, nil
	}

	if c.Store == nil {
		return nil, helpers.NewNotFoundError("request %s not found", requestID)
	}
	req, tasks, err := c.Store.LoadRequest(requestID)
	if err != nil {
		return nil, err
	}
	return &RequestView{Request: *req, Progress: progressFromTasks(requestID, tasks), Tasks: tasks}, nil
}

// -----------------------------------------------------------------------------

// Start runs the TTL sweep and the hourly journal retention until ctx is done
// or Stop is called.
func (c *RequestCoordinator) Start(ctx context.Context) {
	interval := c.Config.Aggregation.SweepInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		retention := time.NewTicker(time.Hour)
		defer retention.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ctx.Done():
				return
			case now := <-ticker.C:
				c.Sweep(now)
			case <-retention.C:
				if c.Store != nil {
					c.ErrorHandler.Handle(c.Store.CleanupOldData(), "journal retention")
				}
			}
		}
	}()
}

// -----------------------------------------------------------------------------

// Sweep enforces the request deadline and expires finished requests nobody
// watches anymore. It returns how many requests were timed out and expired.
func (c *RequestCoordinator) Sweep(now time.Time) (timedOut, expired int) {
	deadline := c.Config.Aggregation.RequestDeadline()
	grace := c.Config.Aggregation.CompletedGrace()

	var overdue []*Aggregator
	var finished []string

	c.mu.Lock()
	for id, ar := range c.requests {
		switch {
		case !ar.finalized && deadline > 0 && now.Sub(ar.createdAt) > deadline:
			overdue = append(overdue, ar.aggregator)
		case ar.finalized && now.Sub(ar.finishedAt) >= grace:
			finished = append(finished, id)
		}
	}
	c.mu.Unlock()

	for _, agg := range overdue {
		if agg.TimeoutRemaining("request deadline exceeded") > 0 {
			timedOut++
		}
	}

	for _, id := range finished {
		if c.Bus.SubscriberCount(id) > 0 {
			continue
		}

		c.mu.Lock()
		ar, ok := c.requests[id]
		if ok {
			delete(c.requests, id)
			c.stats.RequestsExpired++
		}
		c.mu.Unlock()
		if !ok {
			continue
		}

		ar.aggregator.MarkExpired()
		c.Bus.CloseGroup(id)
		if c.Store != nil {
			c.ErrorHandler.Handle(c.Store.SaveRequest(ar.aggregator.Request()), "expire request "+id)
		}
		expired++
	}

	if timedOut > 0 || expired > 0 {
		c.Logger.Info("Sweep: %d request(s) hit the deadline, %d expired", timedOut, expired)
	}
	return timedOut, expired
}

// -----------------------------------------------------------------------------

// Stop cancels every running task and waits for the goroutines to exit.
func (c *RequestCoordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// -----------------------------------------------------------------------------

func (c *RequestCoordinator) Stats() models.MServiceStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.ActiveRequests = len(c.requests)
	s.InFlightByTenant = make(map[string]int, len(c.inFlight))
	for tenant, n := range c.inFlight {
		s.InFlightByTenant[tenant] = n
		s.InFlightRequests += n
	}
	return s
}

// -----------------------------------------------------------------------------

// finalize is the aggregator's completion hook. It releases the tenant's
// capacity and journals the outcome.
func (c *RequestCoordinator) finalize(req models.MQuoteRequest, tasks []models.MProviderTask) {
	c.mu.Lock()
	ar, ok := c.requests[req.ID]
	if ok && !ar.finalized {
		ar.finalized = true
		ar.finishedAt = c.now()
		c.inFlight[ar.tenant]--
		if c.inFlight[ar.tenant] <= 0 {
			delete(c.inFlight, ar.tenant)
		}
		if req.Status == models.RequestFailed {
			c.stats.RequestsFailed++
		} else {
			c.stats.RequestsCompleted++
		}
	}
	c.mu.Unlock()

	if ok {
		ar.cancel()
	}
	if c.Store != nil {
		c.ErrorHandler.Handle(c.Store.SaveOutcome(req, tasks), "save outcome "+req.ID)
	}
}

// -----------------------------------------------------------------------------

// providersFor resolves the enabled providers for a product inside the tenant's catalog.
func (c *RequestCoordinator) providersFor(productType, organizationID string) []interfaces.IProviderAdapter {
	catalog := c.Config.DefaultCatalog
	if org := c.organization(organizationID); org != nil && len(org.Products) > 0 {
		catalog = org.Products
	}
	if len(catalog) > 0 && !inCatalog(catalog, productType) {
		return nil
	}
	return c.Registry.ProvidersFor(productType)
}

func (c *RequestCoordinator) limitFor(organizationID string) int {
	if org := c.organization(organizationID); org != nil && org.MaxInFlight > 0 {
		return org.MaxInFlight
	}
	return c.Config.Aggregation.MaxInFlightPerOrg
}

func (c *RequestCoordinator) organization(organizationID string) *models.MOrganizationConfig {
	if organizationID == "" {
		return nil
	}
	for i := range c.Config.Organizations {
		if c.Config.Organizations[i].ID == organizationID {
			return &c.Config.Organizations[i]
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func tenantKey(userID, organizationID string) string {
	if organizationID == "" {
		return "user:" + userID
	}
	return organizationID
}

func inCatalog(catalog []string, productType string) bool {
	for _, p := range catalog {
		if p == productType {
			return true
		}
	}
	return false
}

func progressFromTasks(requestID string, tasks []models.MProviderTask) models.MProgressSnapshot {
	s := models.MProgressSnapshot{RequestID: requestID, ProvidersTotal: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case models.TaskSucceeded:
			s.ProvidersSuccessful++
			s.ProvidersCompleted++
		case models.TaskFailed, models.TaskTimedOut:
			s.ProvidersFailed++
			s.ProvidersCompleted++
		}
	}
	return s
}
