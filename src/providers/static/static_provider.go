package static

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/models"
)

// StaticProvider answers from configuration. It backs local runs and demos
// where no carrier sandbox is reachable, and can simulate carrier failures.
type StaticProvider struct {
	id       string
	products []string
	spec     models.MStaticProviderSpec

	mu       sync.Mutex
	attempts map[string]int // per request, for fail_attempts
}

// -----------------------------------------------------------------------------

func NewStaticProvider(cfg models.MProviderConfig) *StaticProvider {
	return &StaticProvider{
		id:       cfg.ID,
		products: cfg.Products,
		spec:     cfg.Static,
		attempts: make(map[string]int),
	}
}

func (p *StaticProvider) ID() string         { return p.id }
func (p *StaticProvider) Type() string       { return "static" }
func (p *StaticProvider) Products() []string { return p.products }

// -----------------------------------------------------------------------------

func (p *StaticProvider) FetchQuotes(ctx context.Context, requestID string, filters models.MQuoteFilters) ([]models.MQuote, error) {
	if p.spec.Failure == "hang" {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if p.spec.LatencyMs > 0 {
		timer := time.NewTimer(time.Duration(p.spec.LatencyMs) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	switch p.spec.Failure {
	case "permanent":
		return nil, helpers.NewPermanentError(fmt.Sprintf("%s rejected the application", p.id), nil)
	case "transient":
		if p.nextAttempt(requestID) <= p.spec.FailAttempts || p.spec.FailAttempts == 0 {
			return nil, helpers.NewTransientError(fmt.Sprintf("%s unavailable", p.id), nil)
		}
	}

	quotes := make([]models.MQuote, 0, len(p.spec.Quotes))
	for i, q := range p.spec.Quotes {
		id := q.ID
		if id == "" {
			id = fmt.Sprintf("%s-plan-%d", p.id, i+1)
		}
		quotes = append(quotes, models.MQuote{
			ID:             id,
			ProviderID:     p.id,
			Premium:        q.Premium,
			CoverageAmount: filters.CoverageAmount,
			TermMonths:     filters.TermMonths,
			PlanDetails:    q.PlanDetails,
		})
	}
	return quotes, nil
}

// -----------------------------------------------------------------------------

func (p *StaticProvider) nextAttempt(requestID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[requestID]++
	return p.attempts[requestID]
}
