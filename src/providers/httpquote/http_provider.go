package httpquote

import (
	"context"
	"encoding/json"
	"fmt"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/interfaces"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
)

// HTTPProvider calls a carrier rating endpoint that speaks the aggregator's
// JSON rating contract.
type HTTPProvider struct {
	Config  models.MProviderConfig
	Network interfaces.INetworkManager
	Logger  *logger.Logger
}

// -----------------------------------------------------------------------------

func NewHTTPProvider(cfg models.MProviderConfig, netMgr interfaces.INetworkManager, log *logger.Logger) *HTTPProvider {
	return &HTTPProvider{
		Config:  cfg,
		Network: netMgr,
		Logger:  log,
	}
}

func (p *HTTPProvider) ID() string         { return p.Config.ID }
func (p *HTTPProvider) Type() string       { return "http" }
func (p *HTTPProvider) Products() []string { return p.Config.Products }

// -----------------------------------------------------------------------------

type ratingRequest struct {
	RequestID string               `json:"requestId"`
	Filters   models.MQuoteFilters `json:"filters"`
}

// RatingResponse is the carrier reply.
type RatingResponse struct {
	Quotes []struct {
		ID             string            `json:"id"`
		Premium        *float64          `json:"premium"` // Use pointers to handle null
		CoverageAmount *float64          `json:"coverage_amount"`
		TermMonths     int               `json:"term_months"`
		PlanDetails    map[string]string `json:"plan_details"`
	} `json:"quotes"`
	Error *struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Retryable   bool   `json:"retryable"`
	} `json:"error"`
}

// -----------------------------------------------------------------------------

func (p *HTTPProvider) FetchQuotes(ctx context.Context, requestID string, filters models.MQuoteFilters) ([]models.MQuote, error) {
	headers := map[string]string{"X-Request-ID": requestID}
	if p.Config.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.Config.APIKey
	}

	respBytes, err := p.Network.PostJSON(ctx, p.Config.Endpoint, ratingRequest{RequestID: requestID, Filters: filters}, headers)
	if err != nil {
		return nil, err
	}

	return p.parseRatingResponse(filters, respBytes)
}

// -----------------------------------------------------------------------------

func (p *HTTPProvider) parseRatingResponse(filters models.MQuoteFilters, data []byte) ([]models.MQuote, error) {
	var resp RatingResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, helpers.NewPermanentError("malformed provider response", err)
	}

	if resp.Error != nil {
		msg := fmt.Sprintf("carrier error: %s - %s", resp.Error.Code, resp.Error.Description)
		if resp.Error.Retryable {
			return nil, helpers.NewTransientError(msg, nil)
		}
		return nil, helpers.NewPermanentError(msg, nil)
	}

	quotes := make([]models.MQuote, 0, len(resp.Quotes))
	for i, q := range resp.Quotes {
		if q.Premium == nil {
			return nil, helpers.NewPermanentError(fmt.Sprintf("malformed provider response: quote %d has no premium", i), nil)
		}

		coverage := filters.CoverageAmount
		if q.CoverageAmount != nil {
			coverage = *q.CoverageAmount
		}
		term := q.TermMonths
		if term == 0 {
			term = filters.TermMonths
		}

		quotes = append(quotes, models.MQuote{
			ID:             q.ID,
			ProviderID:     p.Config.ID,
			Premium:        *q.Premium,
			CoverageAmount: coverage,
			TermMonths:     term,
			PlanDetails:    q.PlanDetails,
		})
	}

	p.Logger.Debug("Provider %s returned %d quotes", p.Config.ID, len(quotes))
	return quotes, nil
}
