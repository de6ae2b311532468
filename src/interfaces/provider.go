package interfaces

import (
	"context"

	"quote-aggregator/src/models"
)

// -----------------------------------------------------------------------------
// IProviderAdapter is the narrow contract with one external quote source.
// Pricing and underwriting live behind it.
// -----------------------------------------------------------------------------

type IProviderAdapter interface {

	// ID returns the unique identifier of the provider
	ID() string

	// -----------------------------------------------------------------------------

	// Type returns the adapter kind ("http", "static")
	Type() string

	// -----------------------------------------------------------------------------

	// Products lists the product types this provider can quote.
	Products() []string

	// -----------------------------------------------------------------------------

	// FetchQuotes returns the quote batch for the filters, or an error. Errors
	// should be ProviderTransientError or ProviderPermanentError where known.
	FetchQuotes(ctx context.Context, requestID string, filters models.MQuoteFilters) ([]models.MQuote, error)
}
