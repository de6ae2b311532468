package interfaces

import "quote-aggregator/src/models"

// -----------------------------------------------------------------------------
// IRequestStore defines the contract for the quote request journal.
// -----------------------------------------------------------------------------

type IRequestStore interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveRequest records a newly created request.
	SaveRequest(req models.MQuoteRequest) error

	// -----------------------------------------------------------------------------

	// SaveOutcome records the terminal state of a request and its provider tasks.
	SaveOutcome(req models.MQuoteRequest, tasks []models.MProviderTask) error

	// -----------------------------------------------------------------------------

	// LoadRequest returns an archived request with its tasks.
	LoadRequest(requestID string) (*models.MQuoteRequest, []models.MProviderTask, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes data older than the retention policy.
	CleanupOldData() error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
