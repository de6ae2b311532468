package models

import "time"

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
	RequestExpired    RequestStatus = "expired"
)

// IsTerminal reports whether no further provider results can change the request.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestCompleted || s == RequestFailed || s == RequestExpired
}

// -----------------------------------------------------------------------------

// MQuoteRequest is one multi-provider search. OrganizationID is empty for individual accounts.
type MQuoteRequest struct {
	ID              string        `json:"id"`
	OrganizationID  string        `json:"organizationId,omitempty"`
	RequesterUserID string        `json:"requesterUserId"`
	Filters         MQuoteFilters `json:"filters"`
	Providers       []string      `json:"providers"`
	Status          RequestStatus `json:"status"`
	TotalQuotes     int           `json:"totalQuotes"`
	CreatedAt       time.Time     `json:"createdAt"`
	FinishedAt      time.Time     `json:"finishedAt,omitempty"`
}

// -----------------------------------------------------------------------------

// MProgressSnapshot is derived from the provider tasks of one request.
// ProvidersCompleted == ProvidersSuccessful + ProvidersFailed <= ProvidersTotal.
type MProgressSnapshot struct {
	RequestID           string `json:"requestId"`
	ProvidersTotal      int    `json:"providersTotal"`
	ProvidersCompleted  int    `json:"providersCompleted"`
	ProvidersSuccessful int    `json:"providersSuccessful"`
	ProvidersFailed     int    `json:"providersFailed"`
}

// Done reports whether every provider reached a terminal state.
func (p MProgressSnapshot) Done() bool {
	return p.ProvidersCompleted == p.ProvidersTotal
}
