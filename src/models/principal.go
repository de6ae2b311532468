package models

// MPrincipal is the identity bound to a connection after a successful auth handshake.
type MPrincipal struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// IsIndividual reports whether the principal has no organization scope.
func (p MPrincipal) IsIndividual() bool {
	return p.OrganizationID == ""
}

// CanView reports whether the principal may observe the given request.
// Organization requests are visible to members of that organization; individual
// requests only to their requester.
func (p MPrincipal) CanView(req MQuoteRequest) bool {
	if req.OrganizationID != p.OrganizationID {
		return false
	}
	if req.OrganizationID == "" {
		return req.RequesterUserID == p.UserID
	}
	return true
}

// -----------------------------------------------------------------------------

// MProviderStatus describes one registered provider for status endpoints.
type MProviderStatus struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Enabled  bool     `json:"enabled"`
	Products []string `json:"products"`
}

// MServiceStats is the snapshot exposed by /api/metrics and the control plane.
type MServiceStats struct {
	ActiveRequests    int            `json:"activeRequests"`
	InFlightRequests  int            `json:"inFlightRequests"`
	RequestsCreated   int64          `json:"requestsCreated"`
	RequestsCompleted int64          `json:"requestsCompleted"`
	RequestsFailed    int64          `json:"requestsFailed"`
	RequestsExpired   int64          `json:"requestsExpired"`
	RequestsRejected  int64          `json:"requestsRejected"`
	InFlightByTenant  map[string]int `json:"inFlightByTenant"`
}
