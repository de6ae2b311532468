package interfaces

import "context"

// -----------------------------------------------------------------------------
// INetworkManager defines the contract for outbound HTTP calls to carriers and
// the session service.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// -----------------------------------------------------------------------------

	// PostJSON sends payload as JSON and returns the response body.
	// One attempt only: failures come back classified as transient or permanent
	// so the caller owns the retry policy.
	PostJSON(ctx context.Context, url string, payload interface{}, headers map[string]string) ([]byte, error)
}
