package interfaces

import (
	"context"

	"quote-aggregator/src/models"
)

// -----------------------------------------------------------------------------
// ISessionValidator checks a claimed identity against the session layer.
// -----------------------------------------------------------------------------

type ISessionValidator interface {

	// ValidateSession returns the principal for userID acting within
	// organizationID ("" for an individual account), or an AuthenticationError.
	ValidateSession(ctx context.Context, userID, organizationID string) (models.MPrincipal, error)
}
