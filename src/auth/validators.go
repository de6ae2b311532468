package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/interfaces"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
)

// NewSessionValidator builds the validator selected by auth.mode.
func NewSessionValidator(cfg models.MAuthConfig, netMgr interfaces.INetworkManager, log *logger.Logger) (interfaces.ISessionValidator, error) {
	switch cfg.Mode {
	case "", "static":
		return NewStaticValidator(cfg), nil
	case "http":
		if cfg.SessionURL == "" {
			return nil, fmt.Errorf("auth.session_url is required for http mode")
		}
		return NewHTTPValidator(cfg.SessionURL, netMgr, log), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// -----------------------------------------------------------------------------
// Static validator
// -----------------------------------------------------------------------------

// StaticValidator checks membership against the configured member list.
type StaticValidator struct {
	members          map[string]map[string]bool
	allowIndividuals bool
}

func NewStaticValidator(cfg models.MAuthConfig) *StaticValidator {
	v := &StaticValidator{
		members:          make(map[string]map[string]bool),
		allowIndividuals: cfg.AllowIndividuals,
	}
	for _, m := range cfg.Members {
		orgs := make(map[string]bool, len(m.Organizations))
		for _, o := range m.Organizations {
			orgs[o] = true
		}
		v.members[m.UserID] = orgs
	}
	return v
}

func (v *StaticValidator) ValidateSession(_ context.Context, userID, organizationID string) (models.MPrincipal, error) {
	orgs, known := v.members[userID]

	if organizationID == "" {
		if !v.allowIndividuals && !known {
			return models.MPrincipal{}, helpers.NewAuthenticationError("unknown user "+userID, nil)
		}
		return models.MPrincipal{UserID: userID}, nil
	}

	if !known || !orgs[organizationID] {
		return models.MPrincipal{}, helpers.NewAuthenticationError(
			fmt.Sprintf("user %s is not a member of %s", userID, organizationID), nil)
	}
	return models.MPrincipal{UserID: userID, OrganizationID: organizationID}, nil
}

// -----------------------------------------------------------------------------
// HTTP validator
// -----------------------------------------------------------------------------

// HTTPValidator asks the session service whether the identity is live.
type HTTPValidator struct {
	URL     string
	Network interfaces.INetworkManager
	Logger  *logger.Logger
}

type sessionRequest struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId,omitempty"`
}

type sessionResponse struct {
	Valid          bool   `json:"valid"`
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Reason         string `json:"reason"`
}

func NewHTTPValidator(url string, netMgr interfaces.INetworkManager, log *logger.Logger) *HTTPValidator {
	return &HTTPValidator{URL: url, Network: netMgr, Logger: log}
}

func (v *HTTPValidator) ValidateSession(ctx context.Context, userID, organizationID string) (models.MPrincipal, error) {
	body, err := v.Network.PostJSON(ctx, v.URL, sessionRequest{UserID: userID, OrganizationID: organizationID}, nil)
	if err != nil {
		if helpers.IsAuthentication(err) {
			return models.MPrincipal{}, err
		}
		v.Logger.Warning("Session service unavailable: %v", err)
		return models.MPrincipal{}, helpers.NewAuthenticationError("session service unavailable", err)
	}

	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.MPrincipal{}, helpers.NewAuthenticationError("malformed session response", err)
	}
	if !resp.Valid {
		reason := resp.Reason
		if reason == "" {
			reason = "session rejected"
		}
		return models.MPrincipal{}, helpers.NewAuthenticationError(reason, nil)
	}

	// The service may not echo the ids; the claimed identity is what it vouched for.
	if resp.UserID != "" && resp.UserID != userID {
		return models.MPrincipal{}, helpers.NewAuthenticationError("session belongs to another user", nil)
	}
	if resp.OrganizationID != "" && resp.OrganizationID != organizationID {
		return models.MPrincipal{}, helpers.NewAuthenticationError("session belongs to another organization", nil)
	}
	return models.MPrincipal{UserID: userID, OrganizationID: organizationID}, nil
}
