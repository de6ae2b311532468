package providers

import (
	"fmt"

	"quote-aggregator/src/interfaces"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/providers/httpquote"
	"quote-aggregator/src/providers/static"
)

// RateLimitSetter receives the per-provider call budget from configuration.
type RateLimitSetter interface {
	SetRateLimit(providerID string, perSecond float64, burst int)
}

// -----------------------------------------------------------------------------

// NewAdapter builds the adapter for one provider entry.
func NewAdapter(cfg models.MProviderConfig, netMgr interfaces.INetworkManager, log *logger.Logger) (interfaces.IProviderAdapter, error) {
	switch cfg.Type {
	case "static":
		return static.NewStaticProvider(cfg), nil
	case "http":
		if netMgr == nil {
			return nil, fmt.Errorf("provider %s: http adapter needs a network manager", cfg.ID)
		}
		return httpquote.NewHTTPProvider(cfg, netMgr, log.Named(cfg.ID)), nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported type '%s'", cfg.ID, cfg.Type)
	}
}

// -----------------------------------------------------------------------------

// LoadFromConfig registers every configured provider, disabled ones included,
// and hands their rate limits to limits (which may be nil).
func LoadFromConfig(registry *ProviderRegistry, cfgs []models.MProviderConfig, netMgr interfaces.INetworkManager, limits RateLimitSetter, log *logger.Logger) error {
	for _, pc := range cfgs {
		adapter, err := NewAdapter(pc, netMgr, log)
		if err != nil {
			return err
		}
		if err := registry.AddProvider(adapter, pc.Enabled); err != nil {
			return err
		}
		if limits != nil && pc.RateLimitPerSec > 0 {
			limits.SetRateLimit(pc.ID, pc.RateLimitPerSec, pc.RateLimitBurst)
		}
	}
	return nil
}
