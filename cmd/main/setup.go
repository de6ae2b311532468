package main

import (
	"time"

	"quote-aggregator/src/aggregation"
	"quote-aggregator/src/auth"
	"quote-aggregator/src/events"
	"quote-aggregator/src/interfaces"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/network"
	"quote-aggregator/src/providers"
	"quote-aggregator/src/storage"
	"quote-aggregator/src/utils"
)

// -----------------------------------------------------------------------------

// setupStorage opens the request journal named by storage.db_type.
func setupStorage(config *models.MConfig, appLogger *logger.Logger) (interfaces.IRequestStore, error) {
	store, err := storage.NewRequestStore(config, logger.NewLogger(config, "Journal"))
	if err != nil {
		appLogger.Critical("Failed to init db: %v", err)
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		appLogger.Critical("Failed to migrate db: %v", err)
		return nil, err
	}
	return store, nil
}

// -----------------------------------------------------------------------------

// setupNetwork initializes the network manager
func setupNetwork(config *models.MConfig) interfaces.INetworkManager {
	networkLogger := logger.NewLogger(config, "NetworkManager")
	return network.NewAsyncNetworkManager(config, networkLogger)
}

// -----------------------------------------------------------------------------

// setupProviders builds the registry and the task runner that enforces each
// provider's rate limit and business calendar.
func setupProviders(config *models.MConfig, networkManager interfaces.INetworkManager, appLogger *logger.Logger) (*providers.ProviderRegistry, *aggregation.TaskRunner, error) {
	schedule := utils.NewAvailabilitySchedule(config.Providers, logger.NewLogger(config, "Calendar"))
	runner := aggregation.NewTaskRunner(config.Aggregation, schedule, logger.NewLogger(config, "TaskRunner"))

	registry := providers.NewProviderRegistry(logger.NewLogger(config, "Providers"))
	if err := providers.LoadFromConfig(registry, config.Providers, networkManager, runner, logger.NewLogger(config, "Provider")); err != nil {
		appLogger.Critical("Failed to load providers: %v", err)
		return nil, nil, err
	}

	appLogger.Info("Loaded %d providers", len(config.Providers))
	return registry, runner, nil
}

// -----------------------------------------------------------------------------

func setupAuth(config *models.MConfig, networkManager interfaces.INetworkManager) (*auth.Authenticator, error) {
	authLogger := logger.NewLogger(config, "Auth")
	validator, err := auth.NewSessionValidator(config.Auth, networkManager, authLogger)
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(config.Auth.CacheTTLSeconds) * time.Second
	return auth.NewAuthenticator(validator, ttl, authLogger), nil
}

// -----------------------------------------------------------------------------

func setupCoordinator(config *models.MConfig, registry *providers.ProviderRegistry, runner *aggregation.TaskRunner, store interfaces.IRequestStore) *aggregation.RequestCoordinator {
	bus := events.NewEventBus(logger.NewLogger(config, "EventBus"))
	return aggregation.NewRequestCoordinator(config, registry, runner, bus, store, logger.NewLogger(config, "Coordinator"))
}
