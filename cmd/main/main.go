package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quote-aggregator/src/config"
	"quote-aggregator/src/logger"
)

func main() {
	// 1. Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// 2. Load config
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 3. Setup Logger
	appLogger := logger.NewLogger(conf, conf.Name)
	defer appLogger.Sync()

	// 4. Setup Components
	store, err := setupStorage(conf.MConfig, appLogger)
	if err != nil {
		os.Exit(1)
	}
	defer store.Close()

	networkManager := setupNetwork(conf.MConfig)

	registry, runner, err := setupProviders(conf.MConfig, networkManager, appLogger)
	if err != nil {
		os.Exit(1)
	}

	authenticator, err := setupAuth(conf.MConfig, networkManager)
	if err != nil {
		appLogger.Critical("Failed to init auth: %v", err)
	}

	coordinator := setupCoordinator(conf.MConfig, registry, runner, store)

	// 5. Lifecycle Management
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator.Start(ctx)

	// 6. Start Servers
	apiServer, grpcServer := startServers(conf, *configPath, authenticator, coordinator, registry, appLogger)

	// 7. Wait for a signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		appLogger.Error("HTTP shutdown failed: %v", err)
	}
	grpcServer.GracefulStop()
	cancel()
	coordinator.Stop()
	appLogger.Info("Shutdown complete.")
}
