package main

import (
	"fmt"
	"net"

	"quote-aggregator/src/aggregation"
	"quote-aggregator/src/auth"
	"quote-aggregator/src/config"
	pb "quote-aggregator/src/grpc_control"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/providers"
	"quote-aggregator/src/server"

	"google.golang.org/grpc"
)

// -----------------------------------------------------------------------------

// startServers starts the HTTP/WebSocket server and the gRPC control server.
func startServers(
	config *config.Config,
	configPath string,
	authenticator *auth.Authenticator,
	coordinator *aggregation.RequestCoordinator,
	registry *providers.ProviderRegistry,
	appLogger *logger.Logger,
) (*server.APIServer, *grpc.Server) {

	// 1. API server and real-time channel
	hub := server.NewHub(config.WebSocket, authenticator, coordinator, coordinator.Bus, logger.NewLogger(config, "Hub"))
	apiServer := server.NewAPIServer(config.MConfig, hub, coordinator, registry, logger.NewLogger(config, "APIServer"))

	go func() {
		if err := apiServer.Start(); err != nil {
			appLogger.Critical("Server failed: %v", err)
		}
	}()

	// 2. gRPC Control Server
	grpcServer := grpc.NewServer()
	controlService := pb.NewControlService(config, configPath, registry, coordinator, logger.NewLogger(config, "ControlService"))
	pb.RegisterControlServer(grpcServer, controlService)

	go func() {
		port := config.GrpcPort
		if port == 0 {
			port = 50051 // Default fallback
		}
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", config.GrpcHost, port))
		if err != nil {
			appLogger.Critical("failed to listen for gRPC: %v", err)
			return
		}

		appLogger.Info("Starting gRPC Control Server on %s:%d", config.GrpcHost, port)
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Error("gRPC server stopped: %v", err)
		}
	}()

	return apiServer, grpcServer
}
