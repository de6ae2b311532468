package grpc_control

import (
	"context"
	"encoding/json"

	"quote-aggregator/src/aggregation"
	"quote-aggregator/src/config"
	"quote-aggregator/src/helpers"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/providers"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// -----------------------------------------------------------------------------

// ControlService is the operator control plane: provider toggles, request
// inspection and cancellation, service counters.
type ControlService struct {
	Config      *config.Config
	ConfigPath  string
	Registry    *providers.ProviderRegistry
	Coordinator *aggregation.RequestCoordinator
	Logger      *logger.Logger
}

var _ ControlServer = (*ControlService)(nil)

func NewControlService(cfg *config.Config, configPath string, registry *providers.ProviderRegistry, coordinator *aggregation.RequestCoordinator, log *logger.Logger) *ControlService {
	return &ControlService{
		Config:      cfg,
		ConfigPath:  configPath,
		Registry:    registry,
		Coordinator: coordinator,
		Logger:      log,
	}
}

// -----------------------------------------------------------------------------

func (s *ControlService) ListProviders(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]interface{}{"providers": s.Registry.Statuses()})
}

// -----------------------------------------------------------------------------

func (s *ControlService) SetProviderEnabled(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "provider id is required")
	}
	enabled := req.GetFields()["enabled"].GetBoolValue()

	if err := s.Registry.SetEnabled(id, enabled); err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}

	// Persist so the toggle survives a restart
	if s.Config != nil && s.Config.SetProviderEnabled(id, enabled) && s.ConfigPath != "" {
		if err := s.Config.Save(s.ConfigPath); err != nil {
			s.Logger.Error("Failed to save config after toggling %s: %v", id, err)
			return nil, status.Error(codes.Internal, "provider updated but config not saved: "+err.Error())
		}
	}

	s.Logger.Info("Control: provider %s enabled=%v", id, enabled)
	return toStruct(map[string]interface{}{"success": true, "id": id, "enabled": enabled})
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "requestId")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "requestId is required")
	}

	view, err := s.Coordinator.GetRequest(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(view)
}

// -----------------------------------------------------------------------------

func (s *ControlService) CancelRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "requestId")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "requestId is required")
	}

	if err := s.Coordinator.CancelRequest(id); err != nil {
		return nil, toStatus(err)
	}

	s.Logger.Info("Control: cancelled request %s", id)
	return toStruct(map[string]interface{}{"success": true, "requestId": id})
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetStats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.Coordinator.Stats())
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

// toStruct converts any JSON-serializable value into a Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case helpers.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case helpers.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case helpers.IsCapacity(err):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
