package config

import (
	"fmt"
	"os"
	"sync"

	"quote-aggregator/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
	mu sync.Mutex
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills optional tunables left at zero.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 10
	}

	a := &c.Aggregation
	if a.TaskTimeoutMs == 0 {
		a.TaskTimeoutMs = 8000
	}
	if a.RequestDeadlineSeconds == 0 {
		a.RequestDeadlineSeconds = 60
	}
	if a.MaxAttempts == 0 {
		a.MaxAttempts = 3
	}
	if a.BackoffBaseMs == 0 {
		a.BackoffBaseMs = 200
	}
	if a.BackoffMaxMs == 0 {
		a.BackoffMaxMs = 2000
	}
	if a.CompletedGraceSeconds == 0 {
		a.CompletedGraceSeconds = 300
	}
	if a.SweepIntervalSeconds == 0 {
		a.SweepIntervalSeconds = 5
	}

	ws := &c.WebSocket
	if ws.MaxPendingMessages == 0 {
		ws.MaxPendingMessages = 256
	}
	if ws.PongWaitSeconds == 0 {
		ws.PongWaitSeconds = 60
	}
	if ws.WriteWaitSeconds == 0 {
		ws.WriteWaitSeconds = 2
	}
	if ws.MaxMessageBytes == 0 {
		ws.MaxMessageBytes = 64 * 1024
	}
	if ws.ReconnectDelayMs == 0 {
		ws.ReconnectDelayMs = 2000
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "static"
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	// Validate App configuration (Flattened)
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535 || c.GrpcPort == c.Port) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	// Validate Storage configuration
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("database connection string cannot be empty for postgres")
		}
	case "":
		return fmt.Errorf("database type cannot be empty")
	default:
		return fmt.Errorf("unsupported database type: %s", c.Storage.DBType)
	}

	// Validate Network configuration
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}

	// Validate Aggregation tunables
	a := c.Aggregation
	if a.TaskTimeoutMs <= 0 {
		return fmt.Errorf("task timeout must be greater than 0")
	}
	if a.RequestDeadlineSeconds <= 0 {
		return fmt.Errorf("request deadline must be greater than 0")
	}
	if a.TaskTimeout() > a.RequestDeadline() {
		return fmt.Errorf("task timeout (%s) cannot exceed the request deadline (%s)", a.TaskTimeout(), a.RequestDeadline())
	}
	if a.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if a.BackoffBaseMs < 0 || a.BackoffMaxMs < a.BackoffBaseMs {
		return fmt.Errorf("invalid backoff window: base %dms, max %dms", a.BackoffBaseMs, a.BackoffMaxMs)
	}
	if a.MaxInFlightPerOrg < 0 {
		return fmt.Errorf("max in-flight per organization cannot be negative")
	}

	if c.WebSocket.MaxPendingMessages <= 0 {
		return fmt.Errorf("websocket max pending messages must be greater than 0")
	}

	// Validate Auth configuration
	switch c.Auth.Mode {
	case "static":
	case "http":
		if c.Auth.SessionURL == "" {
			return fmt.Errorf("auth session url cannot be empty for http mode")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %s", c.Auth.Mode)
	}

	// Validate Providers configuration
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d must have an id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id '%s'", p.ID)
		}
		seen[p.ID] = true

		if len(p.Products) == 0 {
			return fmt.Errorf("provider '%s' must offer at least one product", p.ID)
		}
		switch p.Type {
		case "http":
			if p.Endpoint == "" {
				return fmt.Errorf("provider '%s' needs an endpoint", p.ID)
			}
		case "static":
		default:
			return fmt.Errorf("provider '%s' has unsupported type '%s'", p.ID, p.Type)
		}
		if p.RateLimitPerSec < 0 {
			return fmt.Errorf("provider '%s' rate limit cannot be negative", p.ID)
		}
	}

	for i, org := range c.Organizations {
		if org.ID == "" {
			return fmt.Errorf("organization %d must have an id", i)
		}
		if org.MaxInFlight < 0 {
			return fmt.Errorf("organization '%s' max in-flight cannot be negative", org.ID)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// SetProviderEnabled flips a provider's enabled flag in memory.
func (c *Config) SetProviderEnabled(id string, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Providers {
		if c.Providers[i].ID == id {
			c.Providers[i].Enabled = enabled
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
