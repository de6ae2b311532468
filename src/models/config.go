package models

import "time"

// MConfig Structure
type MConfig struct {
	Name           string                `yaml:"name"`
	Host           string                `yaml:"host"`
	Port           int                   `yaml:"port"`
	LogLevel       string                `yaml:"log_level"`
	GrpcHost       string                `yaml:"grpc_host"`
	GrpcPort       int                   `yaml:"grpc_port"`
	Storage        MStorageConfig        `yaml:"storage"`
	Network        MNetworkConfig        `yaml:"network"`
	Aggregation    MAggregationConfig    `yaml:"aggregation"`
	WebSocket      MWebSocketConfig      `yaml:"websocket"`
	Auth           MAuthConfig           `yaml:"auth"`
	Providers      []MProviderConfig     `yaml:"providers"`
	Organizations  []MOrganizationConfig `yaml:"organizations"`
	DefaultCatalog []string              `yaml:"default_catalog"`
}

// GetLogLevel lets the logger pick its level without importing config.
func (c *MConfig) GetLogLevel() string {
	if c == nil {
		return ""
	}
	return c.LogLevel
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
}

type MNetworkConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Proxies        []string `yaml:"proxies"`
	RequestTimeout int      `yaml:"timeout"`
	UserAgent      string   `yaml:"user_agent"`
}

type MAggregationConfig struct {
	TaskTimeoutMs          int `yaml:"task_timeout_ms"`
	RequestDeadlineSeconds int `yaml:"request_deadline_seconds"`
	MaxAttempts            int `yaml:"max_attempts"`
	BackoffBaseMs          int `yaml:"backoff_base_ms"`
	BackoffMaxMs           int `yaml:"backoff_max_ms"`
	MaxInFlightPerOrg      int `yaml:"max_in_flight_per_org"`
	CompletedGraceSeconds  int `yaml:"completed_grace_seconds"`
	SweepIntervalSeconds   int `yaml:"sweep_interval_seconds"`
}

func (a MAggregationConfig) TaskTimeout() time.Duration {
	return time.Duration(a.TaskTimeoutMs) * time.Millisecond
}

func (a MAggregationConfig) RequestDeadline() time.Duration {
	return time.Duration(a.RequestDeadlineSeconds) * time.Second
}

func (a MAggregationConfig) BackoffBase() time.Duration {
	return time.Duration(a.BackoffBaseMs) * time.Millisecond
}

func (a MAggregationConfig) BackoffMax() time.Duration {
	return time.Duration(a.BackoffMaxMs) * time.Millisecond
}

func (a MAggregationConfig) CompletedGrace() time.Duration {
	return time.Duration(a.CompletedGraceSeconds) * time.Second
}

func (a MAggregationConfig) SweepInterval() time.Duration {
	return time.Duration(a.SweepIntervalSeconds) * time.Second
}

type MWebSocketConfig struct {
	MaxPendingMessages int `yaml:"max_pending_messages"`
	PongWaitSeconds    int `yaml:"pong_wait_seconds"`
	WriteWaitSeconds   int `yaml:"write_wait_seconds"`
	MaxMessageBytes    int `yaml:"max_message_bytes"`
	ReconnectDelayMs   int `yaml:"reconnect_delay_ms"`
}

type MAuthConfig struct {
	Mode             string          `yaml:"mode"` // "static" or "http"
	SessionURL       string          `yaml:"session_url"`
	CacheTTLSeconds  int             `yaml:"cache_ttl_seconds"`
	AllowIndividuals bool            `yaml:"allow_individuals"`
	Members          []MMemberConfig `yaml:"members"`
}

type MMemberConfig struct {
	UserID        string   `yaml:"user_id"`
	Organizations []string `yaml:"organizations"`
}

type MProviderConfig struct {
	ID               string              `yaml:"id"`
	Type             string              `yaml:"type"` // "http" or "static"
	Enabled          bool                `yaml:"enabled"`
	Products         []string            `yaml:"products"`
	Endpoint         string              `yaml:"endpoint"`
	APIKey           string              `yaml:"api_key"` // Optional
	BusinessCalendar string              `yaml:"business_calendar"`
	RateLimitPerSec  float64             `yaml:"rate_limit_per_second"`
	RateLimitBurst   int                 `yaml:"rate_limit_burst"`
	Static           MStaticProviderSpec `yaml:"static"`
}

// MStaticProviderSpec drives the static adapter used for local runs and tests.
type MStaticProviderSpec struct {
	LatencyMs    int                  `yaml:"latency_ms"`
	Failure      string               `yaml:"failure"` // "", "transient", "permanent", "hang"
	FailAttempts int                  `yaml:"fail_attempts"`
	Quotes       []MStaticQuoteConfig `yaml:"quotes"`
}

type MStaticQuoteConfig struct {
	ID          string            `yaml:"id"`
	Premium     float64           `yaml:"premium"`
	PlanDetails map[string]string `yaml:"plan_details"`
}

type MOrganizationConfig struct {
	ID          string   `yaml:"id"`
	Products    []string `yaml:"products"`
	MaxInFlight int      `yaml:"max_in_flight"`
}
