// Copyright 2025 SentryGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads gateway configuration from an optional YAML file
// with environment variable overrides on top. Secrets are env-only in
// production deployments; the YAML fields exist for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"sentrygate/platform/backends"
)

// Environment variable names recognized by Load. Env values win over
// the YAML file.
const (
	EnvConfigPath      = "SENTRYGATE_CONFIG"
	EnvListenAddr      = "SENTRYGATE_LISTEN_ADDR"
	EnvJWTSecret       = "SENTRYGATE_JWT_SECRET"
	EnvHMACSecret      = "SENTRYGATE_HMAC_SECRET"
	EnvDatabaseURL     = "DATABASE_URL"
	EnvRedisURL        = "REDIS_URL"
	EnvQueuePolicy     = "SENTRYGATE_QUEUE_POLICY"
	EnvQueueCapacity   = "SENTRYGATE_QUEUE_CAPACITY"
	EnvIdempotencyTTL  = "SENTRYGATE_IDEMPOTENCY_TTL"
	EnvMaxPayloadBytes = "SENTRYGATE_MAX_PAYLOAD_BYTES"
	EnvClockSkew       = "SENTRYGATE_CLOCK_SKEW"
	EnvAuditLogPath    = "SENTRYGATE_AUDIT_LOG"
	EnvOllamaEndpoint  = "OLLAMA_ENDPOINT"
	EnvAWSRegion       = "AWS_REGION"
)

// Duration wraps time.Duration so YAML values can be written in the
// "250ms" / "5m" form.
type Duration time.Duration

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML writes the string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ServerConfig covers the HTTP listener and ingress limits.
type ServerConfig struct {
	ListenAddr      string   `json:"listen_addr" yaml:"listen_addr"`
	MaxPayloadBytes int64    `json:"max_payload_bytes" yaml:"max_payload_bytes"`
	ClockSkew       Duration `json:"clock_skew" yaml:"clock_skew"`
	ShutdownGrace   Duration `json:"shutdown_grace" yaml:"shutdown_grace"`
}

// SecurityConfig covers token verification and detector tuning. The
// secrets must never be logged.
type SecurityConfig struct {
	JWTSecret        string   `json:"-" yaml:"jwt_secret"`
	HMACSecret       string   `json:"-" yaml:"hmac_secret"`
	TokenTTL         Duration `json:"token_ttl" yaml:"token_ttl"`
	PIIMinConfidence float64  `json:"pii_min_confidence" yaml:"pii_min_confidence"`
}

// StorageConfig selects the event store and idempotency cache. Empty
// URLs fall back to the in-memory implementations.
type StorageConfig struct {
	DatabaseURL     string   `json:"-" yaml:"database_url"`
	RedisURL        string   `json:"-" yaml:"redis_url"`
	IdempotencyTTL  Duration `json:"idempotency_ttl" yaml:"idempotency_ttl"`
	MaxMemoryEvents int      `json:"max_memory_events" yaml:"max_memory_events"`
}

// PipelineConfig tunes the monitoring queue and the audit trail.
type PipelineConfig struct {
	QueueCapacity       int      `json:"queue_capacity" yaml:"queue_capacity"`
	FullQueuePolicy     string   `json:"full_queue_policy" yaml:"full_queue_policy"`
	BackpressureTimeout Duration `json:"backpressure_timeout" yaml:"backpressure_timeout"`
	HistorySize         int      `json:"history_size" yaml:"history_size"`
	PatternInterval     Duration `json:"pattern_interval" yaml:"pattern_interval"`
	AlertSeverityFloor  string   `json:"alert_severity_floor" yaml:"alert_severity_floor"`
	AuditQueueSize      int      `json:"audit_queue_size" yaml:"audit_queue_size"`
	AuditLogPath        string   `json:"audit_log_path" yaml:"audit_log_path"`

	Detector DetectorConfig `json:"detector" yaml:"detector"`
}

// DetectorConfig carries the event-local anomaly thresholds. Zero
// values take the detector's shipped defaults.
type DetectorConfig struct {
	CostThresholdUSD   float64 `json:"cost_threshold_usd" yaml:"cost_threshold_usd"`
	LatencyThresholdMs int64   `json:"latency_threshold_ms" yaml:"latency_threshold_ms"`
	TokenThreshold     int     `json:"token_threshold" yaml:"token_threshold"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"`
	SpikeFactor        float64 `json:"spike_factor" yaml:"spike_factor"`
}

// RoutingConfig carries the composite score weights and cascade depth.
type RoutingConfig struct {
	CostWeight    float64 `json:"cost_weight" yaml:"cost_weight"`
	LatencyWeight float64 `json:"latency_weight" yaml:"latency_weight"`
	QualityWeight float64 `json:"quality_weight" yaml:"quality_weight"`
	MaxFallbacks  int     `json:"max_fallbacks" yaml:"max_fallbacks"`
}

// AdapterConfig tells the bootstrap which adapter serves a backend
// descriptor. Driver defaults to stub when no credentials apply.
type AdapterConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	Rule     string `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// BackendConfig pairs a routing descriptor with its adapter binding.
type BackendConfig struct {
	backends.Backend `yaml:",inline"`
	Adapter          AdapterConfig `json:"adapter" yaml:"adapter"`
}

// Config is the full gateway configuration.
type Config struct {
	Server   ServerConfig    `json:"server" yaml:"server"`
	Security SecurityConfig  `json:"security" yaml:"security"`
	Storage  StorageConfig   `json:"storage" yaml:"storage"`
	Pipeline PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Routing  RoutingConfig   `json:"routing" yaml:"routing"`
	Backends []BackendConfig `json:"backends,omitempty" yaml:"backends,omitempty"`
}

// Default returns the shipped configuration. Secrets are intentionally
// empty; Validate rejects a config without them.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			MaxPayloadBytes: 5 << 20,
			ClockSkew:       Duration(5 * time.Minute),
			ShutdownGrace:   Duration(10 * time.Second),
		},
		Security: SecurityConfig{
			TokenTTL:         Duration(15 * time.Minute),
			PIIMinConfidence: 0.5,
		},
		Storage: StorageConfig{
			IdempotencyTTL:  Duration(15 * time.Minute),
			MaxMemoryEvents: 10000,
		},
		Pipeline: PipelineConfig{
			QueueCapacity:       4096,
			FullQueuePolicy:     "drop-oldest",
			BackpressureTimeout: Duration(250 * time.Millisecond),
			HistorySize:         1000,
			PatternInterval:     Duration(30 * time.Second),
			AlertSeverityFloor:  "high",
			AuditQueueSize:      1000,
		},
		Routing: RoutingConfig{
			CostWeight:    0.5,
			LatencyWeight: 0.3,
			QualityWeight: 0.2,
			MaxFallbacks:  2,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// at path (skipped when empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv(EnvHMACSecret); v != "" {
		cfg.Security.HMACSecret = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv(EnvQueuePolicy); v != "" {
		cfg.Pipeline.FullQueuePolicy = v
	}
	if v := os.Getenv(EnvAuditLogPath); v != "" {
		cfg.Pipeline.AuditLogPath = v
	}
	if v := os.Getenv(EnvQueueCapacity); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pipeline.QueueCapacity = n
		}
	}
	if v := os.Getenv(EnvMaxPayloadBytes); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Server.MaxPayloadBytes = n
		}
	}
	if v := os.Getenv(EnvIdempotencyTTL); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Storage.IdempotencyTTL = Duration(d)
		}
	}
	if v := os.Getenv(EnvClockSkew); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Server.ClockSkew = Duration(d)
		}
	}
}

// Validate checks the invariants the bootstrap depends on.
func (c *Config) Validate() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required (set %s)", EnvJWTSecret)
	}
	if c.Security.HMACSecret == "" {
		return fmt.Errorf("hmac secret is required (set %s)", EnvHMACSecret)
	}
	switch c.Pipeline.FullQueuePolicy {
	case "drop-oldest", "apply-backpressure":
	default:
		return fmt.Errorf("unknown full_queue_policy %q", c.Pipeline.FullQueuePolicy)
	}
	switch c.Pipeline.AlertSeverityFloor {
	case "medium", "high", "critical":
	default:
		return fmt.Errorf("unknown alert_severity_floor %q", c.Pipeline.AlertSeverityFloor)
	}
	if c.Routing.CostWeight < 0 || c.Routing.LatencyWeight < 0 || c.Routing.QualityWeight < 0 {
		return fmt.Errorf("routing weights must be >= 0")
	}
	if c.Routing.MaxFallbacks < 0 {
		return fmt.Errorf("max_fallbacks must be >= 0")
	}
	for i := range c.Backends {
		if err := c.Backends[i].Backend.Validate(); err != nil {
			return fmt.Errorf("backends[%d]: %w", i, err)
		}
	}
	return nil
}
