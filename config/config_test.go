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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, int64(5<<20), cfg.Server.MaxPayloadBytes)
	assert.Equal(t, 5*time.Minute, cfg.Server.ClockSkew.Std())
	assert.Equal(t, 4096, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, "drop-oldest", cfg.Pipeline.FullQueuePolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.BackpressureTimeout.Std())
	assert.Equal(t, 15*time.Minute, cfg.Storage.IdempotencyTTL.Std())
	assert.Equal(t, 0.5, cfg.Routing.CostWeight)
	assert.Equal(t, 2, cfg.Routing.MaxFallbacks)
	assert.Empty(t, cfg.Security.JWTSecret)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	yaml := `
server:
  listen_addr: ":9090"
  clock_skew: 2m
security:
  jwt_secret: file-jwt
  hmac_secret: file-hmac
pipeline:
  queue_capacity: 128
  full_queue_policy: apply-backpressure
  backpressure_timeout: 100ms
  detector:
    cost_threshold_usd: 0.25
    latency_threshold_ms: 3000
backends:
  - id: "stub:test"
    type: llm_small
    capabilities: [text_generation]
    cost_per_1k_tokens: 0.001
    avg_latency_ms: 50
    max_tokens: 2048
    confidence_threshold: 0.7
    sensitivity_allowed: [public]
    adapter:
      driver: stub
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 2*time.Minute, cfg.Server.ClockSkew.Std())
	assert.Equal(t, "file-jwt", cfg.Security.JWTSecret)
	assert.Equal(t, 128, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, "apply-backpressure", cfg.Pipeline.FullQueuePolicy)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.BackpressureTimeout.Std())
	assert.Equal(t, 0.25, cfg.Pipeline.Detector.CostThresholdUSD)
	assert.Equal(t, int64(3000), cfg.Pipeline.Detector.LatencyThresholdMs)

	// Untouched sections keep their defaults.
	assert.Equal(t, 15*time.Minute, cfg.Storage.IdempotencyTTL.Std())

	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "stub:test", cfg.Backends[0].ID)
	assert.Equal(t, "stub", cfg.Backends[0].Adapter.Driver)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	yaml := `
server:
  listen_addr: ":9090"
security:
  jwt_secret: file-jwt
  hmac_secret: file-hmac
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv(EnvListenAddr, ":7070")
	t.Setenv(EnvJWTSecret, "env-jwt")
	t.Setenv(EnvQueueCapacity, "256")
	t.Setenv(EnvIdempotencyTTL, "30m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, "env-jwt", cfg.Security.JWTSecret)
	assert.Equal(t, "file-hmac", cfg.Security.HMACSecret)
	assert.Equal(t, 256, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, 30*time.Minute, cfg.Storage.IdempotencyTTL.Std())
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv(EnvJWTSecret, "env-jwt")
	t.Setenv(EnvHMACSecret, "env-hmac")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "env-jwt", cfg.Security.JWTSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Security.JWTSecret = "jwt"
		cfg.Security.HMACSecret = "hmac"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing jwt secret", func(c *Config) { c.Security.JWTSecret = "" }, "jwt secret"},
		{"missing hmac secret", func(c *Config) { c.Security.HMACSecret = "" }, "hmac secret"},
		{"bad queue policy", func(c *Config) { c.Pipeline.FullQueuePolicy = "drop-newest" }, "full_queue_policy"},
		{"bad severity floor", func(c *Config) { c.Pipeline.AlertSeverityFloor = "low" }, "alert_severity_floor"},
		{"negative weight", func(c *Config) { c.Routing.CostWeight = -1 }, "weights"},
		{"negative fallbacks", func(c *Config) { c.Routing.MaxFallbacks = -1 }, "max_fallbacks"},
		{
			"invalid backend",
			func(c *Config) {
				c.Backends = []BackendConfig{{}}
			},
			"backends[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationYAML(t *testing.T) {
	var cfg Config
	err := yaml.Unmarshal([]byte("server:\n  clock_skew: 90s\n"), &cfg)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Server.ClockSkew.Std())

	err = yaml.Unmarshal([]byte("server:\n  clock_skew: not-a-duration\n"), &cfg)
	assert.Error(t, err)
}
