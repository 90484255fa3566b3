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

// Package backends defines the uniform adapter contract every
// processing engine implements, plus the concrete adapters shipped
// with the gateway: an in-memory stub, a deterministic rule engine,
// Ollama (private/local models), and AWS Bedrock (cloud models).
package backends

import (
	"context"
	"fmt"

	"sentrygate/platform/shared/contract"
)

// BackendType classifies a processing engine.
type BackendType string

const (
	TypeLLMLarge   BackendType = "llm_large"
	TypeLLMSmall   BackendType = "llm_small"
	TypeLLMPrivate BackendType = "llm_private"
	TypeRuleEngine BackendType = "rule_engine"
	TypeHybrid     BackendType = "hybrid"
)

// Backend is the immutable descriptor the router selects over. It is
// registered at startup and shared read-only during request handling.
type Backend struct {
	ID                  string                 `json:"id" yaml:"id"`
	Type                BackendType            `json:"type" yaml:"type"`
	Capabilities        []contract.Capability  `json:"capabilities" yaml:"capabilities"`
	CostPer1KTokens     float64                `json:"cost_per_1k_tokens" yaml:"cost_per_1k_tokens"`
	AvgLatencyMs        int64                  `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	MaxTokens           int                    `json:"max_tokens" yaml:"max_tokens"`
	ConfidenceThreshold float64                `json:"confidence_threshold" yaml:"confidence_threshold"`
	PIIAllowed          bool                   `json:"pii_allowed" yaml:"pii_allowed"`
	ConfidentialAllowed bool                   `json:"confidential_allowed" yaml:"confidential_allowed"`
	SensitivityAllowed  []contract.Sensitivity `json:"sensitivity_allowed" yaml:"sensitivity_allowed"`
}

// HasCapability reports whether the backend serves cap.
func (b *Backend) HasCapability(cap contract.Capability) bool {
	for _, c := range b.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// AllowsSensitivity reports whether the backend may process data at the
// given level. confidential additionally requires the explicit flag.
func (b *Backend) AllowsSensitivity(s contract.Sensitivity) bool {
	if s == contract.SensitivityConfidential && !b.ConfidentialAllowed {
		return false
	}
	for _, allowed := range b.SensitivityAllowed {
		if allowed == s {
			return true
		}
	}
	return false
}

// Validate checks descriptor invariants at registration time.
func (b *Backend) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("backend id is required")
	}
	if b.CostPer1KTokens < 0 {
		return fmt.Errorf("backend %s: cost must be >= 0", b.ID)
	}
	if b.MaxTokens <= 0 {
		return fmt.Errorf("backend %s: max_tokens must be > 0", b.ID)
	}
	if b.ConfidenceThreshold < 0 || b.ConfidenceThreshold > 1 {
		return fmt.Errorf("backend %s: confidence_threshold must be in [0,1]", b.ID)
	}
	if b.PIIAllowed && !b.AllowsSensitivity(contract.SensitivityPII) {
		return fmt.Errorf("backend %s: pii_allowed requires pii in sensitivity_allowed", b.ID)
	}
	return nil
}

// ProcessParams are the generation parameters passed to an adapter.
type ProcessParams struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// ProcessResult is a successful backend invocation.
type ProcessResult struct {
	Response         string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Confidence       float64
}

// TotalTokens returns prompt plus completion tokens.
func (r *ProcessResult) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// FailureCode classifies a backend invocation failure.
type FailureCode string

const (
	FailTimeout         FailureCode = "timeout"
	FailRateLimited     FailureCode = "rate_limited"
	FailUpstreamError   FailureCode = "upstream_error"
	FailInvalidResponse FailureCode = "invalid_response"
)

// Failure is the error returned by adapters. StatusCode carries the
// upstream HTTP status when one exists.
type Failure struct {
	Code       FailureCode
	StatusCode int
	Message    string
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %s", f.Code, f.StatusCode, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Retriable reports whether the failure should trigger cascade:
// timeouts, rate limits, and 5xx-class upstream errors.
func (f *Failure) Retriable() bool {
	switch f.Code {
	case FailTimeout, FailRateLimited:
		return true
	case FailUpstreamError:
		return f.StatusCode == 0 || f.StatusCode >= 500
	}
	return false
}

// HealthStatus is an adapter's self-reported health.
type HealthStatus string

const (
	HealthOK        HealthStatus = "ok"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Adapter is the uniform contract every backend implements. Process
// honors the deadline carried by ctx and returns either a result or a
// *Failure.
type Adapter interface {
	Describe() Backend
	Process(ctx context.Context, prompt string, params ProcessParams) (*ProcessResult, error)
	Health() HealthStatus
}

// AsFailure extracts a *Failure from an adapter error. Non-Failure
// errors are wrapped as non-retriable upstream errors.
func AsFailure(err error) *Failure {
	if f, ok := err.(*Failure); ok {
		return f
	}
	return &Failure{Code: FailInvalidResponse, Message: err.Error()}
}
