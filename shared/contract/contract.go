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

package contract

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is the wire protocol version accepted by the gateway.
const ProtocolVersion = "1.0"

// Sensitivity classifies the data carried by a request. It determines
// which backends are allowed to process the payload.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityInternal     Sensitivity = "internal"
	SensitivitySensitive    Sensitivity = "sensitive"
	SensitivityPII          Sensitivity = "pii"
	SensitivityConfidential Sensitivity = "confidential"
)

// Valid reports whether s is a recognized sensitivity level.
func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityPublic, SensitivityInternal, SensitivitySensitive,
		SensitivityPII, SensitivityConfidential:
		return true
	}
	return false
}

// ProcessingHint is the caller's preferred backend class.
type ProcessingHint string

const (
	HintAuto         ProcessingHint = "auto"
	HintRuleEngine   ProcessingHint = "rule_engine"
	HintModelSmall   ProcessingHint = "model_small"
	HintModelLarge   ProcessingHint = "model_large"
	HintModelPrivate ProcessingHint = "model_private"
	HintHybrid       ProcessingHint = "hybrid"
)

// Valid reports whether h is a recognized processing hint.
func (h ProcessingHint) Valid() bool {
	switch h {
	case HintAuto, HintRuleEngine, HintModelSmall, HintModelLarge,
		HintModelPrivate, HintHybrid:
		return true
	}
	return false
}

// ReturnRoute selects synchronous or asynchronous response delivery.
type ReturnRoute string

const (
	RouteSync  ReturnRoute = "sync"
	RouteAsync ReturnRoute = "async"
)

// Valid reports whether r is a recognized return route.
func (r ReturnRoute) Valid() bool {
	return r == RouteSync || r == RouteAsync
}

// RequestType identifies the kind of request. The gateway currently
// serves processing requests only.
type RequestType string

const (
	TypeProcessRequest RequestType = "process_request"
)

// Capability is a task category a backend claims to serve.
type Capability string

const (
	CapTextGeneration Capability = "text_generation"
	CapClassification Capability = "classification"
	CapExtraction     Capability = "extraction"
	CapSummarization  Capability = "summarization"
	CapTranslation    Capability = "translation"
	CapCodeGeneration Capability = "code_generation"
	CapAnalysis       Capability = "analysis"
	CapSecurityScan   Capability = "security_scan"
)

// SourceInfo describes the calling application.
type SourceInfo struct {
	ApplicationID string `json:"application_id"`
	Environment   string `json:"environment"`
	Version       string `json:"version,omitempty"`
}

// AuthInfo carries the bearer token and an optional HMAC signature of
// the raw payload bytes.
type AuthInfo struct {
	Token     string `json:"token"`
	Signature string `json:"signature,omitempty"`
}

// ProcessingConfig controls how a request is screened and routed.
type ProcessingConfig struct {
	Sensitivity              Sensitivity    `json:"sensitivity"`
	ProcessingHint           ProcessingHint `json:"processing_hint"`
	ReturnRoute              ReturnRoute    `json:"return_route"`
	TimeoutMs                int64          `json:"timeout_ms"`
	EnablePIIDetection       bool           `json:"enable_pii_detection"`
	EnableInjectionDetection bool           `json:"enable_injection_detection"`
}

// Request is the ingress contract. The payload is kept opaque; the
// payload_schema discriminator tells backends how to decode it.
type Request struct {
	MPCVersion     string           `json:"mpc_version"`
	RequestID      string           `json:"request_id"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	Source         SourceInfo       `json:"source"`
	Type           RequestType      `json:"type"`
	PayloadSchema  string           `json:"payload_schema"`
	Payload        json.RawMessage  `json:"payload"`
	Config         ProcessingConfig `json:"config"`
	Auth           AuthInfo         `json:"auth"`
}

// ResponseStatus is the terminal status of a request.
type ResponseStatus string

const (
	StatusOK         ResponseStatus = "ok"
	StatusError      ResponseStatus = "error"
	StatusQueued     ResponseStatus = "queued"
	StatusProcessing ResponseStatus = "processing"
)

// ProcessingInfo reports how a request was served.
type ProcessingInfo struct {
	Backend      string  `json:"backend"`
	LatencyMs    int64   `json:"latency_ms"`
	CostUSD      float64 `json:"cost_usd"`
	Confidence   float64 `json:"confidence"`
	FallbackUsed bool    `json:"fallback_used"`
}

// SecurityFlags reports the outcome of the security screen.
type SecurityFlags struct {
	HasPII            bool `json:"has_pii"`
	InjectionDetected bool `json:"injection_detected"`
}

// ErrorInfo carries a stable machine-readable code and a brief message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the decoded backend output for LLM-style payloads.
type Result struct {
	Response         string `json:"response"`
	Tokens           int    `json:"tokens"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	FinishReason     string `json:"finish_reason,omitempty"`
}

// Response is the egress contract. Exactly one of Result or Error is
// set when Status is ok or error.
type Response struct {
	MPCVersion    string         `json:"mpc_version"`
	RequestID     string         `json:"request_id"`
	ResponseID    string         `json:"response_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        ResponseStatus `json:"status"`
	Result        *Result        `json:"result,omitempty"`
	Error         *ErrorInfo     `json:"error,omitempty"`
	Processing    ProcessingInfo `json:"processing"`
	SecurityFlags SecurityFlags  `json:"security_flags"`
}

// Stable error codes. Documented as safe to retry with the same
// idempotency key: BACKEND_TIMEOUT, RATE_LIMITED, INTERNAL_ERROR.
const (
	ErrSchemaInvalid      = "SCHEMA_INVALID"
	ErrClockSkew          = "CLOCK_SKEW"
	ErrAuthInvalid        = "AUTH_INVALID"
	ErrAuthExpired        = "AUTH_EXPIRED"
	ErrAuthzDenied        = "AUTHZ_DENIED"
	ErrPIIRoutingBlocked  = "PII_ROUTING_BLOCKED"
	ErrNoBackendAvailable = "NO_BACKEND_AVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
	ErrBackendError       = "BACKEND_ERROR"
	ErrRateLimited        = "RATE_LIMITED"
	ErrInternal           = "INTERNAL_ERROR"
)

// LLMPayload is the decoded form of the llm.request.v1 payload schema.
// The gateway decodes it lazily; backends receive the prompt and the
// generation parameters.
type LLMPayload struct {
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}
