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

// Package pipeline is the asynchronous monitoring chain behind the
// gateway: every request produces one AIEvent which flows through risk
// scoring, anomaly detection, persistence, and alerting.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RiskLevel is the coarse per-event classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskRank orders risk levels for monotonicity checks.
var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// Compare returns -1, 0, or 1 ordering a against b.
func (a RiskLevel) Compare(b RiskLevel) int {
	switch {
	case riskRank[a] < riskRank[b]:
		return -1
	case riskRank[a] > riskRank[b]:
		return 1
	}
	return 0
}

// TokenCounts breaks a request's token usage down.
type TokenCounts struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// AIEvent is the monitoring record for one request attempt. It carries
// fingerprints and hashes only; raw prompts, responses, and PII values
// never enter an event.
type AIEvent struct {
	ID                  string            `json:"id"`
	RequestID           string            `json:"request_id"`
	Timestamp           time.Time         `json:"timestamp"`
	PrincipalHash       string            `json:"principal_hash"`
	Provider            string            `json:"provider"`
	Model               string            `json:"model"`
	PromptFingerprint   string            `json:"prompt_fingerprint"`
	ResponseFingerprint string            `json:"response_fingerprint,omitempty"`
	LatencyMs           int64             `json:"latency_ms"`
	Tokens              TokenCounts       `json:"tokens"`
	CostUSD             float64           `json:"cost_usd"`
	Success             bool              `json:"success"`
	ErrorCode           string            `json:"error_code,omitempty"`
	HasPII              bool              `json:"has_pii"`
	PIITypes            []string          `json:"pii_types,omitempty"`
	InjectionDetected   bool              `json:"injection_detected"`
	RiskLevel           RiskLevel         `json:"risk_level"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Severity classifies an anomaly.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{SeverityMedium: 0, SeverityHigh: 1, SeverityCritical: 2}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Anomaly is one detector finding, persisted alongside its event.
type Anomaly struct {
	AnomalyID         string                 `json:"anomaly_id"`
	EventID           string                 `json:"event_id"`
	Timestamp         time.Time              `json:"timestamp"`
	Type              string                 `json:"type"`
	Severity          Severity               `json:"severity"`
	Description       string                 `json:"description"`
	Details           map[string]interface{} `json:"details,omitempty"`
	RecommendedAction string                 `json:"recommended_action,omitempty"`
}

// Fingerprint returns the sha256 hex digest of text. Events carry
// fingerprints instead of content.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Statistics is a windowed aggregate over stored events.
type Statistics struct {
	TotalEvents     int     `json:"total_events"`
	SuccessfulCount int     `json:"successful_count"`
	SuccessRate     float64 `json:"success_rate"`
	TotalTokens     int64   `json:"total_tokens"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	MaxLatencyMs    int64   `json:"max_latency_ms"`
	PIIEvents       int     `json:"pii_events"`
	InjectionEvents int     `json:"injection_events"`
	AnomalyCount    int     `json:"anomaly_count"`
}

// EventStore persists events and anomalies. Implementations serialize
// writes; the pipeline's single worker is the only writer in-process.
type EventStore interface {
	InsertEvent(ctx context.Context, event *AIEvent) error
	InsertAnomaly(ctx context.Context, anomaly *Anomaly) error
	RecentEvents(ctx context.Context, limit int) ([]AIEvent, error)
	AnomaliesBySeverity(ctx context.Context, minSeverity Severity, limit int) ([]Anomaly, error)
	Statistics(ctx context.Context, since time.Time) (*Statistics, error)
	Close() error
}
