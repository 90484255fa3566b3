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

package backends

import (
	"context"
	"encoding/json"

	"sentrygate/platform/security"
	"sentrygate/platform/shared/contract"
)

// RuleKind selects what a rule-engine backend scans for.
type RuleKind string

const (
	RulePIIScan       RuleKind = "pii_scan"
	RuleInjectionScan RuleKind = "injection_scan"
)

// RulesAdapter is a deterministic backend built on the security
// detectors. It costs nothing, runs locally, and is PII-safe, so the
// router can always fall back to it for security_scan work.
type RulesAdapter struct {
	desc      Backend
	kind      RuleKind
	pii       *security.PIIDetector
	injection *security.InjectionDetector
	redactor  *security.Redactor
}

// NewRulesAdapter creates a rule-engine backend of the given kind.
func NewRulesAdapter(id string, kind RuleKind, pii *security.PIIDetector, injection *security.InjectionDetector) *RulesAdapter {
	return &RulesAdapter{
		desc: Backend{
			ID:                  id,
			Type:                TypeRuleEngine,
			Capabilities:        []contract.Capability{contract.CapSecurityScan, contract.CapExtraction},
			CostPer1KTokens:     0,
			AvgLatencyMs:        5,
			MaxTokens:           100000,
			ConfidenceThreshold: 0.9,
			PIIAllowed:          true,
			SensitivityAllowed: []contract.Sensitivity{
				contract.SensitivityPublic, contract.SensitivityInternal,
				contract.SensitivitySensitive, contract.SensitivityPII,
			},
		},
		kind:      kind,
		pii:       pii,
		injection: injection,
		redactor:  security.NewRedactor(),
	}
}

func (a *RulesAdapter) Describe() Backend {
	return a.desc
}

func (a *RulesAdapter) Process(ctx context.Context, prompt string, params ProcessParams) (*ProcessResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Failure{Code: FailTimeout, Message: err.Error()}
	}

	var payload interface{}
	switch a.kind {
	case RuleInjectionScan:
		payload = map[string]interface{}{
			"scan":               "injection",
			"injection_detected": a.injection.Detect(prompt),
		}
	default:
		result := a.pii.Scan(prompt)
		payload = map[string]interface{}{
			"scan":     "pii",
			"has_pii":  result.HasPII,
			"types":    result.Types,
			"matches":  result.Matches,
			"redacted": a.redactor.Apply(prompt, result.Matches, security.StrategyRedact),
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Failure{Code: FailInvalidResponse, Message: err.Error()}
	}

	promptTokens := len(prompt) / 4
	if promptTokens == 0 {
		promptTokens = 1
	}

	return &ProcessResult{
		Response:         string(body),
		PromptTokens:     promptTokens,
		CompletionTokens: len(body) / 4,
		CostUSD:          0,
		Confidence:       0.99,
	}, nil
}

func (a *RulesAdapter) Health() HealthStatus {
	return HealthOK
}
