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

import "sentrygate/platform/shared/contract"

// DefaultCatalog returns the backend descriptors shipped with the
// gateway. Cloud models never see PII; the private Ollama model and
// the rule engines do.
func DefaultCatalog() []Backend {
	textCaps := []contract.Capability{
		contract.CapTextGeneration, contract.CapSummarization,
		contract.CapClassification, contract.CapAnalysis,
	}
	openSensitivity := []contract.Sensitivity{
		contract.SensitivityPublic, contract.SensitivityInternal,
	}
	piiSensitivity := []contract.Sensitivity{
		contract.SensitivityPublic, contract.SensitivityInternal,
		contract.SensitivitySensitive, contract.SensitivityPII,
	}

	return []Backend{
		{
			ID:                  "openai:gpt-4",
			Type:                TypeLLMLarge,
			Capabilities:        append([]contract.Capability{contract.CapCodeGeneration}, textCaps...),
			CostPer1KTokens:     0.03,
			AvgLatencyMs:        2000,
			MaxTokens:           8192,
			ConfidenceThreshold: 0.85,
			PIIAllowed:          false,
			SensitivityAllowed:  openSensitivity,
		},
		{
			ID:                  "openai:gpt-3.5-turbo",
			Type:                TypeLLMSmall,
			Capabilities:        textCaps,
			CostPer1KTokens:     0.0015,
			AvgLatencyMs:        800,
			MaxTokens:           4096,
			ConfidenceThreshold: 0.70,
			PIIAllowed:          false,
			SensitivityAllowed:  openSensitivity,
		},
		{
			ID:                  "anthropic:claude-3-opus",
			Type:                TypeLLMLarge,
			Capabilities:        append([]contract.Capability{contract.CapCodeGeneration, contract.CapTranslation}, textCaps...),
			CostPer1KTokens:     0.075,
			AvgLatencyMs:        2500,
			MaxTokens:           4096,
			ConfidenceThreshold: 0.88,
			PIIAllowed:          false,
			SensitivityAllowed:  openSensitivity,
		},
		{
			ID:                  "ollama:llama2",
			Type:                TypeLLMPrivate,
			Capabilities:        textCaps,
			CostPer1KTokens:     0,
			AvgLatencyMs:        3000,
			MaxTokens:           4096,
			ConfidenceThreshold: 0.60,
			PIIAllowed:          true,
			SensitivityAllowed:  piiSensitivity,
		},
		{
			ID:                  "rules:pii-detector",
			Type:                TypeRuleEngine,
			Capabilities:        []contract.Capability{contract.CapSecurityScan, contract.CapExtraction},
			CostPer1KTokens:     0,
			AvgLatencyMs:        5,
			MaxTokens:           100000,
			ConfidenceThreshold: 0.90,
			PIIAllowed:          true,
			SensitivityAllowed:  piiSensitivity,
		},
		{
			ID:                  "rules:injection-detector",
			Type:                TypeRuleEngine,
			Capabilities:        []contract.Capability{contract.CapSecurityScan},
			CostPer1KTokens:     0,
			AvgLatencyMs:        5,
			MaxTokens:           100000,
			ConfidenceThreshold: 0.90,
			PIIAllowed:          true,
			SensitivityAllowed:  piiSensitivity,
		},
	}
}
