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

// Package pricing holds the per-model LLM price table. Prices are kept
// as integer millicents (1/1000 cent) per 1K tokens so cost arithmetic
// stays exact; conversion to dollars happens only at the edges.
package pricing

import "fmt"

// ModelPricing is the price of one model, in millicents per 1K tokens.
type ModelPricing struct {
	PromptPer1K     int
	CompletionPer1K int
}

var modelPricing = map[string]ModelPricing{
	// OpenAI
	"openai-gpt-4":         {3000, 6000}, // $0.03/$0.06 per 1K tokens
	"openai-gpt-4-turbo":   {1000, 3000}, // $0.01/$0.03 per 1K tokens
	"openai-gpt-3.5-turbo": {50, 150},    // $0.0005/$0.0015 per 1K tokens

	// Anthropic
	"anthropic-claude-3-opus":   {1500, 7500}, // $0.015/$0.075 per 1K tokens
	"anthropic-claude-3-sonnet": {300, 1500},  // $0.003/$0.015 per 1K tokens
	"anthropic-claude-3-haiku":  {25, 125},    // $0.00025/$0.00125 per 1K tokens

	// Self-hosted models are free
	"ollama-llama2":  {0, 0},
	"ollama-mistral": {0, 0},

	// Conservative fallback for unknown models
	"default": {1000, 3000},
}

// CostMillicents returns the exact cost of a request in millicents.
func CostMillicents(provider, model string, promptTokens, completionTokens int) int {
	p, ok := modelPricing[provider+"-"+model]
	if !ok {
		p = modelPricing["default"]
	}
	return (promptTokens*p.PromptPer1K)/1000 + (completionTokens*p.CompletionPer1K)/1000
}

// CostUSD returns the request cost in dollars.
func CostUSD(provider, model string, promptTokens, completionTokens int) float64 {
	return float64(CostMillicents(provider, model, promptTokens, completionTokens)) / 100000.0
}

// Lookup returns the price entry for a model when one exists.
func Lookup(provider, model string) (ModelPricing, bool) {
	p, ok := modelPricing[provider+"-"+model]
	return p, ok
}

// FormatUSD renders millicents as a dollar string.
func FormatUSD(millicents int) string {
	return fmt.Sprintf("$%.5f", float64(millicents)/100000.0)
}
