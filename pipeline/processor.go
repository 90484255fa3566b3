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

package pipeline

// Risk score contributions and the level cut-offs.
const (
	scoreFailure   = 3
	scoreInjection = 4
	scorePII       = 2
	scoreSlow      = 1
	scoreManyTok   = 1
	scoreCostly    = 2

	slowLatencyMs  = 10000
	manyTokens     = 10000
	costlyUSD      = 1.00
)

// ScoreEvent computes the additive risk score for an event.
func ScoreEvent(event *AIEvent) int {
	score := 0
	if !event.Success {
		score += scoreFailure
	}
	if event.InjectionDetected {
		score += scoreInjection
	}
	if event.HasPII {
		score += scorePII
	}
	if event.LatencyMs > slowLatencyMs {
		score += scoreSlow
	}
	if event.Tokens.Total > manyTokens {
		score += scoreManyTok
	}
	if event.CostUSD > costlyUSD {
		score += scoreCostly
	}
	return score
}

// riskLevelFor maps a score onto the risk ordering.
func riskLevelFor(score int) RiskLevel {
	switch {
	case score >= 5:
		return RiskCritical
	case score >= 3:
		return RiskHigh
	case score >= 1:
		return RiskMedium
	}
	return RiskLow
}

// Processor enriches events with their derived risk level. Pure and
// stateless; the pipeline calls it before detection and persistence.
type Processor struct{}

// NewProcessor creates a Processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process derives and sets the event's risk level.
func (p *Processor) Process(event *AIEvent) {
	event.RiskLevel = riskLevelFor(ScoreEvent(event))
}
