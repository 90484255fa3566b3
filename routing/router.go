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

package routing

import (
	"sort"

	"sentrygate/platform/backends"
	"sentrygate/platform/shared/contract"
)

// Constraints are the inputs to one routing decision.
type Constraints struct {
	Capability      contract.Capability
	Sensitivity     contract.Sensitivity
	Hint            contract.ProcessingHint
	MaxCost         float64 // 0 means unset
	MaxLatencyMs    int64   // 0 means unset
	EstimatedTokens int
	HasPII          bool
	PriorFailures   map[string]bool
	UseCascade      bool
}

// Decision is the ordered outcome: Backends[0] is the primary, the
// rest are cascade fallbacks.
type Decision struct {
	Backends    []string
	HintIgnored bool
}

// Empty reports whether no candidate survived filtering.
func (d Decision) Empty() bool {
	return len(d.Backends) == 0
}

// RouterConfig tunes the composite score and cascade depth.
type RouterConfig struct {
	CostWeight    float64
	LatencyWeight float64
	QualityWeight float64
	MaxFallbacks  int
}

// DefaultRouterConfig returns the shipped weights.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CostWeight:    0.5,
		LatencyWeight: 0.3,
		QualityWeight: 0.2,
		MaxFallbacks:  2,
	}
}

// Router selects backends. Pure over the registry snapshot; safe for
// concurrent use.
type Router struct {
	registry *Registry
	cfg      RouterConfig
}

// NewRouter creates a Router over a registry.
func NewRouter(registry *Registry, cfg RouterConfig) *Router {
	if cfg.CostWeight == 0 && cfg.LatencyWeight == 0 && cfg.QualityWeight == 0 {
		cfg = DefaultRouterConfig()
	}
	if cfg.MaxFallbacks == 0 {
		cfg.MaxFallbacks = 2
	}
	return &Router{registry: registry, cfg: cfg}
}

// hintTypes maps a processing hint to the backend types it restricts
// to. auto imposes no restriction; hybrid admits hybrid chains plus
// any model class.
var hintTypes = map[contract.ProcessingHint][]backends.BackendType{
	contract.HintRuleEngine:   {backends.TypeRuleEngine},
	contract.HintModelSmall:   {backends.TypeLLMSmall},
	contract.HintModelLarge:   {backends.TypeLLMLarge},
	contract.HintModelPrivate: {backends.TypeLLMPrivate},
	contract.HintHybrid: {backends.TypeHybrid, backends.TypeLLMSmall,
		backends.TypeLLMLarge, backends.TypeLLMPrivate},
}

// Route runs filter, hint, score, and cascade selection. An empty
// decision means no backend can serve the request.
func (r *Router) Route(c Constraints) Decision {
	candidates := r.filter(c)
	if len(candidates) == 0 {
		return Decision{}
	}

	hintIgnored := false
	if c.Hint != "" && c.Hint != contract.HintAuto {
		hinted := restrictByType(candidates, hintTypes[c.Hint])
		if len(hinted) > 0 {
			candidates = hinted
		} else {
			hintIgnored = true
		}
	}

	ranked := r.rank(candidates)

	decision := Decision{HintIgnored: hintIgnored}
	decision.Backends = append(decision.Backends, ranked[0].ID)

	if c.UseCascade {
		// Fallbacks keep confidence_threshold non-decreasing so each
		// attempt is at least as capable as its predecessor.
		minConfidence := ranked[0].ConfidenceThreshold
		for _, b := range ranked[1:] {
			if len(decision.Backends) > r.cfg.MaxFallbacks {
				break
			}
			if b.ConfidenceThreshold >= minConfidence {
				decision.Backends = append(decision.Backends, b.ID)
				minConfidence = b.ConfidenceThreshold
			}
		}
	}

	return decision
}

// filter applies every hard predicate from the constraints.
func (r *Router) filter(c Constraints) []backends.Backend {
	var out []backends.Backend

	for _, b := range r.registry.List() {
		if !b.HasCapability(c.Capability) {
			continue
		}
		if !b.AllowsSensitivity(c.Sensitivity) {
			continue
		}
		if c.HasPII && !b.PIIAllowed {
			continue
		}
		if c.MaxCost > 0 {
			estimated := float64(c.EstimatedTokens) * b.CostPer1KTokens / 1000.0
			if estimated > c.MaxCost {
				continue
			}
		}
		if c.MaxLatencyMs > 0 && b.AvgLatencyMs > c.MaxLatencyMs {
			continue
		}
		if c.PriorFailures[b.ID] {
			continue
		}
		out = append(out, b)
	}

	return out
}

func restrictByType(candidates []backends.Backend, types []backends.BackendType) []backends.Backend {
	if len(types) == 0 {
		return candidates
	}

	allowed := make(map[backends.BackendType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	var out []backends.Backend
	for _, b := range candidates {
		if allowed[b.Type] {
			out = append(out, b)
		}
	}
	return out
}

// rank orders candidates by composite score ascending. Cost and
// latency are min-max normalized over the candidate set; when all
// candidates share a value the term contributes zero and the remaining
// weights decide. Ties break on lexicographic ID.
func (r *Router) rank(candidates []backends.Backend) []backends.Backend {
	minCost, maxCost := candidates[0].CostPer1KTokens, candidates[0].CostPer1KTokens
	minLat, maxLat := candidates[0].AvgLatencyMs, candidates[0].AvgLatencyMs
	for _, b := range candidates[1:] {
		if b.CostPer1KTokens < minCost {
			minCost = b.CostPer1KTokens
		}
		if b.CostPer1KTokens > maxCost {
			maxCost = b.CostPer1KTokens
		}
		if b.AvgLatencyMs < minLat {
			minLat = b.AvgLatencyMs
		}
		if b.AvgLatencyMs > maxLat {
			maxLat = b.AvgLatencyMs
		}
	}

	score := func(b backends.Backend) float64 {
		var normCost, normLat float64
		if maxCost > minCost {
			normCost = (b.CostPer1KTokens - minCost) / (maxCost - minCost)
		}
		if maxLat > minLat {
			normLat = float64(b.AvgLatencyMs-minLat) / float64(maxLat-minLat)
		}
		return r.cfg.CostWeight*normCost + r.cfg.LatencyWeight*normLat - r.cfg.QualityWeight*b.ConfidenceThreshold
	}

	ranked := append([]backends.Backend(nil), candidates...)
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := score(ranked[i]), score(ranked[j])
		if si != sj {
			return si < sj
		}
		return ranked[i].ID < ranked[j].ID
	})

	return ranked
}
