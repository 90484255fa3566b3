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

package security

import (
	"fmt"

	"sentrygate/platform/shared/contract"
)

// ResourceAttributes are the request attributes evaluated by ABAC rules.
type ResourceAttributes struct {
	Sensitivity    contract.Sensitivity
	ProcessingHint contract.ProcessingHint
	EstimatedCost  float64
}

// AuthorizerConfig overrides the default policy tables. Zero values
// keep the defaults.
type AuthorizerConfig struct {
	MaxCostPerRole map[Role]float64
	HintsPerRole   map[Role][]contract.ProcessingHint
}

// Authorizer combines RBAC permission checks with attribute rules for
// sensitivity, processing hints, and cost ceilings.
type Authorizer struct {
	maxCost map[Role]float64
	hints   map[Role]map[contract.ProcessingHint]bool
}

// NewAuthorizer builds an Authorizer from config plus defaults.
func NewAuthorizer(cfg AuthorizerConfig) *Authorizer {
	a := &Authorizer{
		maxCost: map[Role]float64{
			RoleReadOnly: 0.10,
			RoleService:  1.00,
			RoleAdmin:    10.00,
		},
		hints: map[Role]map[contract.ProcessingHint]bool{
			RoleReadOnly: hintSet(contract.HintAuto, contract.HintRuleEngine, contract.HintModelSmall),
			RoleService: hintSet(contract.HintAuto, contract.HintRuleEngine, contract.HintModelSmall,
				contract.HintModelLarge, contract.HintHybrid),
			RoleAdmin: hintSet(contract.HintAuto, contract.HintRuleEngine, contract.HintModelSmall,
				contract.HintModelLarge, contract.HintModelPrivate, contract.HintHybrid),
		},
	}

	for role, limit := range cfg.MaxCostPerRole {
		a.maxCost[role] = limit
	}
	for role, allowed := range cfg.HintsPerRole {
		a.hints[role] = hintSet(allowed...)
	}

	return a
}

// Authorize decides whether principal may perform action on a resource
// with the given attributes. A denial returns a human-readable reason;
// callers surface the coarse AUTHZ_DENIED code.
func (a *Authorizer) Authorize(principal *Principal, action Permission, attrs ResourceAttributes) (bool, string) {
	if !principal.HasPermission(action) {
		return false, fmt.Sprintf("role %q lacks permission %q", principal.Role, action)
	}

	switch attrs.Sensitivity {
	case contract.SensitivityPII:
		if !principal.HasPermission(PermPIIAccess) {
			return false, fmt.Sprintf("permission %q required for %q data", PermPIIAccess, attrs.Sensitivity)
		}
	case contract.SensitivitySensitive, contract.SensitivityConfidential:
		if !principal.HasPermission(PermSensitiveAccess) {
			return false, fmt.Sprintf("permission %q required for %q data", PermSensitiveAccess, attrs.Sensitivity)
		}
	}

	if attrs.ProcessingHint != "" {
		allowed := a.hints[principal.Role]
		if allowed != nil && !allowed[attrs.ProcessingHint] {
			return false, fmt.Sprintf("role %q may not use processing hint %q", principal.Role, attrs.ProcessingHint)
		}
	}

	if limit, ok := a.maxCost[principal.Role]; ok && attrs.EstimatedCost > limit {
		return false, fmt.Sprintf("estimated cost $%.4f exceeds limit $%.4f for role %q",
			attrs.EstimatedCost, limit, principal.Role)
	}

	return true, ""
}

// CostCeiling returns the per-request cost ceiling for a role.
func (a *Authorizer) CostCeiling(role Role) float64 {
	return a.maxCost[role]
}

func hintSet(hints ...contract.ProcessingHint) map[contract.ProcessingHint]bool {
	m := make(map[contract.ProcessingHint]bool, len(hints))
	for _, h := range hints {
		m[h] = true
	}
	return m
}
