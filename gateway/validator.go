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

package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"sentrygate/platform/shared/contract"
)

// ValidationError reports the first failed check. Code distinguishes
// schema errors from clock skew so callers map them to the right wire
// code.
type ValidationError struct {
	Field  string
	Reason string
	Code   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// registeredSchemas maps each accepted payload_schema to the
// capability inferred for routing.
var registeredSchemas = map[string]contract.Capability{
	"llm.request.v1":       contract.CapTextGeneration,
	"security.scan.v1":     contract.CapSecurityScan,
	"extract.request.v1":   contract.CapExtraction,
	"classify.request.v1":  contract.CapClassification,
	"summarize.request.v1": contract.CapSummarization,
}

// InferCapability derives the routing capability from the payload
// schema discriminator.
func InferCapability(payloadSchema string) contract.Capability {
	if cap, ok := registeredSchemas[payloadSchema]; ok {
		return cap
	}
	return contract.CapTextGeneration
}

// Validator checks ingress shape and temporal bounds. No semantic
// validation of the payload beyond presence.
type Validator struct {
	maxPayloadBytes int64
	clockSkew       time.Duration
	now             func() time.Time
}

// NewValidator creates a validator. Zero values take the defaults:
// 5 MiB maximum body, 5 minute skew window.
func NewValidator(maxPayloadBytes int64, clockSkew time.Duration) *Validator {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = 5 << 20
	}
	if clockSkew <= 0 {
		clockSkew = 5 * time.Minute
	}
	return &Validator{
		maxPayloadBytes: maxPayloadBytes,
		clockSkew:       clockSkew,
		now:             time.Now,
	}
}

// Validate parses and checks a raw request body.
func (v *Validator) Validate(raw []byte) (*contract.Request, *ValidationError) {
	if int64(len(raw)) > v.maxPayloadBytes {
		return nil, &ValidationError{
			Field:  "body",
			Reason: fmt.Sprintf("size %d exceeds maximum %d bytes", len(raw), v.maxPayloadBytes),
			Code:   contract.ErrSchemaInvalid,
		}
	}

	var req contract.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &ValidationError{Field: "body", Reason: "malformed JSON", Code: contract.ErrSchemaInvalid}
	}

	if req.MPCVersion != contract.ProtocolVersion {
		return nil, schemaErr("mpc_version", fmt.Sprintf("unsupported version %q", req.MPCVersion))
	}
	if req.RequestID == "" {
		return nil, schemaErr("request_id", "required")
	}
	if req.Timestamp.IsZero() {
		return nil, schemaErr("timestamp", "required")
	}
	if req.Source.ApplicationID == "" {
		return nil, schemaErr("source.application_id", "required")
	}
	if req.Type != contract.TypeProcessRequest {
		return nil, schemaErr("type", fmt.Sprintf("unsupported type %q", req.Type))
	}
	if req.PayloadSchema == "" {
		return nil, schemaErr("payload_schema", "required")
	}
	if _, ok := registeredSchemas[req.PayloadSchema]; !ok {
		return nil, schemaErr("payload_schema", fmt.Sprintf("unregistered schema %q", req.PayloadSchema))
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		return nil, schemaErr("payload", "required")
	}
	if !req.Config.Sensitivity.Valid() {
		return nil, schemaErr("config.sensitivity", fmt.Sprintf("unknown level %q", req.Config.Sensitivity))
	}
	if !req.Config.ProcessingHint.Valid() {
		return nil, schemaErr("config.processing_hint", fmt.Sprintf("unknown hint %q", req.Config.ProcessingHint))
	}
	if !req.Config.ReturnRoute.Valid() {
		return nil, schemaErr("config.return_route", fmt.Sprintf("unknown route %q", req.Config.ReturnRoute))
	}
	if req.Config.TimeoutMs <= 0 {
		return nil, schemaErr("config.timeout_ms", "must be > 0")
	}
	if req.Auth.Token == "" {
		return nil, schemaErr("auth.token", "required")
	}

	// Temporal check last so schema errors take precedence.
	if skew := v.now().Sub(req.Timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, &ValidationError{
			Field:  "timestamp",
			Reason: fmt.Sprintf("outside %s skew window", v.clockSkew),
			Code:   contract.ErrClockSkew,
		}
	}

	return &req, nil
}

func schemaErr(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Code: contract.ErrSchemaInvalid}
}
