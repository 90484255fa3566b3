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
	"testing"
	"time"

	"sentrygate/platform/shared/contract"
)

func validRequest(now time.Time) contract.Request {
	return contract.Request{
		MPCVersion:    contract.ProtocolVersion,
		RequestID:     "req-42",
		Timestamp:     now,
		Source:        contract.SourceInfo{ApplicationID: "billing-app", Environment: "test"},
		Type:          contract.TypeProcessRequest,
		PayloadSchema: "llm.request.v1",
		Payload:       json.RawMessage(`{"model":"gpt-x","prompt":"hello"}`),
		Config: contract.ProcessingConfig{
			Sensitivity:    contract.SensitivityPublic,
			ProcessingHint: contract.HintAuto,
			ReturnRoute:    contract.RouteSync,
			TimeoutMs:      2000,
		},
		Auth: contract.AuthInfo{Token: "bearer-token"},
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		mutate    func(*contract.Request)
		wantField string
		wantCode  string
	}{
		{
			name:   "valid request",
			mutate: func(r *contract.Request) {},
		},
		{
			name:      "unsupported version",
			mutate:    func(r *contract.Request) { r.MPCVersion = "2.0" },
			wantField: "mpc_version",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "missing request id",
			mutate:    func(r *contract.Request) { r.RequestID = "" },
			wantField: "request_id",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "missing timestamp",
			mutate:    func(r *contract.Request) { r.Timestamp = time.Time{} },
			wantField: "timestamp",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "missing application id",
			mutate:    func(r *contract.Request) { r.Source.ApplicationID = "" },
			wantField: "source.application_id",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "unsupported type",
			mutate:    func(r *contract.Request) { r.Type = "subscribe" },
			wantField: "type",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "missing payload schema",
			mutate:    func(r *contract.Request) { r.PayloadSchema = "" },
			wantField: "payload_schema",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "unregistered payload schema",
			mutate:    func(r *contract.Request) { r.PayloadSchema = "image.request.v1" },
			wantField: "payload_schema",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "missing payload",
			mutate:    func(r *contract.Request) { r.Payload = nil },
			wantField: "payload",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "null payload",
			mutate:    func(r *contract.Request) { r.Payload = json.RawMessage("null") },
			wantField: "payload",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "unknown sensitivity",
			mutate:    func(r *contract.Request) { r.Config.Sensitivity = "top_secret" },
			wantField: "config.sensitivity",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "unknown processing hint",
			mutate:    func(r *contract.Request) { r.Config.ProcessingHint = "model_huge" },
			wantField: "config.processing_hint",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "unknown return route",
			mutate:    func(r *contract.Request) { r.Config.ReturnRoute = "webhook" },
			wantField: "config.return_route",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "zero timeout",
			mutate:    func(r *contract.Request) { r.Config.TimeoutMs = 0 },
			wantField: "config.timeout_ms",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "missing token",
			mutate:    func(r *contract.Request) { r.Auth.Token = "" },
			wantField: "auth.token",
			wantCode:  contract.ErrSchemaInvalid,
		},
		{
			name:      "stale timestamp",
			mutate:    func(r *contract.Request) { r.Timestamp = now.Add(-6 * time.Minute) },
			wantField: "timestamp",
			wantCode:  contract.ErrClockSkew,
		},
		{
			name:      "future timestamp",
			mutate:    func(r *contract.Request) { r.Timestamp = now.Add(6 * time.Minute) },
			wantField: "timestamp",
			wantCode:  contract.ErrClockSkew,
		},
		{
			name: "schema error wins over clock skew",
			mutate: func(r *contract.Request) {
				r.Timestamp = now.Add(-time.Hour)
				r.Auth.Token = ""
			},
			wantField: "auth.token",
			wantCode:  contract.ErrSchemaInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(0, 0)
			v.now = func() time.Time { return now }

			req := validRequest(now)
			tt.mutate(&req)
			raw, err := json.Marshal(req)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}

			parsed, verr := v.Validate(raw)
			if tt.wantCode == "" {
				if verr != nil {
					t.Fatalf("Validate() = %v, want nil", verr)
				}
				if parsed.RequestID != req.RequestID {
					t.Errorf("RequestID = %q, want %q", parsed.RequestID, req.RequestID)
				}
				return
			}
			if verr == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
			if verr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", verr.Code, tt.wantCode)
			}
		})
	}
}

func TestValidateMalformedJSON(t *testing.T) {
	v := NewValidator(0, 0)
	_, verr := v.Validate([]byte(`{"mpc_version":`))
	if verr == nil || verr.Code != contract.ErrSchemaInvalid {
		t.Fatalf("Validate() = %v, want SCHEMA_INVALID", verr)
	}
}

func TestValidateOversizeBody(t *testing.T) {
	v := NewValidator(64, 0)
	raw := make([]byte, 65)
	for i := range raw {
		raw[i] = 'a'
	}

	_, verr := v.Validate(raw)
	if verr == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if verr.Field != "body" || verr.Code != contract.ErrSchemaInvalid {
		t.Errorf("got %q/%q, want body/SCHEMA_INVALID", verr.Field, verr.Code)
	}
}

func TestInferCapability(t *testing.T) {
	tests := []struct {
		schema string
		want   contract.Capability
	}{
		{"llm.request.v1", contract.CapTextGeneration},
		{"security.scan.v1", contract.CapSecurityScan},
		{"extract.request.v1", contract.CapExtraction},
		{"classify.request.v1", contract.CapClassification},
		{"summarize.request.v1", contract.CapSummarization},
		{"unknown.v9", contract.CapTextGeneration},
	}
	for _, tt := range tests {
		if got := InferCapability(tt.schema); got != tt.want {
			t.Errorf("InferCapability(%q) = %q, want %q", tt.schema, got, tt.want)
		}
	}
}
