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
	"errors"
	"testing"
	"time"
)

const (
	testJWTSecret  = "test-jwt-secret-0123456789abcdef"
	testHMACSecret = "test-hmac-secret-0123456789abcdef"
)

func newTestTokenService(ttl time.Duration) *TokenService {
	return NewTokenService(testJWTSecret, testHMACSecret, ttl)
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc := newTestTokenService(15 * time.Minute)

	token, err := svc.IssueToken("svc-reporting", RoleService, []Permission{PermExecute})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	principal, err := svc.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if principal.Subject != "svc-reporting" {
		t.Errorf("expected subject svc-reporting, got %s", principal.Subject)
	}
	if principal.Role != RoleService {
		t.Errorf("expected role service, got %s", principal.Role)
	}
	// Role defaults merged with token permissions
	for _, p := range []Permission{PermRead, PermExecute} {
		if !principal.HasPermission(p) {
			t.Errorf("expected permission %s", p)
		}
	}
	if principal.HasPermission(PermAdmin) {
		t.Error("service principal must not hold admin")
	}
	if !principal.ExpiresAt.After(time.Now()) {
		t.Error("expected future expiry")
	}
}

func TestAuthenticateExpired(t *testing.T) {
	svc := newTestTokenService(-time.Second)

	token, err := svc.IssueToken("svc-reporting", RoleService, nil)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	_, err = svc.Authenticate(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestAuthenticateInvalid(t *testing.T) {
	svc := newTestTokenService(15 * time.Minute)
	other := NewTokenService("a-different-secret-entirely-here", testHMACSecret, 15*time.Minute)

	tests := []struct {
		name  string
		token func() string
	}{
		{"garbage", func() string { return "not.a.token" }},
		{"empty", func() string { return "" }},
		{"wrong secret", func() string {
			tok, _ := other.IssueToken("svc-x", RoleService, nil)
			return tok
		}},
		{"unknown role", func() string {
			tok, _ := svc.IssueToken("svc-x", Role("superuser"), nil)
			return tok
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Authenticate(tt.token())
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("expected ErrTokenInvalid, got %v", err)
			}
		})
	}
}

func TestAdminImpliesAll(t *testing.T) {
	svc := newTestTokenService(15 * time.Minute)

	token, err := svc.IssueToken("ops-admin", RoleAdmin, nil)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	principal, err := svc.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	for _, p := range []Permission{PermRead, PermWrite, PermExecute, PermPIIAccess, PermSensitiveAccess} {
		if !principal.HasPermission(p) {
			t.Errorf("admin missing permission %s", p)
		}
	}
}

func TestPayloadSignature(t *testing.T) {
	svc := newTestTokenService(15 * time.Minute)
	payload := []byte(`{"model":"gpt-4","prompt":"hello"}`)

	sig := svc.SignPayload(payload)

	if !svc.VerifyPayloadSignature(payload, sig) {
		t.Error("expected valid signature to verify")
	}
	if svc.VerifyPayloadSignature([]byte(`{"tampered":true}`), sig) {
		t.Error("expected tampered payload to fail verification")
	}
	if svc.VerifyPayloadSignature(payload, "deadbeef") {
		t.Error("expected bogus signature to fail verification")
	}
}

func TestPrincipalHash(t *testing.T) {
	h1 := PrincipalHash("svc-reporting")
	h2 := PrincipalHash("svc-reporting")
	h3 := PrincipalHash("svc-billing")

	if h1 != h2 {
		t.Error("expected stable hash per subject")
	}
	if h1 == h3 {
		t.Error("expected distinct hashes per subject")
	}
	if h1 == "svc-reporting" || len(h1) != 16 {
		t.Errorf("unexpected hash form: %q", h1)
	}
}
