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
	"strings"
	"testing"
)

func newTestDetector(t *testing.T) *PIIDetector {
	t.Helper()
	d, err := NewPIIDetector(DefaultPIIDetectorConfig())
	if err != nil {
		t.Fatalf("NewPIIDetector: %v", err)
	}
	return d
}

func TestScanDetectsTypes(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantType PIIType
	}{
		{"email", "contact me at john@example.com please", PIITypeEmail},
		{"phone", "call my phone at 555-123-4567 today", PIITypePhone},
		{"ssn", "my ssn is 123-45-6789", PIITypeSSN},
		{"credit card", "pay with card 4111-1111-1111-1111", PIITypeCreditCard},
		{"ip address", "connected from 203.0.113.42", PIITypeIPAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t)
			result := d.Scan(tt.text)

			if !result.HasPII {
				t.Fatalf("expected PII in %q", tt.text)
			}

			found := false
			for _, typ := range result.Types {
				if typ == tt.wantType {
					found = true
				}
			}
			if !found {
				t.Errorf("expected type %s, got %v", tt.wantType, result.Types)
			}
		})
	}
}

func TestScanCleanText(t *testing.T) {
	d := newTestDetector(t)
	result := d.Scan("What is API security?")

	if result.HasPII {
		t.Errorf("expected no PII, got %v", result.Types)
	}
	if len(result.Matches) != 0 {
		t.Errorf("expected no matches, got %d", len(result.Matches))
	}
}

func TestScanRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"ssn area 000", "number 000-12-3456 here"},
		{"ssn area 666", "number 666-12-3456 here"},
		{"card failing luhn", "card 4111-1111-1111-1112 here"},
		{"repeated digit phone", "phone 555-555-5555 wait no 1111111111"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t)
			result := d.Scan(tt.text)
			for _, m := range result.Matches {
				if m.Type == PIITypeSSN && tt.name[:3] == "ssn" {
					t.Errorf("invalid SSN accepted: %+v", m)
				}
				if m.Type == PIITypeCreditCard && strings.Contains(tt.name, "luhn") {
					t.Errorf("Luhn-invalid card accepted: %+v", m)
				}
			}
		})
	}
}

func TestScanNonOverlapping(t *testing.T) {
	d := newTestDetector(t)

	// A 16-digit card also looks like phone fragments; resolution must
	// keep a single non-overlapping span set.
	result := d.Scan("charge card 4111111111111111 for the order")

	for i := 1; i < len(result.Matches); i++ {
		prev, cur := result.Matches[i-1], result.Matches[i]
		if cur.Start < prev.End {
			t.Errorf("overlapping matches: %+v and %+v", prev, cur)
		}
	}

	// Earliest start, longest match wins: the full card number survives.
	foundCard := false
	for _, m := range result.Matches {
		if m.Type == PIITypeCreditCard {
			foundCard = true
		}
	}
	if !foundCard {
		t.Error("expected the credit card match to survive overlap resolution")
	}
}

func TestScanSpansWithinBounds(t *testing.T) {
	d := newTestDetector(t)
	text := "email a@b.example.org and ip 198.51.100.7"
	result := d.Scan(text)

	for _, m := range result.Matches {
		if m.Start < 0 || m.End > len(text) || m.Start >= m.End {
			t.Errorf("span out of bounds: %+v (len=%d)", m, len(text))
		}
	}
}

func TestScanRedactsValues(t *testing.T) {
	d := newTestDetector(t)
	result := d.Scan("my ssn is 123-45-6789 and card 4111111111111111")

	for _, m := range result.Matches {
		if strings.Contains(m.ValueRedacted, "123-45-6789") ||
			strings.Contains(m.ValueRedacted, "4111111111111111") {
			t.Errorf("raw value leaked into redacted form: %q", m.ValueRedacted)
		}
	}
}

func TestEnabledTypesFilter(t *testing.T) {
	d, err := NewPIIDetector(PIIDetectorConfig{
		ContextWindow: 50,
		MinConfidence: 0.5,
		EnabledTypes:  []PIIType{PIITypeEmail},
	})
	if err != nil {
		t.Fatalf("NewPIIDetector: %v", err)
	}

	result := d.Scan("email jane@corp.example.net phone 555-123-4567")
	for _, typ := range result.Types {
		if typ != PIITypeEmail {
			t.Errorf("disabled type detected: %s", typ)
		}
	}
	if !result.HasPII {
		t.Error("expected email detection")
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	_, err := NewPIIDetector(PIIDetectorConfig{
		ContextWindow: 50,
		MinConfidence: 0.5,
		EnabledTypes:  []PIIType{"dna_sequence"},
	})
	if err == nil {
		t.Fatal("expected error for unknown pii type")
	}
}

func TestLuhnCheck(t *testing.T) {
	tests := []struct {
		number string
		valid  bool
	}{
		{"4111111111111111", true},
		{"5500005555555559", true},
		{"4111111111111112", false},
		{"1234567812345678", false},
	}

	for _, tt := range tests {
		if got := luhnCheck(tt.number); got != tt.valid {
			t.Errorf("luhnCheck(%s) = %v, want %v", tt.number, got, tt.valid)
		}
	}
}

func TestCardNetwork(t *testing.T) {
	tests := []struct {
		number  string
		network string
	}{
		{"4111111111111111", "visa"},
		{"5500005555555559", "mastercard"},
		{"340000000000009", "amex"},
		{"6011000000000004", "discover"},
		{"9999999999999999", ""},
	}

	for _, tt := range tests {
		if got := cardNetwork(tt.number); got != tt.network {
			t.Errorf("cardNetwork(%s) = %q, want %q", tt.number, got, tt.network)
		}
	}
}
