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
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// PIIType identifies a category of personally identifiable information.
type PIIType string

const (
	PIITypeEmail      PIIType = "email"
	PIITypePhone      PIIType = "phone"
	PIITypeSSN        PIIType = "ssn"
	PIITypeCreditCard PIIType = "credit_card"
	PIITypeIPAddress  PIIType = "ip_address"
)

// PIIMatch is a single detection. Value holds the redacted form only;
// the raw substring never leaves the detector.
type PIIMatch struct {
	Type          PIIType `json:"type"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	ValueRedacted string  `json:"value_redacted"`
	Confidence    float64 `json:"confidence"`
}

// PIIResult is the outcome of scanning one prompt.
type PIIResult struct {
	HasPII  bool       `json:"has_pii"`
	Types   []PIIType  `json:"types"`
	Matches []PIIMatch `json:"matches"`
}

// piiPattern pairs a compiled regex with a validator that rejects
// structural false positives and assigns a confidence.
type piiPattern struct {
	typ       PIIType
	pattern   *regexp.Regexp
	validator func(match, context string) (bool, float64)
	minLength int
	maxLength int
}

// PIIDetectorConfig configures detection behavior.
type PIIDetectorConfig struct {
	// ContextWindow is the number of characters around a match used by
	// validators to weigh surrounding words.
	ContextWindow int
	// MinConfidence drops matches a validator scores below it.
	MinConfidence float64
	// EnabledTypes limits detection to the listed types. Empty enables
	// all. Unknown type names are rejected at construction.
	EnabledTypes []PIIType
}

// DefaultPIIDetectorConfig returns the defaults used by the gateway.
func DefaultPIIDetectorConfig() PIIDetectorConfig {
	return PIIDetectorConfig{
		ContextWindow: 50,
		MinConfidence: 0.5,
	}
}

// PIIDetector scans prompt text for PII. It is stateless and safe for
// concurrent use.
type PIIDetector struct {
	patterns      []*piiPattern
	contextWindow int
	minConfidence float64
}

// NewPIIDetector creates a detector for the configured types.
func NewPIIDetector(config PIIDetectorConfig) (*PIIDetector, error) {
	all := allPatterns()

	known := make(map[PIIType]*piiPattern, len(all))
	for _, p := range all {
		known[p.typ] = p
	}

	d := &PIIDetector{
		contextWindow: config.ContextWindow,
		minConfidence: config.MinConfidence,
	}

	if len(config.EnabledTypes) == 0 {
		d.patterns = all
		return d, nil
	}

	for _, t := range config.EnabledTypes {
		p, ok := known[t]
		if !ok {
			return nil, fmt.Errorf("unknown pii type %q", t)
		}
		d.patterns = append(d.patterns, p)
	}
	return d, nil
}

func allPatterns() []*piiPattern {
	return []*piiPattern{
		{
			typ:       PIITypeSSN,
			pattern:   regexp.MustCompile(`\b(\d{3})[- ]?(\d{2})[- ]?(\d{4})\b`),
			validator: validateSSN,
			minLength: 9,
			maxLength: 11,
		},
		{
			typ: PIITypeCreditCard,
			// Visa, MasterCard, Amex, Discover, Diners, JCB, plus the
			// generic 4x4 grouped form
			pattern:   regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12}|3(?:0[0-5]|[68][0-9])[0-9]{11}|(?:2131|1800|35\d{3})\d{11})\b|\b(\d{4})[- ]?(\d{4})[- ]?(\d{4})[- ]?(\d{4})\b`),
			validator: validateCreditCard,
			minLength: 13,
			maxLength: 19,
		},
		{
			typ:       PIITypeEmail,
			pattern:   regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
			validator: validateEmail,
			minLength: 5,
			maxLength: 254,
		},
		{
			typ:       PIITypePhone,
			pattern:   regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b|\+[0-9]{1,3}[-.\s]?[0-9]{6,14}\b`),
			validator: validatePhone,
			minLength: 7,
			maxLength: 20,
		},
		{
			typ:       PIITypeIPAddress,
			pattern:   regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
			validator: validateIPAddress,
			minLength: 7,
			maxLength: 15,
		},
	}
}

// Scan detects all PII in text. Overlapping raw matches are resolved to
// a non-overlapping set: earliest start wins, longest match breaks ties.
func (d *PIIDetector) Scan(text string) PIIResult {
	var raw []PIIMatch

	for _, p := range d.patterns {
		locs := p.pattern.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			start, end := loc[0], loc[1]
			matched := text[start:end]

			if len(matched) < p.minLength || len(matched) > p.maxLength {
				continue
			}

			confidence := 1.0
			if p.validator != nil {
				ok, c := p.validator(matched, d.extractContext(text, start, end))
				if !ok {
					continue
				}
				confidence = c
			}
			if confidence < d.minConfidence {
				continue
			}

			raw = append(raw, PIIMatch{
				Type:          p.typ,
				Start:         start,
				End:           end,
				ValueRedacted: redactValue(p.typ, matched),
				Confidence:    confidence,
			})
		}
	}

	matches := resolveOverlaps(raw)

	result := PIIResult{
		HasPII:  len(matches) > 0,
		Matches: matches,
	}

	seen := make(map[PIIType]bool)
	for _, m := range matches {
		if !seen[m.Type] {
			seen[m.Type] = true
			result.Types = append(result.Types, m.Type)
		}
	}
	sort.Slice(result.Types, func(i, j int) bool { return result.Types[i] < result.Types[j] })

	return result
}

// HasPII is a fast boolean check without full overlap resolution.
func (d *PIIDetector) HasPII(text string) bool {
	return d.Scan(text).HasPII
}

// resolveOverlaps keeps a non-overlapping subset of matches: sorted by
// start ascending then length descending, a match is kept only when it
// begins at or after the end of the previous kept match.
func resolveOverlaps(matches []PIIMatch) []PIIMatch {
	if len(matches) == 0 {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})

	kept := matches[:1]
	for _, m := range matches[1:] {
		if m.Start >= kept[len(kept)-1].End {
			kept = append(kept, m)
		}
	}
	return kept
}

// redactValue produces the audit-safe form of a matched value. Only the
// last four characters of card and SSN values survive.
func redactValue(typ PIIType, value string) string {
	switch typ {
	case PIITypeCreditCard, PIITypeSSN:
		digits := digitsOnly(value)
		if len(digits) > 4 {
			return "****" + digits[len(digits)-4:]
		}
		return "****"
	case PIITypeEmail:
		at := strings.LastIndex(value, "@")
		if at > 0 {
			return "***@" + value[at+1:]
		}
		return "***"
	default:
		return "[" + strings.ToUpper(string(typ)) + "]"
	}
}

func (d *PIIDetector) extractContext(text string, start, end int) string {
	cs := start - d.contextWindow
	if cs < 0 {
		cs = 0
	}
	ce := end + d.contextWindow
	if ce > len(text) {
		ce = len(text)
	}
	return text[cs:ce]
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// validateSSN rejects structurally invalid US Social Security Numbers.
// Area cannot be 000, 666, or 900-999; group and serial cannot be zero.
func validateSSN(match, context string) (bool, float64) {
	clean := digitsOnly(match)
	if len(clean) != 9 {
		return false, 0
	}

	area, _ := strconv.Atoi(clean[0:3])
	group, _ := strconv.Atoi(clean[3:5])
	serial, _ := strconv.Atoi(clean[5:9])

	if area == 0 || area == 666 || area >= 900 {
		return false, 0
	}
	if group == 0 || serial == 0 {
		return false, 0
	}

	contextLower := strings.ToLower(context)

	negative := []string{
		"order", "invoice", "ref", "tracking", "confirmation",
		"receipt", "sku", "serial number", "ticket",
	}
	for _, ind := range negative {
		if strings.Contains(contextLower, ind) {
			return false, 0.3
		}
	}

	positive := []string{"ssn", "social security", "ss#", "taxpayer", "tax id"}
	for _, ind := range positive {
		if strings.Contains(contextLower, ind) {
			return true, 0.95
		}
	}

	return true, 0.7
}

// validateCreditCard applies the Luhn check and a card-network prefix
// check.
func validateCreditCard(match, context string) (bool, float64) {
	clean := digitsOnly(match)
	if len(clean) < 13 || len(clean) > 19 {
		return false, 0
	}
	if !luhnCheck(clean) {
		return false, 0
	}
	if cardNetwork(clean) == "" {
		return false, 0.5
	}

	contextLower := strings.ToLower(context)
	for _, ind := range []string{"phone", "fax", "tel:", "call", "mobile"} {
		if strings.Contains(contextLower, ind) {
			return false, 0.2
		}
	}
	for _, ind := range []string{"card", "credit", "debit", "visa", "mastercard", "amex", "payment"} {
		if strings.Contains(contextLower, ind) {
			return true, 0.95
		}
	}

	return true, 0.85
}

func luhnCheck(number string) bool {
	sum := 0
	alternate := false

	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if alternate {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		alternate = !alternate
	}

	return sum%10 == 0
}

// cardNetwork identifies the card network from the number prefix.
func cardNetwork(number string) string {
	if len(number) < 2 {
		return ""
	}

	prefix2, _ := strconv.Atoi(number[0:2])

	// JCB (3528-3589) must be checked before Diners (30-35)
	if len(number) >= 4 {
		prefix4, _ := strconv.Atoi(number[0:4])
		if prefix4 >= 3528 && prefix4 <= 3589 {
			return "jcb"
		}
		if prefix4 == 6011 || (prefix2 >= 64 && prefix2 <= 65) {
			return "discover"
		}
	}

	switch {
	case number[0] == '4':
		return "visa"
	case prefix2 >= 51 && prefix2 <= 55:
		return "mastercard"
	case prefix2 >= 22 && prefix2 <= 27:
		return "mastercard"
	case prefix2 == 34 || prefix2 == 37:
		return "amex"
	case prefix2 == 36 || prefix2 == 38 || (prefix2 >= 30 && prefix2 <= 35):
		return "diners"
	}

	return ""
}

func validateEmail(match, context string) (bool, float64) {
	at := strings.LastIndex(match, "@")
	if at < 1 || at >= len(match)-4 {
		return false, 0
	}

	domain := match[at+1:]
	if !strings.Contains(domain, ".") {
		return false, 0
	}
	lastDot := strings.LastIndex(domain, ".")
	if len(domain)-lastDot-1 < 2 {
		return false, 0
	}
	if strings.Contains(match, "..") || strings.HasPrefix(match, ".") {
		return false, 0
	}

	disposable := []string{"example.com", "test.com", "localhost", "mailinator", "tempmail"}
	for _, p := range disposable {
		if strings.Contains(strings.ToLower(domain), p) {
			return true, 0.5
		}
	}

	return true, 0.9
}

func validatePhone(match, context string) (bool, float64) {
	digits := digitsOnly(match)
	if len(digits) < 7 || len(digits) > 15 {
		return false, 0
	}
	if isRepeatedDigits(digits) {
		return false, 0.1
	}

	contextLower := strings.ToLower(context)
	for _, ind := range []string{"zip", "postal", "year", "amount", "price", "total", "qty"} {
		if strings.Contains(contextLower, ind) {
			return false, 0.2
		}
	}
	for _, ind := range []string{"phone", "tel", "call", "mobile", "cell", "fax", "contact"} {
		if strings.Contains(contextLower, ind) {
			return true, 0.95
		}
	}

	return true, 0.7
}

func validateIPAddress(match, context string) (bool, float64) {
	parts := strings.Split(match, ".")
	if len(parts) != 4 {
		return false, 0
	}
	for _, part := range parts {
		num, err := strconv.Atoi(part)
		if err != nil || num < 0 || num > 255 {
			return false, 0
		}
	}

	// Private and special ranges are valid matches but weak PII
	if match == "0.0.0.0" || match == "255.255.255.255" ||
		strings.HasPrefix(match, "127.") || strings.HasPrefix(match, "192.168.") ||
		strings.HasPrefix(match, "10.") || strings.HasPrefix(match, "172.") {
		return true, 0.5
	}

	contextLower := strings.ToLower(context)
	if strings.Contains(contextLower, "version") || strings.Contains(contextLower, "v.") {
		return false, 0.1
	}

	return true, 0.8
}

func isRepeatedDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
