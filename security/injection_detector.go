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

import "regexp"

// InjectionDetector screens prompts for injection patterns. A hit does
// not block the request; it raises the event risk level downstream.
type InjectionDetector struct {
	patterns []*regexp.Regexp
}

// NewInjectionDetector compiles the default pattern set.
func NewInjectionDetector() *InjectionDetector {
	return &InjectionDetector{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
			regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions?|prompts?|rules?)`),
			regexp.MustCompile(`(?i)forget\s+(everything|all|your\s+instructions?)`),
			regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
			regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\s`),
			regexp.MustCompile(`(?i)system\s*prompt\s*:`),
			regexp.MustCompile(`(?i)<\s*/?\s*(system|assistant)\s*>`),
			regexp.MustCompile(`(?i)\[\s*(system|inst)\s*\]`),
			regexp.MustCompile(`(?i)(reveal|dump|print|show)\s+(your\s+)?(secrets?|system\s+prompt|instructions?)`),
			regexp.MustCompile(`(?i)override\s+(safety|security|your)\s`),
		},
	}
}

// Detect reports whether prompt matches any injection pattern.
func (d *InjectionDetector) Detect(prompt string) bool {
	for _, p := range d.patterns {
		if p.MatchString(prompt) {
			return true
		}
	}
	return false
}
