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
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// RedactionStrategy selects how detected PII is replaced in text.
type RedactionStrategy string

const (
	StrategyRedact   RedactionStrategy = "redact"
	StrategyMask     RedactionStrategy = "mask"
	StrategyHash     RedactionStrategy = "hash"
	StrategyTokenize RedactionStrategy = "tokenize"
)

// Redactor rewrites text according to a PIIResult. The tokenize maps
// live only in process memory and are never written to any sink.
type Redactor struct {
	mu       sync.RWMutex
	tokens   map[string]string // raw value -> token
	reverse  map[string]string // token -> raw value
	tokenSeq int
}

// NewRedactor creates a Redactor with an empty tokenizer map.
func NewRedactor() *Redactor {
	return &Redactor{
		tokens:  make(map[string]string),
		reverse: make(map[string]string),
	}
}

// Apply replaces every match span in text per the strategy. Matches are
// applied right to left so earlier spans keep their offsets.
func (r *Redactor) Apply(text string, matches []PIIMatch, strategy RedactionStrategy) string {
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		if m.Start < 0 || m.End > len(text) || m.Start >= m.End {
			continue
		}
		raw := text[m.Start:m.End]
		text = text[:m.Start] + r.replacement(raw, m.Type, strategy) + text[m.End:]
	}
	return text
}

func (r *Redactor) replacement(raw string, typ PIIType, strategy RedactionStrategy) string {
	switch strategy {
	case StrategyMask:
		return maskValue(raw)
	case StrategyHash:
		sum := sha256.Sum256([]byte(raw))
		return fmt.Sprintf("[%s:%s]", strings.ToUpper(string(typ)), hex.EncodeToString(sum[:])[:12])
	case StrategyTokenize:
		return r.tokenFor(raw, typ)
	default:
		return fmt.Sprintf("[%s_REDACTED]", strings.ToUpper(string(typ)))
	}
}

// maskValue keeps the last four characters and masks the rest.
func maskValue(raw string) string {
	if len(raw) <= 4 {
		return strings.Repeat("*", len(raw))
	}
	return strings.Repeat("*", len(raw)-4) + raw[len(raw)-4:]
}

// tokenFor returns a stable opaque token for a distinct raw value
// within the life of this process.
func (r *Redactor) tokenFor(raw string, typ PIIType) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tok, ok := r.tokens[raw]; ok {
		return tok
	}

	r.tokenSeq++
	tok := fmt.Sprintf("<%s_%d_%s>", strings.ToUpper(string(typ)), r.tokenSeq, randomSuffix())
	r.tokens[raw] = tok
	r.reverse[tok] = raw
	return tok
}

// Detokenize restores every known token in text to its original value.
func (r *Redactor) Detokenize(text string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for tok, raw := range r.reverse {
		text = strings.ReplaceAll(text, tok, raw)
	}
	return text
}

// Reset clears the tokenizer maps. Called on shutdown.
func (r *Redactor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = make(map[string]string)
	r.reverse = make(map[string]string)
	r.tokenSeq = 0
}

func randomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}
