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

package backends

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StubAdapter is an in-memory backend used in tests and in deployments
// where a provider has no credentials configured. Responses are
// deterministic; failures can be scripted per call.
type StubAdapter struct {
	desc Backend

	mu       sync.Mutex
	script   []error
	calls    int
	latency  time.Duration
	response string
	health   HealthStatus
}

// NewStubAdapter creates a stub serving the given descriptor.
func NewStubAdapter(desc Backend) *StubAdapter {
	return &StubAdapter{
		desc:     desc,
		latency:  time.Millisecond,
		response: "stub response from " + desc.ID,
		health:   HealthOK,
	}
}

// WithLatency sets the simulated processing time.
func (s *StubAdapter) WithLatency(d time.Duration) *StubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
	return s
}

// WithResponse sets the canned response text.
func (s *StubAdapter) WithResponse(text string) *StubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response = text
	return s
}

// FailNext queues outcomes for upcoming calls: each queued error is
// returned once, in order, before canned successes resume.
func (s *StubAdapter) FailNext(failures ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, failures...)
}

// SetHealth overrides the reported health.
func (s *StubAdapter) SetHealth(h HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = h
}

// Calls returns how many times Process ran.
func (s *StubAdapter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubAdapter) Describe() Backend {
	return s.desc
}

func (s *StubAdapter) Process(ctx context.Context, prompt string, params ProcessParams) (*ProcessResult, error) {
	s.mu.Lock()
	s.calls++
	var scripted error
	if len(s.script) > 0 {
		scripted = s.script[0]
		s.script = s.script[1:]
	}
	latency := s.latency
	response := s.response
	s.mu.Unlock()

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, &Failure{Code: FailTimeout, Message: ctx.Err().Error()}
	}

	if scripted != nil {
		return nil, scripted
	}

	promptTokens := len(prompt) / 4
	if promptTokens == 0 {
		promptTokens = 1
	}
	completionTokens := len(response) / 4
	if params.MaxTokens > 0 && completionTokens > params.MaxTokens {
		completionTokens = params.MaxTokens
	}

	total := promptTokens + completionTokens
	return &ProcessResult{
		Response:         response,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          float64(total) * s.desc.CostPer1KTokens / 1000.0,
		Confidence:       s.desc.ConfidenceThreshold + (1.0-s.desc.ConfidenceThreshold)/2,
	}, nil
}

func (s *StubAdapter) Health() HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// TimeoutFailure is a convenience constructor for scripted timeouts.
func TimeoutFailure() *Failure {
	return &Failure{Code: FailTimeout, Message: "simulated timeout"}
}

// UpstreamFailure is a convenience constructor for scripted upstream
// errors.
func UpstreamFailure(status int) *Failure {
	return &Failure{Code: FailUpstreamError, StatusCode: status, Message: fmt.Sprintf("simulated %d", status)}
}
