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

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeStore records inserts in memory for assertions.
type fakeStore struct {
	mu        sync.Mutex
	events    []AIEvent
	anomalies []Anomaly
	failNext  error
}

func (s *fakeStore) InsertEvent(_ context.Context, event *AIEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.events = append(s.events, *event)
	return nil
}

func (s *fakeStore) InsertAnomaly(_ context.Context, anomaly *Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, *anomaly)
	return nil
}

func (s *fakeStore) RecentEvents(_ context.Context, limit int) ([]AIEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]AIEvent, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out, nil
}

func (s *fakeStore) AnomaliesBySeverity(_ context.Context, minSeverity Severity, limit int) ([]Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Anomaly
	for _, a := range s.anomalies {
		if a.Severity.AtLeast(minSeverity) {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) Statistics(_ context.Context, _ time.Time) (*Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Statistics{TotalEvents: len(s.events), AnomalyCount: len(s.anomalies)}, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) snapshot() ([]AIEvent, []Anomaly) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AIEvent(nil), s.events...), append([]Anomaly(nil), s.anomalies...)
}

// recordingSink captures emitted alerts.
type recordingSink struct {
	mu     sync.Mutex
	alerts []Anomaly
}

func (s *recordingSink) Emit(a Anomaly) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *recordingSink) snapshot() []Anomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Anomaly(nil), s.alerts...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestPipeline(cfg Config, store EventStore, sink AlertSink) *Pipeline {
	return New(cfg, NewAnomalyDetector(DetectorConfig{}), store, sink, nil)
}

func TestPipelineProcessesEvent(t *testing.T) {
	store := &fakeStore{}
	sink := &recordingSink{}
	p := newTestPipeline(Config{}, store, sink)
	p.Start()
	defer p.Shutdown(context.Background())

	p.Emit(&AIEvent{
		ID:        "e1",
		RequestID: "r1",
		Timestamp: time.Now(),
		Model:     "gpt-4",
		Success:   true,
		CostUSD:   0.01,
	})

	waitFor(t, func() bool {
		events, _ := store.snapshot()
		return len(events) == 1
	})

	events, anomalies := store.snapshot()
	if events[0].RiskLevel != RiskLow {
		t.Errorf("risk level = %s, want %s", events[0].RiskLevel, RiskLow)
	}
	if len(anomalies) != 0 {
		t.Errorf("unexpected anomalies: %d", len(anomalies))
	}
	if len(sink.snapshot()) != 0 {
		t.Errorf("unexpected alerts")
	}
}

func TestPipelineAnomalyAndAlert(t *testing.T) {
	store := &fakeStore{}
	sink := &recordingSink{}
	p := newTestPipeline(Config{}, store, sink)
	p.Start()
	defer p.Shutdown(context.Background())

	p.Emit(&AIEvent{
		ID:                "e1",
		RequestID:         "r1",
		Timestamp:         time.Now(),
		Model:             "gpt-4",
		Success:           true,
		InjectionDetected: true,
		LatencyMs:         5500,
	})

	waitFor(t, func() bool {
		_, anomalies := store.snapshot()
		return len(anomalies) >= 2
	})

	events, anomalies := store.snapshot()
	if events[0].RiskLevel != RiskHigh {
		t.Errorf("risk level = %s, want %s", events[0].RiskLevel, RiskHigh)
	}

	types := anomalyTypes(anomalies)
	if types["prompt_injection"] != SeverityCritical {
		t.Errorf("prompt_injection severity = %s", types["prompt_injection"])
	}
	if types["high_latency"] != SeverityMedium {
		t.Errorf("high_latency severity = %s", types["high_latency"])
	}

	// Only severity >= high reaches the sink.
	alerts := sink.snapshot()
	if len(alerts) != 1 || alerts[0].Type != "prompt_injection" {
		t.Errorf("alerts = %v, want one prompt_injection", alerts)
	}
}

func TestPipelineOrdering(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(Config{}, store, &recordingSink{})
	p.Start()

	const n = 50
	for i := 0; i < n; i++ {
		p.Emit(&AIEvent{
			ID:        fmt.Sprintf("e%03d", i),
			Timestamp: time.Now(),
			Model:     "gpt-4",
			Success:   true,
		})
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	events, _ := store.snapshot()
	if len(events) != n {
		t.Fatalf("stored %d events, want %d", len(events), n)
	}
	for i := 1; i < len(events); i++ {
		if events[i-1].ID >= events[i].ID {
			t.Fatalf("events out of order at %d: %s then %s", i, events[i-1].ID, events[i].ID)
		}
	}
}

func TestPipelineDropOldest(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(Config{QueueCapacity: 2, FullQueuePolicy: DropOldest}, store, &recordingSink{})
	// Worker deliberately not started: the queue fills immediately.

	for i := 0; i < 5; i++ {
		p.Emit(&AIEvent{ID: fmt.Sprintf("e%d", i), Timestamp: time.Now(), Model: "gpt-4", Success: true})
	}

	stats := p.Stats()
	if stats.Dropped != 3 {
		t.Errorf("dropped = %d, want 3", stats.Dropped)
	}
	if stats.QueueDepth != 2 {
		t.Errorf("queue depth = %d, want 2", stats.QueueDepth)
	}

	// The newest two survive.
	p.Start()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	events, _ := store.snapshot()
	if len(events) != 2 || events[0].ID != "e3" || events[1].ID != "e4" {
		t.Errorf("surviving events = %v", events)
	}
}

func TestPipelineBackpressure(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(Config{
		QueueCapacity:       1,
		FullQueuePolicy:     Backpressure,
		BackpressureTimeout: 20 * time.Millisecond,
	}, store, &recordingSink{})
	// Worker not started: the second emit times out and processes inline.

	p.Emit(&AIEvent{ID: "e1", Timestamp: time.Now(), Model: "gpt-4", Success: true})
	p.Emit(&AIEvent{ID: "e2", Timestamp: time.Now(), Model: "gpt-4", Success: true})

	events, _ := store.snapshot()
	if len(events) != 1 || events[0].ID != "e2" {
		t.Fatalf("inline-processed events = %v, want just e2", events)
	}
	if p.Stats().Dropped != 0 {
		t.Errorf("backpressure must not drop events")
	}

	p.Start()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	events, _ = store.snapshot()
	if len(events) != 2 {
		t.Errorf("stored %d events, want 2", len(events))
	}
}

func TestPipelineShutdownDrains(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(Config{QueueCapacity: 100}, store, &recordingSink{})

	for i := 0; i < 25; i++ {
		p.Emit(&AIEvent{ID: fmt.Sprintf("e%d", i), Timestamp: time.Now(), Model: "gpt-4", Success: true})
	}

	p.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	events, _ := store.snapshot()
	if len(events) != 25 {
		t.Errorf("drained %d events, want 25", len(events))
	}
}

func TestPipelineStoreErrorDoesNotStall(t *testing.T) {
	store := &fakeStore{failNext: fmt.Errorf("connection reset")}
	p := newTestPipeline(Config{}, store, &recordingSink{})
	p.Start()
	defer p.Shutdown(context.Background())

	p.Emit(&AIEvent{ID: "e1", Timestamp: time.Now(), Model: "gpt-4", Success: true})
	p.Emit(&AIEvent{ID: "e2", Timestamp: time.Now(), Model: "gpt-4", Success: true})

	waitFor(t, func() bool {
		return p.Stats().Processed == 2
	})

	events, _ := store.snapshot()
	if len(events) != 1 || events[0].ID != "e2" {
		t.Errorf("stored event = %s, want e2 after e1's insert failed", events[0].ID)
	}
	if p.Stats().Processed != 2 {
		t.Errorf("processed = %d, want 2", p.Stats().Processed)
	}
}

func TestPipelinePatternFlush(t *testing.T) {
	store := &fakeStore{}
	sink := &recordingSink{}
	p := newTestPipeline(Config{}, store, sink)

	now := time.Now()
	var history []AIEvent
	for i := 0; i < 10; i++ {
		history = append(history, AIEvent{
			ID:        fmt.Sprintf("h%d", i),
			Timestamp: now.Add(-time.Duration(i) * 10 * time.Second),
			Model:     "gpt-4",
			Success:   i >= 5, // half failing
		})
	}
	p.SeedHistory(history)

	p.flushPatterns(now)

	_, anomalies := store.snapshot()
	types := anomalyTypes(anomalies)
	if types["high_error_rate"] != SeverityCritical {
		t.Errorf("high_error_rate severity = %s, want critical (all: %v)", types["high_error_rate"], types)
	}

	alerts := sink.snapshot()
	var alerted bool
	for _, a := range alerts {
		if a.Type == "high_error_rate" {
			alerted = true
		}
	}
	if !alerted {
		t.Error("critical pattern anomaly did not reach the alert sink")
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("summarize this document")
	b := Fingerprint("summarize this document")
	c := Fingerprint("summarize this other document")
	if a != b {
		t.Error("fingerprints of equal text differ")
	}
	if a == c {
		t.Error("fingerprints of different text collide")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a))
	}
}
