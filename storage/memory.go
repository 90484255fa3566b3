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

package storage

import (
	"context"
	"sync"
	"time"

	"sentrygate/platform/pipeline"
)

// MemoryStore is an in-process EventStore for development and tests.
// It keeps a bounded window of the newest records.
type MemoryStore struct {
	mu        sync.RWMutex
	maxEvents int
	events    []pipeline.AIEvent
	anomalies []pipeline.Anomaly
}

// NewMemoryStore creates a store that retains up to maxEvents events.
func NewMemoryStore(maxEvents int) *MemoryStore {
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	return &MemoryStore{maxEvents: maxEvents}
}

// InsertEvent stores a copy of the event.
func (s *MemoryStore) InsertEvent(_ context.Context, event *pipeline.AIEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	return nil
}

// InsertAnomaly stores a copy of the anomaly.
func (s *MemoryStore) InsertAnomaly(_ context.Context, anomaly *pipeline.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, *anomaly)
	if len(s.anomalies) > s.maxEvents {
		s.anomalies = s.anomalies[len(s.anomalies)-s.maxEvents:]
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *MemoryStore) RecentEvents(_ context.Context, limit int) ([]pipeline.AIEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]pipeline.AIEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// AnomaliesBySeverity returns anomalies at or above minSeverity,
// newest first.
func (s *MemoryStore) AnomaliesBySeverity(_ context.Context, minSeverity pipeline.Severity, limit int) ([]pipeline.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []pipeline.Anomaly
	for i := len(s.anomalies) - 1; i >= 0 && len(out) < limit; i-- {
		if s.anomalies[i].Severity.AtLeast(minSeverity) {
			out = append(out, s.anomalies[i])
		}
	}
	return out, nil
}

// Statistics aggregates events since the given time.
func (s *MemoryStore) Statistics(_ context.Context, since time.Time) (*pipeline.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats pipeline.Statistics
	var latencySum int64
	for i := range s.events {
		e := &s.events[i]
		if e.Timestamp.Before(since) {
			continue
		}
		stats.TotalEvents++
		if e.Success {
			stats.SuccessfulCount++
		}
		stats.TotalTokens += int64(e.Tokens.Total)
		stats.TotalCostUSD += e.CostUSD
		latencySum += e.LatencyMs
		if e.LatencyMs > stats.MaxLatencyMs {
			stats.MaxLatencyMs = e.LatencyMs
		}
		if e.HasPII {
			stats.PIIEvents++
		}
		if e.InjectionDetected {
			stats.InjectionEvents++
		}
	}
	if stats.TotalEvents > 0 {
		stats.SuccessRate = float64(stats.SuccessfulCount) / float64(stats.TotalEvents)
		stats.AvgLatencyMs = float64(latencySum) / float64(stats.TotalEvents)
	}
	for i := range s.anomalies {
		if !s.anomalies[i].Timestamp.Before(since) {
			stats.AnomalyCount++
		}
	}
	return &stats, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements pipeline.EventStore.
var _ pipeline.EventStore = (*MemoryStore)(nil)
