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
	"time"

	"sentrygate/platform/metrics"
	"sentrygate/platform/shared/logger"
)

// FullQueuePolicy decides what Emit does when the queue is full.
type FullQueuePolicy string

const (
	// DropOldest evicts the oldest queued event to admit the new one.
	DropOldest FullQueuePolicy = "drop-oldest"
	// Backpressure blocks the caller briefly, then processes inline.
	Backpressure FullQueuePolicy = "apply-backpressure"
)

// Config tunes the pipeline queue and windows.
type Config struct {
	QueueCapacity       int
	FullQueuePolicy     FullQueuePolicy
	BackpressureTimeout time.Duration
	HistorySize         int
	PatternInterval     time.Duration
	AlertSeverityFloor  Severity
}

// DefaultConfig returns the shipped pipeline settings.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:       4096,
		FullQueuePolicy:     DropOldest,
		BackpressureTimeout: 250 * time.Millisecond,
		HistorySize:         1000,
		PatternInterval:     30 * time.Second,
		AlertSeverityFloor:  SeverityHigh,
	}
}

// Pipeline is the async chain processor -> detector -> storage ->
// alerts. A single worker drains the queue, which keeps events in
// arrival order and gives the store one writer per process.
type Pipeline struct {
	cfg       Config
	processor *Processor
	detector  *AnomalyDetector
	store     EventStore
	alerts    AlertSink
	log       *logger.Logger

	queue chan *AIEvent
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	history []AIEvent
	stats   Stats
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	QueueDepth int
	Processed  uint64
	Dropped    uint64
}

// New creates a pipeline. Call Start before emitting.
func New(cfg Config, detector *AnomalyDetector, store EventStore, alerts AlertSink, log *logger.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.FullQueuePolicy == "" {
		cfg.FullQueuePolicy = def.FullQueuePolicy
	}
	if cfg.BackpressureTimeout <= 0 {
		cfg.BackpressureTimeout = def.BackpressureTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.PatternInterval <= 0 {
		cfg.PatternInterval = def.PatternInterval
	}
	if cfg.AlertSeverityFloor == "" {
		cfg.AlertSeverityFloor = def.AlertSeverityFloor
	}
	if alerts == nil {
		alerts = NewStderrAlertSink()
	}

	return &Pipeline{
		cfg:       cfg,
		processor: NewProcessor(),
		detector:  detector,
		store:     store,
		alerts:    alerts,
		log:       log,
		queue:     make(chan *AIEvent, cfg.QueueCapacity),
		done:      make(chan struct{}),
	}
}

// Start launches the worker.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.run()
}

// Emit hands an event to the pipeline. Normally a non-blocking
// enqueue; the full-queue policy decides the slow path. Ownership of
// the event transfers to the pipeline.
func (p *Pipeline) Emit(event *AIEvent) {
	select {
	case p.queue <- event:
		metrics.QueueDepth.Set(float64(len(p.queue)))
		return
	default:
	}

	switch p.cfg.FullQueuePolicy {
	case Backpressure:
		timer := time.NewTimer(p.cfg.BackpressureTimeout)
		defer timer.Stop()
		select {
		case p.queue <- event:
			metrics.QueueDepth.Set(float64(len(p.queue)))
		case <-timer.C:
			// Synchronous drain: process inline rather than lose it.
			p.handle(event)
		}
	default:
		// Drop the oldest queued event to admit the new one.
		select {
		case dropped := <-p.queue:
			p.recordDrop(dropped)
		default:
		}
		select {
		case p.queue <- event:
		default:
			p.recordDrop(event)
		}
	}
}

func (p *Pipeline) recordDrop(event *AIEvent) {
	metrics.EventsDropped.Inc()
	p.mu.Lock()
	p.stats.Dropped++
	p.mu.Unlock()
	if p.log != nil {
		p.log.Warn("", event.RequestID, "event dropped: pipeline queue full", map[string]interface{}{
			"event_id": event.ID,
		})
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PatternInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-p.queue:
			metrics.QueueDepth.Set(float64(len(p.queue)))
			p.handle(event)
		case <-ticker.C:
			p.flushPatterns(time.Now())
		case <-p.done:
			// Drain whatever is left before exiting.
			for {
				select {
				case event := <-p.queue:
					p.handle(event)
				default:
					return
				}
			}
		}
	}
}

// handle runs one event through scoring, detection, persistence, and
// alerting. Persistence completes before the event counts as
// processed; alerting is best-effort.
func (p *Pipeline) handle(event *AIEvent) {
	p.processor.Process(event)

	history := p.snapshotHistory()
	anomalies := p.detector.Evaluate(event, history)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.store.InsertEvent(ctx, event); err != nil {
		if p.log != nil {
			p.log.Error("", event.RequestID, "event persistence failed", map[string]interface{}{
				"event_id": event.ID,
				"error":    err.Error(),
			})
		}
	}

	for i := range anomalies {
		if err := p.store.InsertAnomaly(ctx, &anomalies[i]); err != nil && p.log != nil {
			p.log.Error("", event.RequestID, "anomaly persistence failed", map[string]interface{}{
				"anomaly_id": anomalies[i].AnomalyID,
				"error":      err.Error(),
			})
		}
		metrics.AnomaliesTotal.WithLabelValues(anomalies[i].Type, string(anomalies[i].Severity)).Inc()
		if anomalies[i].Severity.AtLeast(p.cfg.AlertSeverityFloor) {
			p.alerts.Emit(anomalies[i])
		}
	}

	p.appendHistory(event)
	metrics.EventsProcessed.Inc()

	p.mu.Lock()
	p.stats.Processed++
	p.mu.Unlock()
}

// flushPatterns evaluates the sliding-window rules and persists any
// findings.
func (p *Pipeline) flushPatterns(now time.Time) {
	history := p.snapshotHistory()
	if len(history) == 0 {
		return
	}

	anomalies := p.detector.EvaluatePatterns(history, now)
	if len(anomalies) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range anomalies {
		if err := p.store.InsertAnomaly(ctx, &anomalies[i]); err != nil && p.log != nil {
			p.log.Error("", "", "pattern anomaly persistence failed", map[string]interface{}{
				"anomaly_id": anomalies[i].AnomalyID,
				"error":      err.Error(),
			})
		}
		metrics.AnomaliesTotal.WithLabelValues(anomalies[i].Type, string(anomalies[i].Severity)).Inc()
		if anomalies[i].Severity.AtLeast(p.cfg.AlertSeverityFloor) {
			p.alerts.Emit(anomalies[i])
		}
	}
}

func (p *Pipeline) snapshotHistory() []AIEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AIEvent(nil), p.history...)
}

func (p *Pipeline) appendHistory(event *AIEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, *event)
	if len(p.history) > p.cfg.HistorySize {
		p.history = p.history[len(p.history)-p.cfg.HistorySize:]
	}
}

// SeedHistory preloads detector history. Used by tests and by replay
// on startup.
func (p *Pipeline) SeedHistory(events []AIEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, events...)
	if len(p.history) > p.cfg.HistorySize {
		p.history = p.history[len(p.history)-p.cfg.HistorySize:]
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.QueueDepth = len(p.queue)
	return s
}

// Shutdown stops the worker and drains the queue, bounded by ctx.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	close(p.done)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline shutdown: %w", ctx.Err())
	}
}
