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

// Package audit records security-relevant decisions on an append-only
// trail. Records carry principal hashes and PII type names only; raw
// prompts, responses, and PII values never enter the trail.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit record.
type EventType string

const (
	// EventAuthz records an authorization decision.
	EventAuthz EventType = "authz"
	// EventPII records a PII scan outcome.
	EventPII EventType = "pii"
	// EventProcessing records a completed or failed request.
	EventProcessing EventType = "processing"
	// EventViolation records a blocked or suspicious request.
	EventViolation EventType = "violation"
)

// Record is one audit trail entry.
type Record struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	RequestID     string            `json:"request_id"`
	PrincipalHash string            `json:"principal_hash"`
	EventType     EventType         `json:"event_type"`
	Outcome       string            `json:"outcome"`
	Attrs         map[string]string `json:"attrs,omitempty"`
}

// Sink persists audit records.
type Sink interface {
	Write(ctx context.Context, record *Record) error
	Close() error
}

// Trail queues records for a sink. Violations are written
// synchronously so a crash cannot lose them; everything else is
// async.
type Trail struct {
	sink  Sink
	queue chan *Record
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	written uint64
	failed  uint64
	dropped uint64
}

// TrailStats reports trail counters.
type TrailStats struct {
	Pending int
	Written uint64
	Failed  uint64
	Dropped uint64
}

// NewTrail starts a trail over the given sink.
func NewTrail(sink Sink, queueSize int) *Trail {
	if queueSize <= 0 {
		queueSize = 1000
	}
	t := &Trail{
		sink:  sink,
		queue: make(chan *Record, queueSize),
		done:  make(chan struct{}),
	}
	t.wg.Add(1)
	go t.worker()
	return t
}

// Log records an audit event. Violation records block until written.
func (t *Trail) Log(ctx context.Context, record *Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	if record.EventType == EventViolation {
		err := t.sink.Write(ctx, record)
		t.count(err)
		return err
	}

	select {
	case t.queue <- record:
		return nil
	default:
		// Queue full: write inline rather than drop the record.
		err := t.sink.Write(ctx, record)
		t.count(err)
		return err
	}
}

func (t *Trail) count(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.failed++
	} else {
		t.written++
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()
	for {
		select {
		case record := <-t.queue:
			t.count(t.sink.Write(context.Background(), record))
		case <-t.done:
			for {
				select {
				case record := <-t.queue:
					t.count(t.sink.Write(context.Background(), record))
				default:
					return
				}
			}
		}
	}
}

// Stats returns trail counters.
func (t *Trail) Stats() TrailStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrailStats{
		Pending: len(t.queue),
		Written: t.written,
		Failed:  t.failed,
		Dropped: t.dropped,
	}
}

// Shutdown drains the queue and closes the sink, bounded by ctx.
func (t *Trail) Shutdown(ctx context.Context) error {
	close(t.done)

	finished := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return t.sink.Close()
	case <-ctx.Done():
		return fmt.Errorf("audit trail shutdown: %w", ctx.Err())
	}
}
