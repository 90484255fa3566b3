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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// AlertSink receives anomalies of severity >= the configured floor.
// Emission is best-effort and must never block persistence.
type AlertSink interface {
	Emit(anomaly Anomaly)
}

// WriterAlertSink writes one JSON line per alert. The default sink
// writes to stderr.
type WriterAlertSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStderrAlertSink returns the default sink.
func NewStderrAlertSink() *WriterAlertSink {
	return &WriterAlertSink{w: os.Stderr}
}

// NewWriterAlertSink returns a sink writing to w.
func NewWriterAlertSink(w io.Writer) *WriterAlertSink {
	return &WriterAlertSink{w: w}
}

func (s *WriterAlertSink) Emit(anomaly Anomaly) {
	line, err := json.Marshal(map[string]interface{}{
		"alert":              true,
		"anomaly_id":         anomaly.AnomalyID,
		"event_id":           anomaly.EventID,
		"timestamp":          anomaly.Timestamp,
		"type":               anomaly.Type,
		"severity":           anomaly.Severity,
		"description":        anomaly.Description,
		"recommended_action": anomaly.RecommendedAction,
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, string(line))
}
