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

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileSink appends one JSON line per record. Writes are fsynced so
// violation records survive a crash.
type FileSink struct {
	mu   sync.Mutex
	w    io.Writer
	file *os.File
}

// NewFileSink opens (or creates) an append-only audit file.
func NewFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileSink{w: file, file: file}, nil
}

// NewWriterSink wraps an arbitrary writer. Used by tests.
func NewWriterSink(w io.Writer) *FileSink {
	return &FileSink{w: w}
}

// Write appends one record.
func (s *FileSink) Write(_ context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	if s.file != nil {
		return s.file.Sync()
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

var _ Sink = (*FileSink)(nil)
