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
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSink writes audit records to an append-only table.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens a pool and ensures the table exists.
func NewPostgresSink(databaseURL string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	sink := &PostgresSink{db: db}
	if err := sink.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// NewPostgresSinkWithDB wraps an existing handle.
func NewPostgresSinkWithDB(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_records (
		id VARCHAR(255) PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		request_id VARCHAR(255) NOT NULL,
		principal_hash VARCHAR(64) NOT NULL,
		event_type VARCHAR(20) NOT NULL,
		outcome VARCHAR(100) NOT NULL,
		attrs JSONB,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_records_request_id ON audit_records(request_id);
	CREATE INDEX IF NOT EXISTS idx_audit_records_event_type ON audit_records(event_type);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// Write inserts one record.
func (s *PostgresSink) Write(ctx context.Context, record *Record) error {
	attrsJSON, err := json.Marshal(record.Attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal attrs: %w", err)
	}

	query := `
		INSERT INTO audit_records (id, timestamp, request_id, principal_hash, event_type, outcome, attrs)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.Timestamp,
		record.RequestID,
		record.PrincipalHash,
		string(record.EventType),
		record.Outcome,
		attrsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

var _ Sink = (*PostgresSink)(nil)
