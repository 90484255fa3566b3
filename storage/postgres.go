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

// Package storage provides the durable event and anomaly stores behind
// the monitoring pipeline.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"sentrygate/platform/pipeline"
)

// PostgresStore implements pipeline.EventStore on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and ensures the schema
// exists.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &PostgresStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing handle. The caller owns the
// handle's lifecycle; Close is still safe to call.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS ai_events (
		id VARCHAR(255) PRIMARY KEY,
		request_id VARCHAR(255) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		principal_hash VARCHAR(64) NOT NULL,
		provider VARCHAR(100) NOT NULL,
		model VARCHAR(200) NOT NULL,
		prompt_fingerprint VARCHAR(64) NOT NULL,
		response_fingerprint VARCHAR(64),
		latency_ms BIGINT NOT NULL,
		prompt_tokens INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		total_tokens INTEGER NOT NULL,
		cost_usd DECIMAL(12, 6) NOT NULL,
		success BOOLEAN NOT NULL,
		error_code VARCHAR(50),
		has_pii BOOLEAN NOT NULL,
		pii_types JSONB,
		injection_detected BOOLEAN NOT NULL,
		risk_level VARCHAR(20) NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_ai_events_timestamp ON ai_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_ai_events_provider ON ai_events(provider);
	CREATE INDEX IF NOT EXISTS idx_ai_events_model ON ai_events(model);
	CREATE INDEX IF NOT EXISTS idx_ai_events_risk_level ON ai_events(risk_level);

	CREATE TABLE IF NOT EXISTS ai_anomalies (
		anomaly_id VARCHAR(255) PRIMARY KEY,
		event_id VARCHAR(255),
		timestamp TIMESTAMPTZ NOT NULL,
		type VARCHAR(50) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		description TEXT NOT NULL,
		details JSONB,
		recommended_action TEXT,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_ai_anomalies_timestamp ON ai_anomalies(timestamp);
	CREATE INDEX IF NOT EXISTS idx_ai_anomalies_severity ON ai_anomalies(severity);
	`

	_, err := s.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// InsertEvent persists one monitoring event.
func (s *PostgresStore) InsertEvent(ctx context.Context, event *pipeline.AIEvent) error {
	piiTypesJSON, err := json.Marshal(event.PIITypes)
	if err != nil {
		return fmt.Errorf("failed to marshal pii types: %w", err)
	}
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO ai_events (
			id, request_id, timestamp, principal_hash, provider, model,
			prompt_fingerprint, response_fingerprint, latency_ms,
			prompt_tokens, completion_tokens, total_tokens, cost_usd,
			success, error_code, has_pii, pii_types, injection_detected,
			risk_level, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.RequestID,
		event.Timestamp,
		event.PrincipalHash,
		event.Provider,
		event.Model,
		event.PromptFingerprint,
		event.ResponseFingerprint,
		event.LatencyMs,
		event.Tokens.Prompt,
		event.Tokens.Completion,
		event.Tokens.Total,
		event.CostUSD,
		event.Success,
		event.ErrorCode,
		event.HasPII,
		piiTypesJSON,
		event.InjectionDetected,
		string(event.RiskLevel),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// InsertAnomaly persists one detector finding.
func (s *PostgresStore) InsertAnomaly(ctx context.Context, anomaly *pipeline.Anomaly) error {
	detailsJSON, err := json.Marshal(anomaly.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO ai_anomalies (
			anomaly_id, event_id, timestamp, type, severity,
			description, details, recommended_action
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.ExecContext(ctx, query,
		anomaly.AnomalyID,
		anomaly.EventID,
		anomaly.Timestamp,
		anomaly.Type,
		string(anomaly.Severity),
		anomaly.Description,
		detailsJSON,
		anomaly.RecommendedAction,
	)
	if err != nil {
		return fmt.Errorf("failed to insert anomaly: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events, newest first.
func (s *PostgresStore) RecentEvents(ctx context.Context, limit int) ([]pipeline.AIEvent, error) {
	query := `
		SELECT id, request_id, timestamp, principal_hash, provider, model,
			   prompt_fingerprint, response_fingerprint, latency_ms,
			   prompt_tokens, completion_tokens, total_tokens, cost_usd,
			   success, error_code, has_pii, pii_types, injection_detected,
			   risk_level, metadata
		FROM ai_events
		ORDER BY timestamp DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []pipeline.AIEvent
	for rows.Next() {
		var event pipeline.AIEvent
		var errorCode, responseFP sql.NullString
		var piiTypesJSON, metadataJSON []byte
		var riskLevel string

		err := rows.Scan(
			&event.ID,
			&event.RequestID,
			&event.Timestamp,
			&event.PrincipalHash,
			&event.Provider,
			&event.Model,
			&event.PromptFingerprint,
			&responseFP,
			&event.LatencyMs,
			&event.Tokens.Prompt,
			&event.Tokens.Completion,
			&event.Tokens.Total,
			&event.CostUSD,
			&event.Success,
			&errorCode,
			&event.HasPII,
			&piiTypesJSON,
			&event.InjectionDetected,
			&riskLevel,
			&metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.ErrorCode = errorCode.String
		event.ResponseFingerprint = responseFP.String
		event.RiskLevel = pipeline.RiskLevel(riskLevel)
		if len(piiTypesJSON) > 0 {
			if err := json.Unmarshal(piiTypesJSON, &event.PIITypes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal pii types: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// severityIn expands a minimum severity into the matching set for a
// SQL ANY clause.
func severityIn(min pipeline.Severity) []string {
	switch min {
	case pipeline.SeverityCritical:
		return []string{"critical"}
	case pipeline.SeverityHigh:
		return []string{"high", "critical"}
	}
	return []string{"medium", "high", "critical"}
}

// AnomaliesBySeverity returns anomalies at or above minSeverity,
// newest first.
func (s *PostgresStore) AnomaliesBySeverity(ctx context.Context, minSeverity pipeline.Severity, limit int) ([]pipeline.Anomaly, error) {
	query := `
		SELECT anomaly_id, event_id, timestamp, type, severity,
			   description, details, recommended_action
		FROM ai_anomalies
		WHERE severity = ANY($1)
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(severityIn(minSeverity)), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []pipeline.Anomaly
	for rows.Next() {
		var anomaly pipeline.Anomaly
		var eventID, action sql.NullString
		var detailsJSON []byte
		var severity string

		err := rows.Scan(
			&anomaly.AnomalyID,
			&eventID,
			&anomaly.Timestamp,
			&anomaly.Type,
			&severity,
			&anomaly.Description,
			&detailsJSON,
			&action,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}

		anomaly.EventID = eventID.String
		anomaly.RecommendedAction = action.String
		anomaly.Severity = pipeline.Severity(severity)
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &anomaly.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}

		anomalies = append(anomalies, anomaly)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomalies: %w", err)
	}
	return anomalies, nil
}

// Statistics aggregates events since the given time.
func (s *PostgresStore) Statistics(ctx context.Context, since time.Time) (*pipeline.Statistics, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(cost_usd), 0),
			COALESCE(AVG(latency_ms), 0),
			COALESCE(MAX(latency_ms), 0),
			COUNT(*) FILTER (WHERE has_pii),
			COUNT(*) FILTER (WHERE injection_detected)
		FROM ai_events
		WHERE timestamp >= $1
	`

	var stats pipeline.Statistics
	err := s.db.QueryRowContext(ctx, query, since).Scan(
		&stats.TotalEvents,
		&stats.SuccessfulCount,
		&stats.TotalTokens,
		&stats.TotalCostUSD,
		&stats.AvgLatencyMs,
		&stats.MaxLatencyMs,
		&stats.PIIEvents,
		&stats.InjectionEvents,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate statistics: %w", err)
	}

	if stats.TotalEvents > 0 {
		stats.SuccessRate = float64(stats.SuccessfulCount) / float64(stats.TotalEvents)
	}

	anomalyQuery := `SELECT COUNT(*) FROM ai_anomalies WHERE timestamp >= $1`
	if err := s.db.QueryRowContext(ctx, anomalyQuery, since).Scan(&stats.AnomalyCount); err != nil {
		return nil, fmt.Errorf("failed to count anomalies: %w", err)
	}

	return &stats, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ensure PostgresStore implements pipeline.EventStore.
var _ pipeline.EventStore = (*PostgresStore)(nil)
