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

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"sentrygate/platform/pipeline"
	"sentrygate/platform/shared/contract"
)

// Server exposes the gateway over HTTP: the processing endpoint plus
// health, statistics, anomaly, and Prometheus metrics endpoints.
type Server struct {
	gateway *Gateway
	store   pipeline.EventStore
}

// NewServer creates the HTTP surface.
func NewServer(gateway *Gateway, store pipeline.EventStore) *Server {
	return &Server{gateway: gateway, store: store}
}

// Router builds the mux with CORS applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/process", s.handleProcess).Methods("POST")
	r.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/api/v1/anomalies", s.handleAnomalies).Methods("GET")
	r.HandleFunc("/api/v1/events/recent", s.handleRecentEvents).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// httpStatusFor maps wire error codes onto HTTP statuses.
func httpStatusFor(resp *contract.Response) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case contract.ErrSchemaInvalid, contract.ErrClockSkew:
		return http.StatusBadRequest
	case contract.ErrAuthInvalid, contract.ErrAuthExpired:
		return http.StatusUnauthorized
	case contract.ErrAuthzDenied, contract.ErrPIIRoutingBlocked:
		return http.StatusForbidden
	case contract.ErrRateLimited:
		return http.StatusTooManyRequests
	case contract.ErrNoBackendAvailable:
		return http.StatusServiceUnavailable
	case contract.ErrBackendTimeout:
		return http.StatusGatewayTimeout
	case contract.ErrBackendError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.gateway.validator.maxPayloadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	resp := s.gateway.Handle(r.Context(), body)
	writeJSON(w, httpStatusFor(resp), resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window_minutes"); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			window = time.Duration(minutes) * time.Minute
		}
	}

	stats, err := s.store.Statistics(r.Context(), time.Now().Add(-window))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "statistics unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	minSeverity := pipeline.SeverityMedium
	if raw := r.URL.Query().Get("min_severity"); raw != "" {
		switch pipeline.Severity(raw) {
		case pipeline.SeverityMedium, pipeline.SeverityHigh, pipeline.SeverityCritical:
			minSeverity = pipeline.Severity(raw)
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown severity"})
			return
		}
	}

	limit := queryLimit(r, 50)
	anomalies, err := s.store.AnomaliesBySeverity(r.Context(), minSeverity, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "anomalies unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	events, err := s.store.RecentEvents(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "events unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func queryLimit(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
