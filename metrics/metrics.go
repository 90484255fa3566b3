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

// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts terminal responses by status and error code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentrygate",
		Name:      "requests_total",
		Help:      "Terminal gateway responses by status and error code.",
	}, []string{"status", "code"})

	// RoutingDecisions counts router outcomes.
	RoutingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentrygate",
		Name:      "routing_decisions_total",
		Help:      "Routing decisions by outcome (selected, hint_ignored, no_backend).",
	}, []string{"outcome"})

	// CascadeDepth observes how many attempts a request needed.
	CascadeDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentrygate",
		Name:      "cascade_attempts",
		Help:      "Backend attempts per request including the primary.",
		Buckets:   []float64{1, 2, 3, 4},
	})

	// BackendLatency observes invocation latency per backend.
	BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentrygate",
		Name:      "backend_latency_seconds",
		Help:      "Backend invocation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend"})

	// PIIDetections counts requests with PII by type.
	PIIDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentrygate",
		Name:      "pii_detections_total",
		Help:      "PII detections by type.",
	}, []string{"type"})

	// QueueDepth tracks the event pipeline queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentrygate",
		Name:      "pipeline_queue_depth",
		Help:      "Events waiting in the pipeline queue.",
	})

	// EventsDropped counts events lost to the drop-oldest policy.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentrygate",
		Name:      "pipeline_events_dropped_total",
		Help:      "Events dropped because the queue was full.",
	})

	// EventsProcessed counts events persisted by the pipeline.
	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentrygate",
		Name:      "pipeline_events_processed_total",
		Help:      "Events fully processed by the pipeline.",
	})

	// AnomaliesTotal counts detector findings.
	AnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentrygate",
		Name:      "anomalies_total",
		Help:      "Anomalies by type and severity.",
	}, []string{"type", "severity"})
)
