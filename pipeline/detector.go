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
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DetectorConfig carries the anomaly thresholds. Zero values take the
// documented defaults.
type DetectorConfig struct {
	CostThresholdUSD   float64
	LatencyThresholdMs int64
	TokenThreshold     int

	SpikeFactor     float64
	SpikeWindow     time.Duration
	SpikeMinSamples int

	ErrorRateThreshold float64
	ErrorRateMinEvents int
	ErrorRateWindow    time.Duration

	RequestRatePerMin  float64
	CostRatePerHourUSD float64

	ModelErrorRate       float64
	ModelErrorMinSamples int
}

// DefaultDetectorConfig returns the shipped thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		CostThresholdUSD:     0.50,
		LatencyThresholdMs:   5000,
		TokenThreshold:       8000,
		SpikeFactor:          3,
		SpikeWindow:          10 * time.Minute,
		SpikeMinSamples:      5,
		ErrorRateThreshold:   0.10,
		ErrorRateMinEvents:   10,
		ErrorRateWindow:      5 * time.Minute,
		RequestRatePerMin:    50,
		CostRatePerHourUSD:   10,
		ModelErrorRate:       0.2,
		ModelErrorMinSamples: 5,
	}
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	d := DefaultDetectorConfig()
	if c.CostThresholdUSD == 0 {
		c.CostThresholdUSD = d.CostThresholdUSD
	}
	if c.LatencyThresholdMs == 0 {
		c.LatencyThresholdMs = d.LatencyThresholdMs
	}
	if c.TokenThreshold == 0 {
		c.TokenThreshold = d.TokenThreshold
	}
	if c.SpikeFactor == 0 {
		c.SpikeFactor = d.SpikeFactor
	}
	if c.SpikeWindow == 0 {
		c.SpikeWindow = d.SpikeWindow
	}
	if c.SpikeMinSamples == 0 {
		c.SpikeMinSamples = d.SpikeMinSamples
	}
	if c.ErrorRateThreshold == 0 {
		c.ErrorRateThreshold = d.ErrorRateThreshold
	}
	if c.ErrorRateMinEvents == 0 {
		c.ErrorRateMinEvents = d.ErrorRateMinEvents
	}
	if c.ErrorRateWindow == 0 {
		c.ErrorRateWindow = d.ErrorRateWindow
	}
	if c.RequestRatePerMin == 0 {
		c.RequestRatePerMin = d.RequestRatePerMin
	}
	if c.CostRatePerHourUSD == 0 {
		c.CostRatePerHourUSD = d.CostRatePerHourUSD
	}
	if c.ModelErrorRate == 0 {
		c.ModelErrorRate = d.ModelErrorRate
	}
	if c.ModelErrorMinSamples == 0 {
		c.ModelErrorMinSamples = d.ModelErrorMinSamples
	}
	return c
}

// AnomalyDetector evaluates events against fixed thresholds and
// sliding-window baselines. Event-local rules see each event plus a
// recent-history slice; pattern rules run over the whole window.
// Spike baselines are per-model; request-rate and cost-rate windows
// are global.
type AnomalyDetector struct {
	cfg DetectorConfig
}

// NewAnomalyDetector creates a detector with the given thresholds.
func NewAnomalyDetector(cfg DetectorConfig) *AnomalyDetector {
	return &AnomalyDetector{cfg: cfg.withDefaults()}
}

// Evaluate runs the event-local rules for one new event. history holds
// recent events in arrival order; only same-model events inside the
// spike window contribute to spike baselines.
func (d *AnomalyDetector) Evaluate(event *AIEvent, history []AIEvent) []Anomaly {
	var anomalies []Anomaly

	add := func(typ string, severity Severity, description, action string, details map[string]interface{}) {
		anomalies = append(anomalies, Anomaly{
			AnomalyID:         uuid.NewString(),
			EventID:           event.ID,
			Timestamp:         event.Timestamp,
			Type:              typ,
			Severity:          severity,
			Description:       description,
			Details:           details,
			RecommendedAction: action,
		})
	}

	if event.CostUSD > d.cfg.CostThresholdUSD {
		add("high_cost", SeverityHigh,
			fmt.Sprintf("request cost $%.4f exceeds threshold $%.2f", event.CostUSD, d.cfg.CostThresholdUSD),
			"review prompt size and model choice",
			map[string]interface{}{"cost_usd": event.CostUSD, "threshold_usd": d.cfg.CostThresholdUSD})
	}

	if event.LatencyMs > d.cfg.LatencyThresholdMs {
		add("high_latency", SeverityMedium,
			fmt.Sprintf("latency %dms exceeds threshold %dms", event.LatencyMs, d.cfg.LatencyThresholdMs),
			"check backend health and deadline budget",
			map[string]interface{}{"latency_ms": event.LatencyMs, "threshold_ms": d.cfg.LatencyThresholdMs})
	}

	if event.Tokens.Total > d.cfg.TokenThreshold {
		add("high_tokens", SeverityMedium,
			fmt.Sprintf("token usage %d exceeds threshold %d", event.Tokens.Total, d.cfg.TokenThreshold),
			"consider truncating input or lowering max_tokens",
			map[string]interface{}{"tokens": event.Tokens.Total, "threshold": d.cfg.TokenThreshold})
	}

	if event.HasPII {
		add("pii_detected", SeverityHigh,
			"request contained personally identifiable information",
			"verify routing policy and redaction settings",
			map[string]interface{}{"pii_types": event.PIITypes})
	}

	if event.InjectionDetected {
		add("prompt_injection", SeverityCritical,
			"prompt matched injection patterns",
			"review source application and consider blocking",
			map[string]interface{}{"model": event.Model})
	}

	if !event.Success {
		add("request_failure", SeverityHigh,
			fmt.Sprintf("request failed with code %s", event.ErrorCode),
			"inspect backend logs for the correlation id",
			map[string]interface{}{"error_code": event.ErrorCode})
	}

	costMean, latMean, samples := d.modelBaseline(event, history)
	if samples >= d.cfg.SpikeMinSamples {
		if costMean > 0 && event.CostUSD > d.cfg.SpikeFactor*costMean {
			add("cost_spike", SeverityHigh,
				fmt.Sprintf("cost $%.4f is %.1fx the model mean $%.4f", event.CostUSD, event.CostUSD/costMean, costMean),
				"investigate the calling application for runaway prompts",
				map[string]interface{}{"cost_usd": event.CostUSD, "mean_usd": costMean, "samples": samples})
		}
		if latMean > 0 && float64(event.LatencyMs) > d.cfg.SpikeFactor*latMean {
			add("latency_spike", SeverityHigh,
				fmt.Sprintf("latency %dms is %.1fx the model mean %.0fms", event.LatencyMs, float64(event.LatencyMs)/latMean, latMean),
				"check provider status and network path",
				map[string]interface{}{"latency_ms": event.LatencyMs, "mean_ms": latMean, "samples": samples})
		}
	}

	return anomalies
}

// modelBaseline computes per-model cost and latency means over the
// spike window, excluding the event itself.
func (d *AnomalyDetector) modelBaseline(event *AIEvent, history []AIEvent) (costMean, latMean float64, samples int) {
	cutoff := event.Timestamp.Add(-d.cfg.SpikeWindow)

	var costSum, latSum float64
	for i := range history {
		h := &history[i]
		if h.ID == event.ID || h.Model != event.Model || h.Timestamp.Before(cutoff) {
			continue
		}
		costSum += h.CostUSD
		latSum += float64(h.LatencyMs)
		samples++
	}

	if samples == 0 {
		return 0, 0, 0
	}
	return costSum / float64(samples), latSum / float64(samples), samples
}

// EvaluatePatterns runs the sliding-window rules over recent history.
// Called when the pipeline flushes or on demand.
func (d *AnomalyDetector) EvaluatePatterns(history []AIEvent, now time.Time) []Anomaly {
	var anomalies []Anomaly

	add := func(typ string, severity Severity, description, action string, details map[string]interface{}) {
		anomalies = append(anomalies, Anomaly{
			AnomalyID:         uuid.NewString(),
			Timestamp:         now,
			Type:              typ,
			Severity:          severity,
			Description:       description,
			Details:           details,
			RecommendedAction: action,
		})
	}

	// Global error rate over the error window
	errCutoff := now.Add(-d.cfg.ErrorRateWindow)
	var windowTotal, windowErrors int
	for i := range history {
		if history[i].Timestamp.Before(errCutoff) {
			continue
		}
		windowTotal++
		if !history[i].Success {
			windowErrors++
		}
	}
	if windowTotal >= d.cfg.ErrorRateMinEvents {
		rate := float64(windowErrors) / float64(windowTotal)
		if rate > d.cfg.ErrorRateThreshold {
			add("high_error_rate", SeverityCritical,
				fmt.Sprintf("error rate %.2f over %d events", rate, windowTotal),
				"page on-call; a backend or policy change is failing requests",
				map[string]interface{}{"error_rate": rate, "events": windowTotal})
		}
	}

	// Global request rate over the last minute
	minuteCutoff := now.Add(-time.Minute)
	perMinute := 0
	for i := range history {
		if !history[i].Timestamp.Before(minuteCutoff) {
			perMinute++
		}
	}
	if float64(perMinute) > d.cfg.RequestRatePerMin {
		add("high_request_rate", SeverityMedium,
			fmt.Sprintf("%d requests in the last minute", perMinute),
			"confirm traffic is expected; consider rate limits",
			map[string]interface{}{"requests_per_min": perMinute})
	}

	// Global cost rate over the last hour
	hourCutoff := now.Add(-time.Hour)
	var hourCost float64
	for i := range history {
		if !history[i].Timestamp.Before(hourCutoff) {
			hourCost += history[i].CostUSD
		}
	}
	if hourCost > d.cfg.CostRatePerHourUSD {
		add("high_cost_rate", SeverityHigh,
			fmt.Sprintf("$%.2f spent in the last hour", hourCost),
			"review per-principal cost ceilings",
			map[string]interface{}{"cost_per_hour_usd": hourCost})
	}

	// Per-model error rates
	type modelStats struct{ total, errors int }
	perModel := make(map[string]*modelStats)
	for i := range history {
		m := history[i].Model
		st := perModel[m]
		if st == nil {
			st = &modelStats{}
			perModel[m] = st
		}
		st.total++
		if !history[i].Success {
			st.errors++
		}
	}
	for model, st := range perModel {
		if st.total < d.cfg.ModelErrorMinSamples {
			continue
		}
		rate := float64(st.errors) / float64(st.total)
		if rate > d.cfg.ModelErrorRate {
			add("model_errors", SeverityHigh,
				fmt.Sprintf("model %s error rate %.2f over %d samples", model, rate, st.total),
				"mark the backend degraded or remove it from the catalog",
				map[string]interface{}{"model": model, "error_rate": rate, "samples": st.total})
		}
	}

	return anomalies
}
