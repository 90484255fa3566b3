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

// Package gateway orchestrates the request path: validation,
// authentication, authorization, security screening, routing with
// cascade fallback, backend invocation, and response assembly. Every
// terminal response emits exactly one monitoring event and at least
// one audit record.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sentrygate/platform/audit"
	"sentrygate/platform/backends"
	"sentrygate/platform/common/pricing"
	"sentrygate/platform/metrics"
	"sentrygate/platform/pipeline"
	"sentrygate/platform/routing"
	"sentrygate/platform/security"
	"sentrygate/platform/shared/contract"
	"sentrygate/platform/shared/logger"
)

// Config tunes the orchestrator. Zero values take the defaults.
type Config struct {
	MaxPayloadBytes  int64
	ClockSkew        time.Duration
	MinDeadlineSlice time.Duration
	DefaultMaxTokens int
}

// Gateway binds the request-path components. Stateless between
// requests; safe for concurrent use.
type Gateway struct {
	cfg        Config
	validator  *Validator
	tokens     *security.TokenService
	authorizer *security.Authorizer
	pii        *security.PIIDetector
	injection  *security.InjectionDetector
	registry   *routing.Registry
	router     *routing.Router
	events     *pipeline.Pipeline
	trail      *audit.Trail
	idem       IdempotencyCache
	log        *logger.Logger
}

// Deps are the collaborators constructed at startup.
type Deps struct {
	Tokens     *security.TokenService
	Authorizer *security.Authorizer
	PII        *security.PIIDetector
	Injection  *security.InjectionDetector
	Registry   *routing.Registry
	Router     *routing.Router
	Events     *pipeline.Pipeline
	Trail      *audit.Trail
	Idem       IdempotencyCache
	Log        *logger.Logger
}

// New creates a Gateway.
func New(cfg Config, deps Deps) *Gateway {
	if cfg.MinDeadlineSlice <= 0 {
		cfg.MinDeadlineSlice = 200 * time.Millisecond
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 256
	}
	return &Gateway{
		cfg:        cfg,
		validator:  NewValidator(cfg.MaxPayloadBytes, cfg.ClockSkew),
		tokens:     deps.Tokens,
		authorizer: deps.Authorizer,
		pii:        deps.PII,
		injection:  deps.Injection,
		registry:   deps.Registry,
		router:     deps.Router,
		events:     deps.Events,
		trail:      deps.Trail,
		idem:       deps.Idem,
		log:        deps.Log,
	}
}

// exchange is the per-request state threaded through the phases.
type exchange struct {
	raw       []byte
	req       *contract.Request
	principal *security.Principal
	payload   contract.LLMPayload
	prompt    string

	piiResult security.PIIResult
	injected  bool

	started  time.Time
	attempts int
	event    *pipeline.AIEvent
	cacheHit bool
}

// Handle runs one request through the full state machine and returns
// the terminal response. The caller's ctx deadline bounds execution
// together with config.timeout_ms.
func (g *Gateway) Handle(ctx context.Context, raw []byte) *contract.Response {
	ex := &exchange{
		raw:     raw,
		started: time.Now(),
		event: &pipeline.AIEvent{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]string{},
		},
	}

	resp := g.process(ctx, ex)

	metrics.RequestsTotal.WithLabelValues(string(resp.Status), errorCode(resp)).Inc()

	if !ex.cacheHit {
		g.finishEvent(ex, resp)
		g.events.Emit(ex.event)
	}
	return resp
}

// process runs the phases in order and returns at the first terminal
// outcome.
func (g *Gateway) process(ctx context.Context, ex *exchange) *contract.Response {
	// VALIDATED
	req, verr := g.validator.Validate(ex.raw)
	if verr != nil {
		ex.event.RequestID = peekRequestID(ex.raw)
		g.logError(ex, "request rejected", verr.Code, verr)
		return g.errorResponse(ex, verr.Code, verr.Error())
	}
	ex.req = req
	ex.event.RequestID = req.RequestID

	// AUTHENTICATED
	principal, err := g.tokens.Authenticate(req.Auth.Token)
	if err != nil {
		code := contract.ErrAuthInvalid
		if errors.Is(err, security.ErrTokenExpired) {
			code = contract.ErrAuthExpired
		}
		g.auditAuthz(ctx, ex, "denied", map[string]string{"reason": "authentication failed"})
		g.logError(ex, "authentication failed", code, err)
		return g.errorResponse(ex, code, "authentication failed")
	}
	ex.principal = principal
	ex.event.PrincipalHash = security.PrincipalHash(principal.Subject)

	if req.Auth.Signature != "" && !g.tokens.VerifyPayloadSignature(req.Payload, req.Auth.Signature) {
		g.auditAuthz(ctx, ex, "denied", map[string]string{"reason": "payload signature mismatch"})
		g.logError(ex, "payload signature mismatch", contract.ErrAuthInvalid, nil)
		return g.errorResponse(ex, contract.ErrAuthInvalid, "authentication failed")
	}

	// Idempotency replay short-circuits before any further work.
	if req.IdempotencyKey != "" {
		if cached := g.replayCached(ctx, ex); cached != nil {
			ex.cacheHit = true
			return cached
		}
	}

	if err := json.Unmarshal(req.Payload, &ex.payload); err != nil {
		g.logError(ex, "payload decode failed", contract.ErrSchemaInvalid, err)
		return g.errorResponse(ex, contract.ErrSchemaInvalid, "payload: malformed for schema "+req.PayloadSchema)
	}
	ex.prompt = ex.payload.Prompt
	ex.event.PromptFingerprint = pipeline.Fingerprint(ex.prompt)
	ex.event.Model = ex.payload.Model

	// AUTHORIZED
	estCost := g.estimateCost(ex)
	allowed, reason := g.authorizer.Authorize(principal, security.PermExecute, security.ResourceAttributes{
		Sensitivity:    req.Config.Sensitivity,
		ProcessingHint: req.Config.ProcessingHint,
		EstimatedCost:  estCost,
	})
	if !allowed {
		g.auditAuthz(ctx, ex, "denied", map[string]string{"reason": reason})
		g.logError(ex, "authorization denied", contract.ErrAuthzDenied, nil)
		return g.errorResponse(ex, contract.ErrAuthzDenied, reason)
	}
	g.auditAuthz(ctx, ex, "allowed", nil)

	// SCREENED
	g.screen(ctx, ex)

	// ROUTED
	decision, routeErr := g.route(ctx, ex)
	if routeErr != nil {
		return g.errorResponse(ex, routeErr.code, routeErr.message)
	}

	// EXECUTING with cascade
	return g.invoke(ctx, ex, decision)
}

// screen runs the PII and injection detectors per the request config.
func (g *Gateway) screen(ctx context.Context, ex *exchange) {
	if ex.req.Config.EnablePIIDetection {
		ex.piiResult = g.pii.Scan(ex.prompt)
		if ex.piiResult.HasPII {
			types := piiTypeNames(ex.piiResult.Types)
			for _, t := range types {
				metrics.PIIDetections.WithLabelValues(t).Inc()
			}
			g.auditRecord(ctx, ex, audit.EventPII, "detected", map[string]string{
				"pii_types": strings.Join(types, ","),
			})
		}
	}
	if ex.req.Config.EnableInjectionDetection {
		ex.injected = g.injection.Detect(ex.prompt)
	}
}

type routeError struct {
	code    string
	message string
}

// route runs the router and resolves the empty-decision cases. When
// PII is the only reason no backend survives, the request is blocked
// with PII_ROUTING_BLOCKED and a violation record names the types.
func (g *Gateway) route(ctx context.Context, ex *exchange) (routing.Decision, *routeError) {
	constraints := routing.Constraints{
		Capability:      InferCapability(ex.req.PayloadSchema),
		Sensitivity:     ex.req.Config.Sensitivity,
		Hint:            ex.req.Config.ProcessingHint,
		MaxCost:         g.authorizer.CostCeiling(ex.principal.Role),
		EstimatedTokens: g.estimateTokens(ex),
		HasPII:          ex.piiResult.HasPII,
		UseCascade:      true,
	}

	decision := g.router.Route(constraints)
	if !decision.Empty() {
		if decision.HintIgnored {
			metrics.RoutingDecisions.WithLabelValues("hint_ignored").Inc()
			ex.event.Metadata["hint_ignored"] = "true"
		} else {
			metrics.RoutingDecisions.WithLabelValues("selected").Inc()
		}
		return decision, nil
	}

	metrics.RoutingDecisions.WithLabelValues("no_backend").Inc()

	if constraints.HasPII {
		// Re-run without the PII predicate: if candidates exist, PII
		// compatibility was the blocker.
		relaxed := constraints
		relaxed.HasPII = false
		if !g.router.Route(relaxed).Empty() {
			types := piiTypeNames(ex.piiResult.Types)
			g.auditRecord(ctx, ex, audit.EventViolation, "pii_routing_blocked", map[string]string{
				"pii_types": strings.Join(types, ","),
			})
			g.logError(ex, "pii routing blocked", contract.ErrPIIRoutingBlocked, nil)
			return routing.Decision{}, &routeError{
				code:    contract.ErrPIIRoutingBlocked,
				message: "no PII-capable backend satisfies the request constraints",
			}
		}
	}

	g.logError(ex, "no backend available", contract.ErrNoBackendAvailable, nil)
	return routing.Decision{}, &routeError{
		code:    contract.ErrNoBackendAvailable,
		message: "no backend satisfies the request constraints",
	}
}

// invoke walks the cascade. Each attempt gets the remaining deadline;
// the cascade halts when the budget drops below the minimum slice.
func (g *Gateway) invoke(ctx context.Context, ex *exchange, decision routing.Decision) *contract.Response {
	deadline := ex.started.Add(time.Duration(ex.req.Config.TimeoutMs) * time.Millisecond)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	params := backends.ProcessParams{
		Model:        ex.payload.Model,
		MaxTokens:    ex.payload.MaxTokens,
		Temperature:  ex.payload.Temperature,
		SystemPrompt: ex.payload.SystemPrompt,
	}

	var lastFailure *backends.Failure
	for i, id := range decision.Backends {
		if time.Until(deadline) < g.cfg.MinDeadlineSlice {
			break
		}

		entry, ok := g.registry.Get(id)
		if !ok {
			continue
		}

		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		attemptStart := time.Now()
		result, err := entry.Adapter.Process(attemptCtx, ex.prompt, params)
		cancel()
		latency := time.Since(attemptStart)
		ex.attempts++

		metrics.BackendLatency.WithLabelValues(id).Observe(latency.Seconds())

		if err != nil {
			failure := backends.AsFailure(err)
			lastFailure = failure
			g.auditRecord(ctx, ex, audit.EventProcessing, string(failure.Code), map[string]string{
				"backend": id,
				"attempt": strconv.Itoa(ex.attempts),
			})
			if failure.Retriable() && i < len(decision.Backends)-1 {
				continue
			}
			break
		}

		g.auditRecord(ctx, ex, audit.EventProcessing, "success", map[string]string{
			"backend": id,
			"attempt": strconv.Itoa(ex.attempts),
		})

		if result.Confidence < entry.Backend.ConfidenceThreshold {
			// Soft failure: cascade in hybrid mode, otherwise record it.
			if ex.req.Config.ProcessingHint == contract.HintHybrid && i < len(decision.Backends)-1 {
				continue
			}
			ex.event.Metadata["low_confidence"] = "true"
		}

		metrics.CascadeDepth.Observe(float64(ex.attempts))
		return g.okResponse(ex, id, result, latency, ex.attempts > 1)
	}

	metrics.CascadeDepth.Observe(float64(ex.attempts))

	if lastFailure == nil {
		// Budget exhausted before any attempt completed.
		g.logError(ex, "deadline exhausted before invocation", contract.ErrBackendTimeout, nil)
		return g.errorResponse(ex, contract.ErrBackendTimeout, "request deadline exhausted")
	}

	code := failureCode(lastFailure)
	g.logError(ex, "all backend attempts failed", code, lastFailure)
	return g.errorResponse(ex, code, lastFailure.Message)
}

// replayCached returns the prior terminal response for this
// (subject, idempotency_key), if one is cached.
func (g *Gateway) replayCached(ctx context.Context, ex *exchange) *contract.Response {
	key := IdempotencyKey(ex.principal.Subject, ex.req.IdempotencyKey)
	data, ok, err := g.idem.Get(ctx, key)
	if err != nil {
		g.log.Warn("", ex.req.RequestID, "idempotency cache read failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	if !ok {
		return nil
	}

	var resp contract.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}
	return &resp
}

func (g *Gateway) cacheResponse(ctx context.Context, ex *exchange, resp *contract.Response) {
	if ex.req == nil || ex.principal == nil || ex.req.IdempotencyKey == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	key := IdempotencyKey(ex.principal.Subject, ex.req.IdempotencyKey)
	if err := g.idem.Put(ctx, key, data); err != nil {
		g.log.Warn("", ex.req.RequestID, "idempotency cache write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// okResponse assembles the success envelope and caches it.
func (g *Gateway) okResponse(ex *exchange, backendID string, result *backends.ProcessResult, latency time.Duration, fallbackUsed bool) *contract.Response {
	resp := &contract.Response{
		MPCVersion: contract.ProtocolVersion,
		RequestID:  ex.req.RequestID,
		ResponseID: uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Status:     contract.StatusOK,
		Result: &contract.Result{
			Response:         result.Response,
			Tokens:           result.TotalTokens(),
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
		},
		Processing: contract.ProcessingInfo{
			Backend:      backendID,
			LatencyMs:    latency.Milliseconds(),
			CostUSD:      result.CostUSD,
			Confidence:   result.Confidence,
			FallbackUsed: fallbackUsed,
		},
		SecurityFlags: contract.SecurityFlags{
			HasPII:            ex.piiResult.HasPII,
			InjectionDetected: ex.injected,
		},
	}

	ex.event.Provider, _ = splitBackendID(backendID)
	ex.event.Tokens = pipeline.TokenCounts{
		Prompt:     result.PromptTokens,
		Completion: result.CompletionTokens,
		Total:      result.TotalTokens(),
	}
	ex.event.CostUSD = result.CostUSD
	ex.event.ResponseFingerprint = pipeline.Fingerprint(result.Response)
	ex.event.Metadata["backend"] = backendID

	g.cacheResponse(context.Background(), ex, resp)
	return resp
}

// errorResponse assembles the failure envelope. Terminal failures are
// cached under the idempotency key; retriable codes are not, so the
// documented-safe retry re-executes instead of replaying the failure.
func (g *Gateway) errorResponse(ex *exchange, code, message string) *contract.Response {
	requestID := ""
	if ex.req != nil {
		requestID = ex.req.RequestID
	} else {
		requestID = ex.event.RequestID
	}

	resp := &contract.Response{
		MPCVersion: contract.ProtocolVersion,
		RequestID:  requestID,
		ResponseID: uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Status:     contract.StatusError,
		Error:      &contract.ErrorInfo{Code: code, Message: message},
		SecurityFlags: contract.SecurityFlags{
			HasPII:            ex.piiResult.HasPII,
			InjectionDetected: ex.injected,
		},
	}

	if !retriableError(code) {
		g.cacheResponse(context.Background(), ex, resp)
	}
	return resp
}

// retriableError reports whether code is documented safe to retry with
// the same idempotency key.
func retriableError(code string) bool {
	switch code {
	case contract.ErrBackendTimeout, contract.ErrRateLimited, contract.ErrInternal:
		return true
	}
	return false
}

// finishEvent derives the final event fields from the response.
func (g *Gateway) finishEvent(ex *exchange, resp *contract.Response) {
	ev := ex.event
	ev.LatencyMs = time.Since(ex.started).Milliseconds()
	ev.Success = resp.Status == contract.StatusOK
	if resp.Error != nil {
		ev.ErrorCode = resp.Error.Code
	}
	ev.HasPII = ex.piiResult.HasPII
	ev.PIITypes = piiTypeNames(ex.piiResult.Types)
	ev.InjectionDetected = ex.injected
	if ex.attempts > 0 {
		ev.Metadata["attempts"] = strconv.Itoa(ex.attempts)
	}
}

// estimateTokens approximates prompt tokens plus the completion
// budget.
func (g *Gateway) estimateTokens(ex *exchange) int {
	maxTokens := ex.payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.cfg.DefaultMaxTokens
	}
	return len(ex.prompt)/4 + maxTokens
}

// estimateCost prices the token estimate against the requested model,
// falling back to the default pricing when the model is unknown.
func (g *Gateway) estimateCost(ex *exchange) float64 {
	maxTokens := ex.payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.cfg.DefaultMaxTokens
	}
	return pricing.CostUSD("", ex.payload.Model, len(ex.prompt)/4, maxTokens)
}

func (g *Gateway) auditAuthz(ctx context.Context, ex *exchange, outcome string, attrs map[string]string) {
	g.auditRecord(ctx, ex, audit.EventAuthz, outcome, attrs)
}

func (g *Gateway) auditRecord(ctx context.Context, ex *exchange, eventType audit.EventType, outcome string, attrs map[string]string) {
	record := &audit.Record{
		RequestID:     ex.event.RequestID,
		PrincipalHash: ex.event.PrincipalHash,
		EventType:     eventType,
		Outcome:       outcome,
		Attrs:         attrs,
	}
	if err := g.trail.Log(ctx, record); err != nil {
		g.log.Error("", ex.event.RequestID, "audit write failed", map[string]interface{}{
			"event_type": string(eventType),
			"error":      err.Error(),
		})
	}
}

func (g *Gateway) logError(ex *exchange, message, code string, err error) {
	g.log.ErrorWithCode("", ex.event.RequestID, message, code, err, nil)
}

// failureCode maps a backend failure to the wire error code.
func failureCode(f *backends.Failure) string {
	switch f.Code {
	case backends.FailTimeout:
		return contract.ErrBackendTimeout
	case backends.FailRateLimited:
		return contract.ErrRateLimited
	}
	return contract.ErrBackendError
}

func errorCode(resp *contract.Response) string {
	if resp.Error != nil {
		return resp.Error.Code
	}
	return "none"
}

// peekRequestID extracts request_id from an otherwise invalid body so
// rejections stay correlatable.
func peekRequestID(raw []byte) string {
	var partial struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return ""
	}
	return partial.RequestID
}

// splitBackendID splits a "provider:model" backend id.
func splitBackendID(id string) (provider, model string) {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i], id[i+1:]
		}
	}
	return id, ""
}

func piiTypeNames(types []security.PIIType) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

