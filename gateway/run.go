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
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentrygate/platform/audit"
	"sentrygate/platform/backends"
	"sentrygate/platform/config"
	"sentrygate/platform/pipeline"
	"sentrygate/platform/routing"
	"sentrygate/platform/security"
	"sentrygate/platform/shared/logger"
	"sentrygate/platform/storage"
)

// Run is the gateway service entry point: load config, wire the
// components, serve until SIGINT/SIGTERM, then drain.
func Run() {
	log := logger.New("gateway")

	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		log.Error("", "", "configuration invalid", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("", "", "gateway exited", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := security.NewTokenService(cfg.Security.JWTSecret, cfg.Security.HMACSecret, cfg.Security.TokenTTL.Std())
	authorizer := security.NewAuthorizer(security.AuthorizerConfig{})

	piiCfg := security.DefaultPIIDetectorConfig()
	if cfg.Security.PIIMinConfidence > 0 {
		piiCfg.MinConfidence = cfg.Security.PIIMinConfidence
	}
	pii, err := security.NewPIIDetector(piiCfg)
	if err != nil {
		return fmt.Errorf("building pii detector: %w", err)
	}
	injection := security.NewInjectionDetector()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	events := pipeline.New(pipeline.Config{
		QueueCapacity:       cfg.Pipeline.QueueCapacity,
		FullQueuePolicy:     pipeline.FullQueuePolicy(cfg.Pipeline.FullQueuePolicy),
		BackpressureTimeout: cfg.Pipeline.BackpressureTimeout.Std(),
		HistorySize:         cfg.Pipeline.HistorySize,
		PatternInterval:     cfg.Pipeline.PatternInterval.Std(),
		AlertSeverityFloor:  pipeline.Severity(cfg.Pipeline.AlertSeverityFloor),
	}, pipeline.NewAnomalyDetector(pipeline.DetectorConfig{
		CostThresholdUSD:   cfg.Pipeline.Detector.CostThresholdUSD,
		LatencyThresholdMs: cfg.Pipeline.Detector.LatencyThresholdMs,
		TokenThreshold:     cfg.Pipeline.Detector.TokenThreshold,
		ErrorRateThreshold: cfg.Pipeline.Detector.ErrorRateThreshold,
		SpikeFactor:        cfg.Pipeline.Detector.SpikeFactor,
	}), store, pipeline.NewStderrAlertSink(), log)
	seedHistory(ctx, events, store, cfg.Pipeline.HistorySize)
	events.Start()

	sink, err := openAuditSink(cfg)
	if err != nil {
		return err
	}
	trail := audit.NewTrail(sink, cfg.Pipeline.AuditQueueSize)

	idem, err := openIdempotencyCache(cfg, log)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(ctx, cfg, pii, injection)
	if err != nil {
		return fmt.Errorf("building backend registry: %w", err)
	}

	router := routing.NewRouter(registry, routing.RouterConfig{
		CostWeight:    cfg.Routing.CostWeight,
		LatencyWeight: cfg.Routing.LatencyWeight,
		QualityWeight: cfg.Routing.QualityWeight,
		MaxFallbacks:  cfg.Routing.MaxFallbacks,
	})

	gw := New(Config{
		MaxPayloadBytes: cfg.Server.MaxPayloadBytes,
		ClockSkew:       cfg.Server.ClockSkew.Std(),
	}, Deps{
		Tokens:     tokens,
		Authorizer: authorizer,
		PII:        pii,
		Injection:  injection,
		Registry:   registry,
		Router:     router,
		Events:     events,
		Trail:      trail,
		Idem:       idem,
		Log:        log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           NewServer(gw, store).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "gateway listening", map[string]interface{}{
			"addr":     cfg.Server.ListenAddr,
			"backends": registry.Len(),
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("", "", "shutting down", nil)
	grace := cfg.Server.ShutdownGrace.Std()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("", "", "http shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	if err := events.Shutdown(shutdownCtx); err != nil {
		log.Warn("", "", "event pipeline drain incomplete", map[string]interface{}{"error": err.Error()})
	}
	if err := trail.Shutdown(shutdownCtx); err != nil {
		log.Warn("", "", "audit trail drain incomplete", map[string]interface{}{"error": err.Error()})
	}
	if err := idem.Close(); err != nil {
		log.Warn("", "", "idempotency cache close failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// openStore prefers PostgreSQL and falls back to the bounded in-memory
// store for credential-less deployments.
func openStore(cfg config.Config, log *logger.Logger) (pipeline.EventStore, error) {
	if cfg.Storage.DatabaseURL != "" {
		store, err := storage.NewPostgresStore(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening event store: %w", err)
		}
		return store, nil
	}
	log.Warn("", "", "no DATABASE_URL configured, events held in memory only", nil)
	return storage.NewMemoryStore(cfg.Storage.MaxMemoryEvents), nil
}

func openAuditSink(cfg config.Config) (audit.Sink, error) {
	if cfg.Storage.DatabaseURL != "" {
		sink, err := audit.NewPostgresSink(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening audit sink: %w", err)
		}
		return sink, nil
	}
	if cfg.Pipeline.AuditLogPath != "" {
		sink, err := audit.NewFileSink(cfg.Pipeline.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		return sink, nil
	}
	return audit.NewWriterSink(os.Stderr), nil
}

func openIdempotencyCache(cfg config.Config, log *logger.Logger) (IdempotencyCache, error) {
	ttl := cfg.Storage.IdempotencyTTL.Std()
	if cfg.Storage.RedisURL != "" {
		cache, err := NewRedisIdempotencyCache(cfg.Storage.RedisURL, ttl)
		if err != nil {
			return nil, fmt.Errorf("opening idempotency cache: %w", err)
		}
		return cache, nil
	}
	log.Warn("", "", "no REDIS_URL configured, idempotency cache held in memory only", nil)
	return NewMemoryIdempotencyCache(ttl), nil
}

// seedHistory warms the detector's spike baselines from persisted
// events so restarts do not blind the per-model means.
func seedHistory(ctx context.Context, events *pipeline.Pipeline, store pipeline.EventStore, size int) {
	recent, err := store.RecentEvents(ctx, size)
	if err != nil || len(recent) == 0 {
		return
	}
	// RecentEvents is newest first; history wants arrival order.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	events.SeedHistory(recent)
}

// buildRegistry turns the configured backend catalog into live
// adapters. With no catalog configured, the shipped defaults run with
// rule engines and Ollama wired and cloud models stubbed.
func buildRegistry(ctx context.Context, cfg config.Config, pii *security.PIIDetector, injection *security.InjectionDetector) (*routing.Registry, error) {
	if len(cfg.Backends) == 0 {
		return routing.NewRegistry(defaultEntries(pii, injection))
	}

	var entries []routing.Entry
	for _, bc := range cfg.Backends {
		adapter, err := buildAdapter(ctx, bc, pii, injection)
		if err != nil {
			return nil, err
		}
		desc := bc.Backend
		if bc.Adapter.Driver == "rules" {
			desc = adapter.Describe()
		}
		entries = append(entries, routing.Entry{Backend: desc, Adapter: adapter})
	}
	return routing.NewRegistry(entries)
}

func buildAdapter(ctx context.Context, bc config.BackendConfig, pii *security.PIIDetector, injection *security.InjectionDetector) (backends.Adapter, error) {
	switch bc.Adapter.Driver {
	case "", "stub":
		return backends.NewStubAdapter(bc.Backend), nil
	case "ollama":
		endpoint := bc.Adapter.Endpoint
		if endpoint == "" {
			endpoint = ollamaEndpoint()
		}
		return backends.NewOllamaAdapter(bc.Backend, endpoint, bc.Adapter.Model), nil
	case "bedrock":
		region := bc.Adapter.Region
		if region == "" {
			region = os.Getenv(config.EnvAWSRegion)
		}
		if region == "" {
			region = "us-east-1"
		}
		return backends.NewBedrockAdapter(ctx, bc.Backend, region, bc.Adapter.Model)
	case "rules":
		return backends.NewRulesAdapter(bc.ID, backends.RuleKind(bc.Adapter.Rule), pii, injection), nil
	}
	return nil, fmt.Errorf("backend %s: unknown adapter driver %q", bc.ID, bc.Adapter.Driver)
}

func defaultEntries(pii *security.PIIDetector, injection *security.InjectionDetector) []routing.Entry {
	endpoint := ollamaEndpoint()

	var entries []routing.Entry
	for _, desc := range backends.DefaultCatalog() {
		switch desc.ID {
		case "rules:pii-detector":
			a := backends.NewRulesAdapter(desc.ID, backends.RulePIIScan, pii, injection)
			entries = append(entries, routing.Entry{Backend: a.Describe(), Adapter: a})
		case "rules:injection-detector":
			a := backends.NewRulesAdapter(desc.ID, backends.RuleInjectionScan, pii, injection)
			entries = append(entries, routing.Entry{Backend: a.Describe(), Adapter: a})
		case "ollama:llama2":
			entries = append(entries, routing.Entry{
				Backend: desc,
				Adapter: backends.NewOllamaAdapter(desc, endpoint, "llama2"),
			})
		default:
			entries = append(entries, routing.Entry{Backend: desc, Adapter: backends.NewStubAdapter(desc)})
		}
	}
	return entries
}

func ollamaEndpoint() string {
	if v := os.Getenv(config.EnvOllamaEndpoint); v != "" {
		return v
	}
	return "http://localhost:11434"
}
