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

/*
Package logger provides structured JSON logging for SentryGate components.

# Overview

Log entries are emitted as single-line JSON on stdout so they can be
shipped unmodified to CloudWatch, Loki, or an ELK stack.

Each entry includes:
  - Timestamp (RFC3339Nano)
  - Level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, pipeline, storage, ...)
  - Instance ID and container name
  - Client ID (the authenticated principal, for correlation)
  - Request ID
  - Custom fields

Raw prompts, payloads, and secrets must never appear in log fields;
callers pass fingerprints or counts instead.

# Usage

	log := logger.New("gateway")

	log.Info("svc-reporting", "req-456", "request routed", map[string]interface{}{
	    "backend":  "ollama:llama2",
	    "fallback": false,
	})

	log.ErrorWithCode("svc-reporting", "req-456", "backend call failed",
	    "BACKEND_TIMEOUT", err, nil)

# Environment Variables

  - INSTANCE_ID: deployment instance identifier
  - LOG_LEVEL: minimum level to emit (default INFO)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
