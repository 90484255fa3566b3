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

// Package main is the entry point for the SentryGate gateway service.
//
// The gateway is a security-aware front door for LLM and rule-engine
// processing: it validates and authenticates requests, screens prompts
// for PII and injection, routes each request to the cheapest capable
// backend with cascade fallback, and feeds the asynchronous monitoring
// pipeline that scores risk and raises anomalies.
//
// Usage:
//
//	./gateway
//
// Environment variables:
//
//	SENTRYGATE_CONFIG       - path to a YAML config file (optional)
//	SENTRYGATE_LISTEN_ADDR  - HTTP listen address (default :8080)
//	SENTRYGATE_JWT_SECRET   - HS256 token verification secret (required)
//	SENTRYGATE_HMAC_SECRET  - payload signature secret (required)
//	DATABASE_URL            - PostgreSQL event/audit store (optional)
//	REDIS_URL               - idempotency cache (optional)
//	OLLAMA_ENDPOINT         - private model endpoint (optional)
//	AWS_REGION              - Bedrock region for cloud adapters (optional)
package main

import (
	"sentrygate/platform/gateway"
)

func main() {
	gateway.Run()
}
