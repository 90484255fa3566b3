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

package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaAdapter talks to a local Ollama instance. Self-hosted, so cost
// is zero and PII may stay on-premises.
type OllamaAdapter struct {
	desc     Backend
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaAdapter creates an adapter for the Ollama generate API.
func NewOllamaAdapter(desc Backend, endpoint, model string) *OllamaAdapter {
	return &OllamaAdapter{
		desc:     desc,
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *OllamaAdapter) Describe() Backend {
	return a.desc
}

func (a *OllamaAdapter) Process(ctx context.Context, prompt string, params ProcessParams) (*ProcessResult, error) {
	model := params.Model
	if model == "" {
		model = a.model
	}

	fullPrompt := prompt
	if params.SystemPrompt != "" {
		fullPrompt = params.SystemPrompt + "\n\n" + prompt
	}

	body, err := json.Marshal(map[string]interface{}{
		"model":  model,
		"prompt": fullPrompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": params.Temperature,
			"num_predict": params.MaxTokens,
		},
	})
	if err != nil {
		return nil, &Failure{Code: FailInvalidResponse, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, &Failure{Code: FailInvalidResponse, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &Failure{Code: FailTimeout, Message: err.Error()}
		}
		return nil, &Failure{Code: FailUpstreamError, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Failure{Code: FailRateLimited, StatusCode: resp.StatusCode, Message: "ollama rate limited"}
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Failure{
			Code:       FailUpstreamError,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("ollama error: %s", string(msg)),
		}
	}

	var ollamaResp struct {
		Response        string `json:"response"`
		Model           string `json:"model"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, &Failure{Code: FailInvalidResponse, Message: err.Error()}
	}

	promptTokens := ollamaResp.PromptEvalCount
	if promptTokens == 0 {
		promptTokens = len(fullPrompt) / 4
	}
	completionTokens := ollamaResp.EvalCount
	if completionTokens == 0 {
		completionTokens = len(ollamaResp.Response) / 4
	}

	return &ProcessResult{
		Response:         ollamaResp.Response,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          0,
		Confidence:       a.desc.ConfidenceThreshold,
	}, nil
}

// Health probes the Ollama tags endpoint with a short deadline.
func (a *OllamaAdapter) Health() HealthStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/api/tags", nil)
	if err != nil {
		return HealthUnhealthy
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return HealthUnhealthy
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthDegraded
	}
	return HealthOK
}
