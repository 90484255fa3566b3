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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"sentrygate/platform/common/pricing"
)

// BedrockAdapter invokes models on AWS Bedrock. Request and response
// bodies differ per model family; only the Anthropic and Meta families
// are wired here.
type BedrockAdapter struct {
	desc   Backend
	client *bedrockruntime.Client
	region string
	model  string
}

// NewBedrockAdapter creates an adapter bound to a region and default
// model. Credentials come from the standard AWS chain.
func NewBedrockAdapter(ctx context.Context, desc Backend, region, model string) (*BedrockAdapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &BedrockAdapter{
		desc:   desc,
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
		model:  model,
	}, nil
}

func (a *BedrockAdapter) Describe() Backend {
	return a.desc
}

func (a *BedrockAdapter) Process(ctx context.Context, prompt string, params ProcessParams) (*ProcessResult, error) {
	model := params.Model
	if model == "" {
		model = a.model
	}

	body, err := buildBedrockBody(model, prompt, params)
	if err != nil {
		return nil, &Failure{Code: FailInvalidResponse, Message: err.Error()}
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &Failure{Code: FailTimeout, Message: err.Error()}
		}
		if strings.Contains(err.Error(), "ThrottlingException") {
			return nil, &Failure{Code: FailRateLimited, StatusCode: 429, Message: err.Error()}
		}
		return nil, &Failure{Code: FailUpstreamError, StatusCode: 502, Message: err.Error()}
	}

	result, err := parseBedrockBody(model, output.Body)
	if err != nil {
		return nil, &Failure{Code: FailInvalidResponse, Message: err.Error()}
	}

	priceProvider, priceModel := bedrockPricingKey(model)
	result.CostUSD = pricing.CostUSD(priceProvider, priceModel, result.PromptTokens, result.CompletionTokens)
	result.Confidence = a.desc.ConfidenceThreshold
	return result, nil
}

// bedrockPricingKey reduces a Bedrock model ID to a price-table key by
// trimming the version and date suffixes until a known entry matches,
// e.g. "anthropic.claude-3-haiku-20240307-v1:0" -> ("anthropic",
// "claude-3-haiku"). Unknown models fall through to the default price.
func bedrockPricingKey(modelID string) (provider, model string) {
	provider = bedrockFamily(modelID)

	rest := modelID
	if i := strings.Index(modelID, provider+"."); provider != "" && i >= 0 {
		rest = modelID[i+len(provider)+1:]
	}
	if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[:i]
	}

	name := rest
	for {
		if _, ok := pricing.Lookup(provider, name); ok {
			return provider, name
		}
		i := strings.LastIndex(name, "-")
		if i < 0 {
			return provider, rest
		}
		name = name[:i]
	}
}

func (a *BedrockAdapter) Health() HealthStatus {
	if a.client == nil || a.region == "" {
		return HealthUnhealthy
	}
	return HealthOK
}

// bedrockFamily extracts the model family from a model or inference
// profile ID, e.g. "anthropic.claude-3-sonnet..." or
// "us.anthropic.claude-3-sonnet...".
func bedrockFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}

	first := segments[0]
	for _, prefix := range []string{"us", "eu", "apac", "global"} {
		if first == prefix {
			return segments[1]
		}
	}
	return first
}

func buildBedrockBody(model, prompt string, params ProcessParams) ([]byte, error) {
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	switch bedrockFamily(model) {
	case "anthropic":
		messages := []map[string]string{{"role": "user", "content": prompt}}
		req := map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       params.Temperature,
			"messages":          messages,
		}
		if params.SystemPrompt != "" {
			req["system"] = params.SystemPrompt
		}
		return json.Marshal(req)
	case "meta":
		return json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_gen_len": maxTokens,
			"temperature": params.Temperature,
			"top_p":       0.9,
		})
	default:
		return nil, fmt.Errorf("unsupported bedrock model family in %q", model)
	}
}

func parseBedrockBody(model string, body []byte) (*ProcessResult, error) {
	switch bedrockFamily(model) {
	case "anthropic":
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decoding anthropic response: %w", err)
		}
		text := ""
		if len(resp.Content) > 0 {
			text = resp.Content[0].Text
		}
		return &ProcessResult{
			Response:         text,
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		}, nil
	case "meta":
		var resp struct {
			Generation       string `json:"generation"`
			PromptTokenCount int    `json:"prompt_token_count"`
			GenTokenCount    int    `json:"generation_token_count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decoding meta response: %w", err)
		}
		return &ProcessResult{
			Response:         resp.Generation,
			PromptTokens:     resp.PromptTokenCount,
			CompletionTokens: resp.GenTokenCount,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported bedrock model family in %q", model)
	}
}
