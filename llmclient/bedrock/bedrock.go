// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package bedrock implements llmclient.Gateway over AWS Bedrock using the
AWS SDK v2, generalizing orchestrator/llm_router.go's BedrockProvider:
same Signature V4 auth via IAM roles, same per-model-family request and
response body shape (Anthropic Claude on Bedrock is the only family
this runtime wires, since it is the only one the workflow's experts
and router are tuned for — Titan/Llama/Mistral parsing is left out
rather than carried unused).
*/
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/capazme/MERL-T-alpha-sub001/llmclient"
	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
)

// Provider implements llmclient.Gateway against AWS Bedrock.
type Provider struct {
	client  *bedrockruntime.Client
	region  string
	model   string
	healthy bool
	log     *logger.Logger
}

// New loads the default AWS config for region and constructs a Bedrock
// runtime client. An empty model defaults to Claude 3.5 Sonnet.
func New(ctx context.Context, region, model string) (*Provider, error) {
	if region == "" {
		region = "us-east-1"
	}
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	return &Provider{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		region:  region,
		model:   model,
		healthy: true,
		log:     logger.New("llmclient-bedrock"),
	}, nil
}

func (p *Provider) Name() string { return "bedrock" }

func (p *Provider) IsHealthy() bool { return p.healthy }

func (p *Provider) Complete(ctx context.Context, prompt string, opts llmclient.CompletionOptions) (*llmclient.CompletionResponse, error) {
	start := time.Now()

	model := opts.Model
	if model == "" {
		model = p.model
	}

	body := anthropicRequestBody(prompt, opts)
	requestJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bedrock request: %w", err)
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.healthy = false
		p.log.ErrorWithCode("", "", "bedrock invoke failed", 0, err, map[string]interface{}{"model": model})
		return nil, fmt.Errorf("bedrock API error: %w", err)
	}
	p.healthy = true

	resp, err := parseAnthropicResponse(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bedrock response: %w", err)
	}
	resp.Model = model
	resp.ResponseTime = time.Since(start)
	resp.Metadata["provider"] = "bedrock"
	resp.Metadata["region"] = p.region

	return resp, nil
}

func anthropicRequestBody(prompt string, opts llmclient.CompletionOptions) map[string]interface{} {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	messages := []map[string]string{{"role": "user", "content": prompt}}
	body := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"temperature":       opts.Temperature,
		"messages":          messages,
	}
	if opts.SystemPrompt != "" {
		body["system"] = opts.SystemPrompt
	}
	return body
}

func parseAnthropicResponse(body []byte) (*llmclient.CompletionResponse, error) {
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
		return nil, fmt.Errorf("failed to unmarshal bedrock response: %w", err)
	}

	content := ""
	if len(resp.Content) > 0 {
		content = resp.Content[0].Text
	}

	return &llmclient.CompletionResponse{
		Content:    content,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Metadata: map[string]interface{}{
			"prompt_tokens":     resp.Usage.InputTokens,
			"completion_tokens": resp.Usage.OutputTokens,
		},
	}, nil
}
