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
Package llmclient implements the JSON-output contract every structured
LLM call in the runtime shares: schema-in-prompt, content cleanup,
strict parse, schema validation, and a documented fallback on
persistent failure. The provider abstraction (Gateway) and its request
and response shapes generalize orchestrator/llm_router.go's
LLMProvider/QueryOptions/LLMResponse, trimmed to the one provider this
runtime ships (Bedrock, see the bedrock subpackage) plus whatever
others the gateway is configured with.
*/
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CompletionOptions mirrors the teacher's QueryOptions shape.
type CompletionOptions struct {
	MaxTokens    int
	Temperature  float64
	Model        string
	SystemPrompt string
}

// CompletionResponse mirrors the teacher's LLMResponse shape.
type CompletionResponse struct {
	Content      string
	Model        string
	TokensUsed   int
	ResponseTime time.Duration
	Metadata     map[string]interface{}
}

// Gateway is the provider contract every LLM-backed node calls through.
type Gateway interface {
	Name() string
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (*CompletionResponse, error)
	IsHealthy() bool
}

var backoffSchedule = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// Validator checks a parsed JSON payload against the caller's schema
// (required fields, types, enums) beyond what encoding/json alone
// enforces. A non-nil error counts as a parse failure for retry
// purposes, per the JSON-output contract.
type Validator func(raw map[string]interface{}) error

// CallJSON executes the full JSON-output contract: render the prompt,
// call the gateway, clean the response, strict-parse, validate, retry
// with the documented backoff, and on persistent failure unmarshal the
// caller-supplied fallback JSON instead of returning an error. The
// fallback is never itself subject to validation — it is the
// last-resort default the caller already knows is well-formed.
func CallJSON(ctx context.Context, gw Gateway, prompt string, opts CompletionOptions, validate Validator, out interface{}, fallbackJSON string) error {
	var lastErr error

	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffSchedule[attempt-1]):
			}
		}

		resp, err := gw.Complete(ctx, prompt, opts)
		if err != nil {
			lastErr = fmt.Errorf("gateway call failed: %w", err)
			continue
		}

		cleaned := cleanupContent(resp.Content)

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
			lastErr = fmt.Errorf("strict parse failed: %w", err)
			continue
		}

		if validate != nil {
			if err := validate(raw); err != nil {
				lastErr = fmt.Errorf("schema validation failed: %w", err)
				continue
			}
		}

		if err := json.Unmarshal([]byte(cleaned), out); err != nil {
			lastErr = fmt.Errorf("target unmarshal failed: %w", err)
			continue
		}

		return nil
	}

	if err := json.Unmarshal([]byte(fallbackJSON), out); err != nil {
		return fmt.Errorf("fallback unmarshal failed after retries exhausted (last error: %v): %w", lastErr, err)
	}
	return nil
}

// cleanupContent strips a leading/trailing code fence and surrounding
// whitespace a model may add despite being told not to.
func cleanupContent(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
