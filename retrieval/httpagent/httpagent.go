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
Package httpagent calls an external normative-text service with
article references and returns canonical texts and metadata. The
retry-with-backoff loop generalizes connectors/http/connector.go's
Query method (retry on 408/429/5xx with exponential backoff, capped
delay); a sony/gobreaker circuit breaker sits in front of the retry
loop so a persistently failing upstream stops taking traffic instead of
retrying every single request to exhaustion.
*/
package httpagent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

const (
	defaultRetryDelay = 200 * time.Millisecond
	maxRetryDelay     = 2 * time.Second
	maxRetries        = 2
)

type normResponse struct {
	ID       string `json:"id"`
	Citation string `json:"citation"`
	Text     string `json:"text"`
}

// Agent implements retrieval.Agent against an external normative-text
// HTTP service.
type Agent struct {
	BaseURL    string
	HTTPClient *http.Client
	Breaker    *gobreaker.CircuitBreaker
	Log        *logger.Logger
}

// New builds an Agent with a circuit breaker scoped to this agent's
// upstream, independent of any other agent's breaker.
func New(baseURL string) *Agent {
	return &Agent{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "httpagent",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
		Log: logger.New("httpagent"),
	}
}

func (a *Agent) Tag() workflow.AgentTag { return workflow.AgentHTTP }

// Invoke queries the normative-text service for every norm reference
// in the query context; a failed call returns an empty hit list with
// an error annotation rather than aborting the workflow.
func (a *Agent) Invoke(ctx context.Context, s *workflow.State, params workflow.AgentParams) workflow.AgentResult {
	var refs []string
	if s.QueryContext != nil {
		refs = s.QueryContext.NormReferences
	}
	if len(refs) == 0 {
		return workflow.AgentResult{SourceTag: "normativa-http"}
	}

	var hits []workflow.Hit
	for _, ref := range refs {
		resp, err := a.fetchWithBreaker(ctx, ref)
		if err != nil {
			if a.Log != nil {
				a.Log.Warn(s.Principal.CredentialID, s.TraceID, "http agent fetch failed", map[string]interface{}{"reference": ref, "error": err.Error()})
			}
			continue
		}
		hits = append(hits, workflow.Hit{
			SourceID:  resp.ID,
			Citation:  resp.Citation,
			Snippet:   resp.Text,
			Relevance: 1.0,
		})
	}

	if len(hits) == 0 && len(refs) > 0 {
		return workflow.AgentResult{SourceTag: "normativa-http", Err: fmt.Errorf("all %d norm lookups failed", len(refs))}
	}

	return workflow.AgentResult{SourceTag: "normativa-http", Hits: hits}
}

func (a *Agent) fetchWithBreaker(ctx context.Context, reference string) (*normResponse, error) {
	out, err := a.Breaker.Execute(func() (interface{}, error) {
		return a.fetchWithRetry(ctx, reference)
	})
	if err != nil {
		return nil, err
	}
	return out.(*normResponse), nil
}

func (a *Agent) fetchWithRetry(ctx context.Context, reference string) (*normResponse, error) {
	reqURL := a.BaseURL + "/norms/" + url.PathEscape(reference)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := a.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}

		var out normResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		return &out, nil
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

func backoff(attempt int) time.Duration {
	delay := defaultRetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func isRetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
