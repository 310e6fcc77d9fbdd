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
Package router implements the LLM planner: it renders one prompt per
iteration from the query context, enriched context, and (when
iterating) the prior iteration's answer, calls the LLM through the
JSON-output contract, validates the plan against the schema the
teacher's planning_engine.go validates workflow definitions against,
and falls back to a deterministic default plan on persistent failure.
*/
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/capazme/MERL-T-alpha-sub001/llmclient"
	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

var validAgentTags = map[workflow.AgentTag]bool{
	workflow.AgentGraph:  true,
	workflow.AgentHTTP:   true,
	workflow.AgentVector: true,
}

var validExpertTags = map[workflow.ExpertTag]bool{
	workflow.ExpertLiteral:             true,
	workflow.ExpertSystemicTeleological: true,
	workflow.ExpertPrinciplesBalancer:  true,
	workflow.ExpertPrecedentAnalyst:    true,
}

var validSynthesisModes = map[workflow.SynthesisMode]bool{
	workflow.SynthesisConvergent: true,
	workflow.SynthesisDivergent:  true,
	workflow.SynthesisAuto:       true,
}

const defaultTopK = 10

// planPayload is the wire shape the LLM is prompted to emit.
type planPayload struct {
	Agents []struct {
		Tag          string            `json:"tag"`
		QueryRewrite string            `json:"query_rewrite"`
		Filters      map[string]string `json:"filters"`
		TopK         int               `json:"top_k"`
	} `json:"agents"`
	Experts         []string `json:"experts"`
	SynthesisMode   string   `json:"synthesis_mode"`
	IterationBudget int      `json:"iteration_budget"`
	Rationale       string   `json:"rationale"`
}

// Router is the workflow.Planner implementation.
type Router struct {
	Gateway llmclient.Gateway
	Breaker *gobreaker.CircuitBreaker
	Log     *logger.Logger
}

// New builds a Router with a circuit breaker scoped to LLM planning
// calls, separate from the one wrapping expert calls so a flaky expert
// call never trips the planner's budget and vice versa.
func New(gw llmclient.Gateway) *Router {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "router-llm",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Router{Gateway: gw, Breaker: cb}
}

// Plan implements workflow.Planner.
func (r *Router) Plan(ctx context.Context, s *workflow.State) (workflow.ExecutionPlan, error) {
	currentIteration := len(s.Iteration.Records) + 1
	fallback := defaultPlan(currentIteration)

	if r.Gateway == nil {
		return fallback, nil
	}

	prompt := buildPrompt(s, currentIteration)
	fallbackJSON := planToFallbackJSON(fallback)

	var payload planPayload
	callErr := func() error {
		_, err := r.Breaker.Execute(func() (interface{}, error) {
			err := llmclient.CallJSON(ctx, r.Gateway, prompt, llmclient.CompletionOptions{Temperature: 0.0},
				validatePlanPayload(currentIteration), &payload, fallbackJSON)
			return nil, err
		})
		return err
	}()

	if callErr != nil {
		if r.Log != nil {
			r.Log.Warn(s.Principal.CredentialID, s.TraceID, "router LLM call failed, using deterministic fallback plan", map[string]interface{}{"error": callErr.Error()})
		}
		return fallback, nil
	}

	plan, err := payloadToPlan(payload, currentIteration)
	if err != nil {
		return fallback, nil
	}
	return plan, nil
}

func buildPrompt(s *workflow.State, currentIteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %q\n", s.OriginalQuery)
	if s.QueryContext != nil {
		fmt.Fprintf(&b, "Intent: %s (confidence %.2f, complexity %.2f)\n", s.QueryContext.IntentTag, s.QueryContext.IntentConfidence, s.QueryContext.Complexity)
		fmt.Fprintf(&b, "Entities: %d, concepts: %v, norm references: %v\n", len(s.QueryContext.Entities), s.QueryContext.Concepts, s.QueryContext.NormReferences)
	}
	if s.Enriched != nil {
		fmt.Fprintf(&b, "Enrichment: %d norms, %d case law, %d doctrine, %d community, controversies=%v\n",
			len(s.Enriched.Norms), len(s.Enriched.CaseLaw), len(s.Enriched.Doctrine), len(s.Enriched.Community), len(s.Enriched.Controversies) > 0)
	}
	if prev := s.Iteration.CurrentAnswer(); prev != nil {
		fmt.Fprintf(&b, "Prior iteration %d answer confidence: %.2f, consensus: %.2f\n", prev.Index, prev.Answer.Confidence, prev.Answer.ConsensusLevel)
	}
	fmt.Fprintf(&b, "Current iteration index: %d\n", currentIteration)
	b.WriteString(`
Return ONLY a JSON object with this structure, no prose, no code fence:
{
  "agents": [{"tag": "graph|http|vector", "query_rewrite": "...", "filters": {}, "top_k": 10}],
  "experts": ["literal", "systemic-teleological", "principles-balancer", "precedent-analyst"],
  "synthesis_mode": "convergent|divergent|auto",
  "iteration_budget": 3,
  "rationale": "..."
}`)
	return b.String()
}

func validatePlanPayload(currentIteration int) llmclient.Validator {
	return func(raw map[string]interface{}) error {
		agents, _ := raw["agents"].([]interface{})
		if len(agents) == 0 {
			return fmt.Errorf("plan has zero agents")
		}
		experts, _ := raw["experts"].([]interface{})
		if len(experts) == 0 {
			return fmt.Errorf("plan has zero experts")
		}
		for _, a := range agents {
			am, ok := a.(map[string]interface{})
			if !ok {
				return fmt.Errorf("malformed agent entry")
			}
			tag, _ := am["tag"].(string)
			if !validAgentTags[workflow.AgentTag(tag)] {
				return fmt.Errorf("unknown agent tag %q", tag)
			}
		}
		for _, e := range experts {
			tag, _ := e.(string)
			if !validExpertTags[workflow.ExpertTag(tag)] {
				return fmt.Errorf("unknown expert tag %q", tag)
			}
		}
		if budget, ok := raw["iteration_budget"].(float64); ok && int(budget) < currentIteration {
			return fmt.Errorf("iteration budget %v less than current iteration %d", raw["iteration_budget"], currentIteration)
		}
		return nil
	}
}

func payloadToPlan(p planPayload, currentIteration int) (workflow.ExecutionPlan, error) {
	plan := workflow.ExecutionPlan{
		SynthesisMode:   workflow.SynthesisMode(p.SynthesisMode),
		IterationBudget: p.IterationBudget,
		Rationale:       p.Rationale,
	}
	if plan.SynthesisMode == "" || !validSynthesisModes[plan.SynthesisMode] {
		plan.SynthesisMode = workflow.SynthesisAuto
	}
	if plan.IterationBudget < currentIteration {
		plan.IterationBudget = currentIteration
	}

	for _, a := range p.Agents {
		tag := workflow.AgentTag(a.Tag)
		if !validAgentTags[tag] {
			continue
		}
		topK := a.TopK
		if topK == 0 {
			topK = defaultTopK
		}
		plan.Agents = append(plan.Agents, workflow.AgentParams{
			Tag:          tag,
			QueryRewrite: a.QueryRewrite,
			Filters:      a.Filters,
			TopK:         topK,
		})
	}
	if len(plan.Agents) == 0 {
		return workflow.ExecutionPlan{}, fmt.Errorf("no valid agent tags survived filtering")
	}

	for _, e := range p.Experts {
		tag := workflow.ExpertTag(e)
		if validExpertTags[tag] {
			plan.Experts = append(plan.Experts, tag)
		}
	}
	if len(plan.Experts) == 0 {
		return workflow.ExecutionPlan{}, fmt.Errorf("no valid expert tags survived filtering")
	}

	return plan, nil
}

// defaultPlan is the deterministic fallback spec.md §4.3 documents:
// agents = {graph, vector}; experts = {literal, systemic-teleological};
// synthesis = auto; iteration budget = current iteration.
func defaultPlan(currentIteration int) workflow.ExecutionPlan {
	return workflow.ExecutionPlan{
		Agents: []workflow.AgentParams{
			{Tag: workflow.AgentGraph, TopK: defaultTopK},
			{Tag: workflow.AgentVector, TopK: defaultTopK},
		},
		Experts:         []workflow.ExpertTag{workflow.ExpertLiteral, workflow.ExpertSystemicTeleological},
		SynthesisMode:   workflow.SynthesisAuto,
		IterationBudget: currentIteration,
		Rationale:       "deterministic fallback plan",
	}
}

func planToFallbackJSON(p workflow.ExecutionPlan) string {
	payload := planPayload{
		SynthesisMode:   string(p.SynthesisMode),
		IterationBudget: p.IterationBudget,
		Rationale:       p.Rationale,
	}
	for _, a := range p.Agents {
		payload.Agents = append(payload.Agents, struct {
			Tag          string            `json:"tag"`
			QueryRewrite string            `json:"query_rewrite"`
			Filters      map[string]string `json:"filters"`
			TopK         int               `json:"top_k"`
		}{Tag: string(a.Tag), QueryRewrite: a.QueryRewrite, Filters: a.Filters, TopK: a.TopK})
	}
	for _, e := range p.Experts {
		payload.Experts = append(payload.Experts, string(e))
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

