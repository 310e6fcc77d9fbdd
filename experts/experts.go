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
Package experts implements the four reasoning experts (textual,
purposive/systemic, principles-balancing, precedent-empirical). Each
embodies a distinct legal methodology but shares one abstract contract
and differs only by prompt template and an epistemological label on
the output — the same "N interchangeable backends behind one
interface, selected by tag" shape orchestrator/llm_router.go uses for
its N LLM providers, generalized here to N reasoning methodologies run
concurrently instead of one provider chosen by routing weight.
*/
package experts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/capazme/MERL-T-alpha-sub001/llmclient"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

const minimalOpinionConfidence = 0.3

// Expert is the shared per-invocation contract every methodology
// implements.
type Expert interface {
	Tag() workflow.ExpertTag
	Consult(ctx context.Context, s *workflow.State) workflow.ExpertOpinion
}

type opinionPayload struct {
	Interpretation string   `json:"interpretation"`
	LegalBases     []struct {
		Citation string  `json:"citation"`
		Role     string  `json:"role"`
		Weight   float64 `json:"weight"`
	} `json:"legal_bases"`
	ReasoningSteps []string `json:"reasoning_steps"`
	Confidence     float64  `json:"confidence"`
	Breakdown      struct {
		NormClarity            float64 `json:"norm_clarity"`
		JurisprudenceAlignment float64 `json:"jurisprudence_alignment"`
		ContextualAmbiguity    float64 `json:"contextual_ambiguity"`
		SourceAvailability     float64 `json:"source_availability"`
	} `json:"breakdown"`
	Limitations string `json:"limitations"`
}

// methodology is the one concrete Expert implementation; the four
// exported constructors only vary its tag, label, and prompt template.
type methodology struct {
	tag          workflow.ExpertTag
	label        string
	promptPrefix string
	gateway      llmclient.Gateway
	breaker      *gobreaker.CircuitBreaker
}

func newMethodology(tag workflow.ExpertTag, label, promptPrefix string, gw llmclient.Gateway) *methodology {
	return &methodology{
		tag:          tag,
		label:        label,
		promptPrefix: promptPrefix,
		gateway:      gw,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "expert-" + string(tag),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

// NewLiteral applies a strict textual/grammatical methodology.
func NewLiteral(gw llmclient.Gateway) Expert {
	return newMethodology(workflow.ExpertLiteral, "textual",
		"Interpret the norm strictly by its text, giving no weight to purpose or policy.", gw)
}

// NewSystemicTeleological applies a purposive/systemic methodology.
func NewSystemicTeleological(gw llmclient.Gateway) Expert {
	return newMethodology(workflow.ExpertSystemicTeleological, "systemic-teleological",
		"Interpret the norm in light of its purpose and its place within the broader legal system.", gw)
}

// NewPrinciplesBalancer applies a principles-balancing methodology.
func NewPrinciplesBalancer(gw llmclient.Gateway) Expert {
	return newMethodology(workflow.ExpertPrinciplesBalancer, "principles-balancing",
		"Identify the competing constitutional and general principles at stake and balance them explicitly.", gw)
}

// NewPrecedentAnalyst applies a precedent-empirical methodology.
func NewPrecedentAnalyst(gw llmclient.Gateway) Expert {
	return newMethodology(workflow.ExpertPrecedentAnalyst, "precedent-empirical",
		"Ground the interpretation in how courts have actually applied the norm, weighting recent and higher-court decisions.", gw)
}

func (m *methodology) Tag() workflow.ExpertTag { return m.tag }

// Consult implements the per-invocation contract. On persistent LLM
// failure it returns a minimal opinion at confidence 0.3 with an error
// annotation rather than failing the panel.
func (m *methodology) Consult(ctx context.Context, s *workflow.State) workflow.ExpertOpinion {
	start := time.Now()

	if m.gateway == nil {
		return minimalOpinion(m.tag, time.Since(start), fmt.Errorf("no gateway configured"))
	}

	prompt := m.buildPrompt(s)
	fallback := minimalOpinionJSON()

	var payload opinionPayload
	validated := false
	validate := func(raw map[string]interface{}) error {
		verr := validateOpinionPayload(raw)
		validated = verr == nil
		return verr
	}
	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, llmclient.CallJSON(ctx, m.gateway, prompt, llmclient.CompletionOptions{Temperature: 0.3}, validate, &payload, fallback)
	})
	if err != nil {
		return minimalOpinion(m.tag, time.Since(start), err)
	}
	if !validated {
		return minimalOpinion(m.tag, time.Since(start), fmt.Errorf("no valid llm response after retries"))
	}

	opinion := workflow.ExpertOpinion{
		Tag:            m.tag,
		Interpretation: payload.Interpretation,
		ReasoningSteps: payload.ReasoningSteps,
		Confidence:     clamp01(payload.Confidence),
		Breakdown: workflow.ConfidenceBreakdown{
			NormClarity:            payload.Breakdown.NormClarity,
			JurisprudenceAlignment: payload.Breakdown.JurisprudenceAlignment,
			ContextualAmbiguity:    payload.Breakdown.ContextualAmbiguity,
			SourceAvailability:     payload.Breakdown.SourceAvailability,
		},
		Limitations: payload.Limitations,
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	for _, b := range payload.LegalBases {
		opinion.LegalBases = append(opinion.LegalBases, workflow.LegalBasis{Citation: b.Citation, Role: b.Role, Weight: b.Weight})
	}
	return opinion
}

func (m *methodology) buildPrompt(s *workflow.State) string {
	var normDigest []string
	if s.Enriched != nil {
		for _, n := range s.Enriched.Norms {
			normDigest = append(normDigest, n.Citation)
		}
	}
	var hitDigest []string
	for _, res := range s.AgentResults {
		for _, h := range res.Hits {
			hitDigest = append(hitDigest, h.Citation)
		}
	}

	return fmt.Sprintf(`You are a legal reasoning expert applying a %s methodology.
%s

Query: %q
Relevant norms: %v
Retrieved sources: %v

Return ONLY a JSON object with this structure, no prose, no code fence:
{
  "interpretation": "...",
  "legal_bases": [{"citation": "...", "role": "supports|distinguishes", "weight": 1.0}],
  "reasoning_steps": ["..."],
  "confidence": 0.8,
  "breakdown": {"norm_clarity": 0.8, "jurisprudence_alignment": 0.7, "contextual_ambiguity": 0.2, "source_availability": 0.9},
  "limitations": "..."
}`, m.label, m.promptPrefix, s.OriginalQuery, normDigest, hitDigest)
}

func validateOpinionPayload(raw map[string]interface{}) error {
	interp, _ := raw["interpretation"].(string)
	if interp == "" {
		return fmt.Errorf("missing interpretation")
	}
	if _, ok := raw["confidence"].(float64); !ok {
		return fmt.Errorf("missing or non-numeric confidence")
	}
	return nil
}

func minimalOpinion(tag workflow.ExpertTag, elapsed time.Duration, err error) workflow.ExpertOpinion {
	return workflow.ExpertOpinion{
		Tag:         tag,
		Confidence:  minimalOpinionConfidence,
		Limitations: "minimal opinion: llm call failed persistently",
		LatencyMS:   elapsed.Milliseconds(),
		Err:         err,
	}
}

func minimalOpinionJSON() string {
	b, _ := json.Marshal(opinionPayload{
		Interpretation: "unable to produce an interpretation",
		Confidence:     minimalOpinionConfidence,
		Limitations:    "fallback opinion after persistent LLM failure",
	})
	return string(b)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
