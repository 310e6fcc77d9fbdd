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
Package understanding implements preprocessing.Understander: one LLM
call per query that classifies intent, extracts entities and concepts,
and flags norm references and temporal hints. It follows router.go's
shape (a circuit breaker scoped to its own LLM calls, llmclient.CallJSON
for the structured round trip, a deterministic fallback on persistent
failure) rather than introducing a second way of calling an LLM.
*/
package understanding

import (
	"context"

	"github.com/sony/gobreaker"

	"github.com/capazme/MERL-T-alpha-sub001/llmclient"
	"github.com/capazme/MERL-T-alpha-sub001/preprocessing"
	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

var validIntents = map[string]bool{
	string(workflow.IntentNormSearch):       true,
	string(workflow.IntentInterpretation):   true,
	string(workflow.IntentComplianceCheck):  true,
	string(workflow.IntentDocumentDrafting): true,
	string(workflow.IntentRiskSpotting):     true,
	string(workflow.IntentUnknown):          true,
}

// understandingPayload is the wire shape the LLM is prompted to emit.
type understandingPayload struct {
	IntentTag        string   `json:"intent_tag"`
	IntentConfidence float64  `json:"intent_confidence"`
	Entities         []struct {
		Text       string  `json:"text"`
		Type       string  `json:"type"`
		Start      int     `json:"start"`
		End        int     `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
	Concepts       []string `json:"concepts"`
	NormReferences []string `json:"norm_references"`
	TemporalHints  []string `json:"temporal_hints"`
}

// Understander implements preprocessing.Understander over an
// llmclient.Gateway.
type Understander struct {
	Gateway llmclient.Gateway
	Breaker *gobreaker.CircuitBreaker
	Log     *logger.Logger
}

// New builds an Understander with a circuit breaker scoped to
// understanding calls, separate from router's and experts' breakers so
// a flaky dependency in one node never trips another's budget.
func New(gw llmclient.Gateway) *Understander {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "understanding-llm",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Understander{Gateway: gw, Breaker: cb}
}

// Understand implements preprocessing.Understander.
func (u *Understander) Understand(ctx context.Context, query string, hints map[string]string) (preprocessing.Understanding, error) {
	fallback := preprocessing.Understanding{IntentTag: workflow.IntentUnknown}
	if u.Gateway == nil {
		return fallback, nil
	}

	prompt := buildPrompt(query, hints)

	var payload understandingPayload
	_, err := u.Breaker.Execute(func() (interface{}, error) {
		return nil, llmclient.CallJSON(ctx, u.Gateway, prompt, llmclient.CompletionOptions{Temperature: 0.0},
			validateUnderstandingPayload, &payload, fallbackJSON())
	})
	if err != nil {
		if u.Log != nil {
			u.Log.Warn("", "", "understanding LLM call failed, returning unknown intent", map[string]interface{}{"error": err.Error()})
		}
		return fallback, nil
	}

	return payloadToUnderstanding(payload), nil
}

func payloadToUnderstanding(p understandingPayload) preprocessing.Understanding {
	intent := workflow.IntentTag(p.IntentTag)
	if !validIntents[p.IntentTag] {
		intent = workflow.IntentUnknown
	}

	entities := make([]workflow.EntitySpan, 0, len(p.Entities))
	for _, e := range p.Entities {
		entities = append(entities, workflow.EntitySpan{
			Text: e.Text, Type: e.Type, Start: e.Start, End: e.End, Confidence: e.Confidence,
		})
	}

	return preprocessing.Understanding{
		IntentTag:        intent,
		IntentConfidence: p.IntentConfidence,
		Entities:         entities,
		Concepts:         p.Concepts,
		NormReferences:   p.NormReferences,
		TemporalHints:    p.TemporalHints,
	}
}

func buildPrompt(query string, hints map[string]string) string {
	prompt := "Classify the legal intent of the following query, extract named entities " +
		"(norms, cases, doctrines, parties), legal concepts, normative references, and " +
		"temporal hints. Respond as JSON matching the documented schema.\n\nQuery: " + query
	if j, ok := hints["jurisdiction"]; ok && j != "" {
		prompt += "\nJurisdiction: " + j
	}
	return prompt
}

func validateUnderstandingPayload(raw map[string]interface{}) error {
	return nil
}

func fallbackJSON() string {
	return `{"intent_tag":"unknown","intent_confidence":0,"entities":[],"concepts":[],"norm_references":[],"temporal_hints":[]}`
}
