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
Package synthesis merges a panel's expert opinions into a single
provisional answer. It is grounded on
platform/orchestrator/result_aggregator.go's ResultAggregator: an LLM
synthesis prompt built from the round's contributions, called through
the router's LLM, with the same "fall back to plain concatenation
rather than fail the request" shape result_aggregator.go uses for
AggregateResults. Unlike the teacher, this synthesizer must also choose
between a convergent and a divergent narrative and attach provenance to
every claim it emits.
*/
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/capazme/MERL-T-alpha-sub001/llmclient"
	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

const defaultExpertAuthority = 1.0

type claimPayload struct {
	Claim     string   `json:"claim"`
	SourceIDs []string `json:"source_ids"`
	Experts   []string `json:"experts"`
}

type synthesisPayload struct {
	Prose                      string         `json:"prose"`
	Claims                     []claimPayload `json:"claims"`
	AlternativeInterpretations []string       `json:"alternative_interpretations"`
}

// Synthesizer implements workflow.Synthesizer.
type Synthesizer struct {
	Gateway         llmclient.Gateway
	Breaker         *gobreaker.CircuitBreaker
	ExpertAuthority map[workflow.ExpertTag]float64
	Log             *logger.Logger
}

// New builds a Synthesizer with its own router-independent breaker.
func New(gw llmclient.Gateway) *Synthesizer {
	return &Synthesizer{
		Gateway: gw,
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "synthesizer-llm",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

// Synthesize combines s.ExpertOpinions into a workflow.ProvisionalAnswer.
func (sy *Synthesizer) Synthesize(ctx context.Context, s *workflow.State) (workflow.ProvisionalAnswer, error) {
	tags := consultedTags(s)
	if len(tags) == 0 {
		return workflow.ProvisionalAnswer{}, fmt.Errorf("no expert opinions to synthesize")
	}

	mode := s.Plan.SynthesisMode
	if mode == "" || mode == workflow.SynthesisAuto {
		mode = resolveMode(s.ExpertOpinions, tags)
	}

	validSourceIDs := sourceIDSet(s)

	var prompt, fallback string
	consensus := majorityShare(s.ExpertOpinions, tags)

	var confidence float64
	if mode == workflow.SynthesisDivergent {
		confidence = divergentConfidence(s.ExpertOpinions, tags)
		prompt = sy.buildDivergentPrompt(s, tags)
		fallback = fallbackJSON(s.ExpertOpinions, tags, true)
	} else {
		confidence = weightedMeanConfidence(s.ExpertOpinions, tags, sy.ExpertAuthority)
		prompt = sy.buildConvergentPrompt(s, tags)
		fallback = fallbackJSON(s.ExpertOpinions, tags, false)
	}

	var payload synthesisPayload
	if sy.Gateway != nil {
		_, err := sy.Breaker.Execute(func() (interface{}, error) {
			return nil, llmclient.CallJSON(ctx, sy.Gateway, prompt, llmclient.CompletionOptions{Temperature: 0.2}, validateSynthesisPayload, &payload, fallback)
		})
		if err != nil {
			_ = json.Unmarshal([]byte(fallback), &payload)
		}
	} else {
		_ = json.Unmarshal([]byte(fallback), &payload)
	}

	answer := workflow.ProvisionalAnswer{
		Prose:                payload.Prose,
		SynthesisModeUsed:    mode,
		ConsensusLevel:       consensus,
		Confidence:           confidence,
		ExpertsConsulted:     tags,
		UncertaintyPreserved: mode == workflow.SynthesisDivergent,
	}
	if len(validSourceIDs) == 0 {
		answer.UncertaintyPreserved = true
		if answer.Confidence > 0.5 {
			answer.Confidence = 0.5
		}
	}
	if mode == workflow.SynthesisDivergent {
		answer.AlternativeInterpretations = payload.AlternativeInterpretations
		if len(answer.AlternativeInterpretations) == 0 {
			answer.AlternativeInterpretations = distinctInterpretations(s.ExpertOpinions, tags)
		}
	}

	answer.Provenance = sy.mapProvenance(s, payload.Claims, validSourceIDs, tags)

	return answer, nil
}

// mapProvenance keeps only claims whose source ids and expert tags
// both resolve against this round's actual contributors, dropping and
// warning on the rest.
func (sy *Synthesizer) mapProvenance(s *workflow.State, claims []claimPayload, validSourceIDs map[string]bool, consulted []workflow.ExpertTag) []workflow.ProvenanceEntry {
	consultedSet := make(map[workflow.ExpertTag]bool, len(consulted))
	for _, t := range consulted {
		consultedSet[t] = true
	}

	entries := make([]workflow.ProvenanceEntry, 0, len(claims))
	for _, c := range claims {
		var sources []string
		for _, id := range c.SourceIDs {
			if validSourceIDs[id] {
				sources = append(sources, id)
			}
		}
		var experts []workflow.ExpertTag
		for _, e := range c.Experts {
			tag := workflow.ExpertTag(e)
			if consultedSet[tag] {
				experts = append(experts, tag)
			}
		}
		if len(sources) == 0 || len(experts) == 0 {
			s.AddWarning("provenance-mapping-failed")
			continue
		}
		entries = append(entries, workflow.ProvenanceEntry{Claim: c.Claim, SourceIDs: sources, Experts: experts})
	}
	return entries
}

func consultedTags(s *workflow.State) []workflow.ExpertTag {
	tags := make([]workflow.ExpertTag, 0, len(s.ExpertOpinions))
	for tag := range s.ExpertOpinions {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

func sourceIDSet(s *workflow.State) map[string]bool {
	set := map[string]bool{}
	for _, res := range s.AgentResults {
		for _, h := range res.Hits {
			set[h.SourceID] = true
		}
	}
	return set
}

// conclusionLabel buckets an opinion into a coarse categorical label:
// its highest-weight legal basis when one exists, else a normalized
// prefix of its interpretation text.
func conclusionLabel(op workflow.ExpertOpinion) string {
	if len(op.LegalBases) > 0 {
		best := op.LegalBases[0]
		for _, b := range op.LegalBases[1:] {
			if b.Weight > best.Weight {
				best = b
			}
		}
		return strings.ToLower(best.Citation) + ":" + strings.ToLower(best.Role)
	}
	words := strings.Fields(strings.ToLower(op.Interpretation))
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}

func resolveMode(opinions map[workflow.ExpertTag]workflow.ExpertOpinion, tags []workflow.ExpertTag) workflow.SynthesisMode {
	majorityLabel, share := majorityLabelAndShare(opinions, tags)
	for _, tag := range tags {
		op := opinions[tag]
		if conclusionLabel(op) != majorityLabel && op.Confidence >= 0.6 {
			return workflow.SynthesisDivergent
		}
	}
	if share >= 0.75 {
		return workflow.SynthesisConvergent
	}
	return workflow.SynthesisDivergent
}

func majorityLabelAndShare(opinions map[workflow.ExpertTag]workflow.ExpertOpinion, tags []workflow.ExpertTag) (string, float64) {
	counts := map[string]int{}
	for _, tag := range tags {
		counts[conclusionLabel(opinions[tag])]++
	}
	var best string
	var bestCount int
	for label, c := range counts {
		if c > bestCount || (c == bestCount && label < best) {
			best, bestCount = label, c
		}
	}
	if len(tags) == 0 {
		return "", 0
	}
	return best, float64(bestCount) / float64(len(tags))
}

func majorityShare(opinions map[workflow.ExpertTag]workflow.ExpertOpinion, tags []workflow.ExpertTag) float64 {
	_, share := majorityLabelAndShare(opinions, tags)
	return share
}

func weightedMeanConfidence(opinions map[workflow.ExpertTag]workflow.ExpertOpinion, tags []workflow.ExpertTag, authority map[workflow.ExpertTag]float64) float64 {
	var weightedSum, weightSum float64
	for _, tag := range tags {
		op := opinions[tag]
		a := defaultExpertAuthority
		if authority != nil {
			if v, ok := authority[tag]; ok {
				a = v
			}
		}
		w := op.Confidence * a
		weightedSum += op.Confidence * w
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return weightedSum / weightSum
}

func divergentConfidence(opinions map[workflow.ExpertTag]workflow.ExpertOpinion, tags []workflow.ExpertTag) float64 {
	mean, stddev := meanAndStddev(opinions, tags)
	c := mean - 0.5*stddev
	if c < 0.3 {
		return 0.3
	}
	if c > 0.6 {
		return 0.6
	}
	return c
}

func meanAndStddev(opinions map[workflow.ExpertTag]workflow.ExpertOpinion, tags []workflow.ExpertTag) (float64, float64) {
	if len(tags) == 0 {
		return 0, 0
	}
	var sum float64
	for _, tag := range tags {
		sum += opinions[tag].Confidence
	}
	mean := sum / float64(len(tags))

	var variance float64
	for _, tag := range tags {
		d := opinions[tag].Confidence - mean
		variance += d * d
	}
	variance /= float64(len(tags))
	return mean, math.Sqrt(variance)
}

func distinctInterpretations(opinions map[workflow.ExpertTag]workflow.ExpertOpinion, tags []workflow.ExpertTag) []string {
	seen := map[string]bool{}
	var out []string
	for _, tag := range tags {
		op := opinions[tag]
		label := conclusionLabel(op)
		if seen[label] || op.Interpretation == "" {
			continue
		}
		seen[label] = true
		out = append(out, op.Interpretation)
	}
	return out
}

func (sy *Synthesizer) buildConvergentPrompt(s *workflow.State, tags []workflow.ExpertTag) string {
	var b strings.Builder
	b.WriteString("You are a legal synthesis AI. The experts below largely agree. Produce ONE coherent narrative that states the consensus view and explicitly subordinates any dissent.\n\n")
	b.WriteString(fmt.Sprintf("Original query: %q\n\n", s.OriginalQuery))
	writeOpinions(&b, s.ExpertOpinions, tags)
	b.WriteString(schemaInstruction(false))
	return b.String()
}

func (sy *Synthesizer) buildDivergentPrompt(s *workflow.State, tags []workflow.ExpertTag) string {
	var b strings.Builder
	b.WriteString("You are a legal synthesis AI. The experts below disagree meaningfully. Produce a multi-perspective narrative that preserves every distinct position rather than picking a winner.\n\n")
	b.WriteString(fmt.Sprintf("Original query: %q\n\n", s.OriginalQuery))
	writeOpinions(&b, s.ExpertOpinions, tags)
	b.WriteString(schemaInstruction(true))
	return b.String()
}

func writeOpinions(b *strings.Builder, opinions map[workflow.ExpertTag]workflow.ExpertOpinion, tags []workflow.ExpertTag) {
	for _, tag := range tags {
		op := opinions[tag]
		b.WriteString(fmt.Sprintf("Expert %q (confidence %.2f): %s\n", tag, op.Confidence, op.Interpretation))
		for _, basis := range op.LegalBases {
			b.WriteString(fmt.Sprintf("  basis: %s (%s, weight %.2f)\n", basis.Citation, basis.Role, basis.Weight))
		}
		b.WriteString("\n")
	}
}

func schemaInstruction(divergent bool) string {
	base := `Return ONLY a JSON object with this structure, no prose, no code fence:
{
  "prose": "...",
  "claims": [{"claim": "...", "source_ids": ["..."], "experts": ["..."]}]`
	if divergent {
		base += `,
  "alternative_interpretations": ["..."]`
	}
	return base + "\n}"
}

func validateSynthesisPayload(raw map[string]interface{}) error {
	prose, _ := raw["prose"].(string)
	if strings.TrimSpace(prose) == "" {
		return fmt.Errorf("missing prose")
	}
	return nil
}

// fallbackJSON mirrors the teacher's simpleConcatenation fallback: when
// the LLM is unavailable or never produces a valid payload, concatenate
// each opinion's interpretation, mapped back to itself for provenance.
func fallbackJSON(opinions map[workflow.ExpertTag]workflow.ExpertOpinion, tags []workflow.ExpertTag, divergent bool) string {
	var prose strings.Builder
	var claims []claimPayload
	var alternatives []string

	for _, tag := range tags {
		op := opinions[tag]
		if op.Interpretation == "" {
			continue
		}
		prose.WriteString(fmt.Sprintf("[%s] %s\n", tag, op.Interpretation))
		var sourceIDs []string
		for _, basis := range op.LegalBases {
			sourceIDs = append(sourceIDs, basis.Citation)
		}
		if len(sourceIDs) == 0 {
			sourceIDs = []string{string(tag)}
		}
		claims = append(claims, claimPayload{Claim: op.Interpretation, SourceIDs: sourceIDs, Experts: []string{string(tag)}})
		if divergent {
			alternatives = append(alternatives, op.Interpretation)
		}
	}

	payload := synthesisPayload{Prose: prose.String(), Claims: claims, AlternativeInterpretations: alternatives}
	b, _ := json.Marshal(payload)
	return string(b)
}
