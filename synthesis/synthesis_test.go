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

package synthesis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capazme/MERL-T-alpha-sub001/llmclient"
	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

type fakeGateway struct {
	content string
	err     error
}

func (f fakeGateway) Name() string    { return "fake" }
func (f fakeGateway) IsHealthy() bool { return f.err == nil }
func (f fakeGateway) Complete(ctx context.Context, prompt string, opts llmclient.CompletionOptions) (*llmclient.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llmclient.CompletionResponse{Content: f.content}, nil
}

func newState() *workflow.State {
	s := workflow.NewState(types.Principal{CredentialID: "cred-1"}, "query", types.QueryHints{}, types.DefaultQueryOptions())
	s.AgentResults[workflow.AgentVector] = workflow.AgentResult{
		Tag: workflow.AgentVector,
		Hits: []workflow.Hit{
			{SourceID: "src-1", Citation: "art. 1218 c.c."},
		},
	}
	return s
}

func TestResolveMode_HighAgreementLowDissentIsConvergent(t *testing.T) {
	opinions := map[workflow.ExpertTag]workflow.ExpertOpinion{
		workflow.ExpertLiteral:               {Tag: workflow.ExpertLiteral, Interpretation: "the debtor is liable", Confidence: 0.9},
		workflow.ExpertSystemicTeleological:   {Tag: workflow.ExpertSystemicTeleological, Interpretation: "the debtor is liable", Confidence: 0.85},
		workflow.ExpertPrinciplesBalancer:     {Tag: workflow.ExpertPrinciplesBalancer, Interpretation: "the debtor is liable", Confidence: 0.8},
		workflow.ExpertPrecedentAnalyst:       {Tag: workflow.ExpertPrecedentAnalyst, Interpretation: "comparative fault applies", Confidence: 0.5},
	}
	tags := []workflow.ExpertTag{workflow.ExpertLiteral, workflow.ExpertSystemicTeleological, workflow.ExpertPrinciplesBalancer, workflow.ExpertPrecedentAnalyst}
	assert.Equal(t, workflow.SynthesisConvergent, resolveMode(opinions, tags))
}

func TestResolveMode_HighConfidenceDissentForcesDivergent(t *testing.T) {
	opinions := map[workflow.ExpertTag]workflow.ExpertOpinion{
		workflow.ExpertLiteral:             {Tag: workflow.ExpertLiteral, Interpretation: "the debtor is liable", Confidence: 0.9},
		workflow.ExpertSystemicTeleological: {Tag: workflow.ExpertSystemicTeleological, Interpretation: "the debtor is liable", Confidence: 0.85},
		workflow.ExpertPrinciplesBalancer:   {Tag: workflow.ExpertPrinciplesBalancer, Interpretation: "the debtor is liable", Confidence: 0.8},
		workflow.ExpertPrecedentAnalyst:     {Tag: workflow.ExpertPrecedentAnalyst, Interpretation: "comparative fault applies", Confidence: 0.7},
	}
	tags := []workflow.ExpertTag{workflow.ExpertLiteral, workflow.ExpertSystemicTeleological, workflow.ExpertPrinciplesBalancer, workflow.ExpertPrecedentAnalyst}
	assert.Equal(t, workflow.SynthesisDivergent, resolveMode(opinions, tags))
}

func TestResolveMode_LowMajorityShareIsDivergent(t *testing.T) {
	opinions := map[workflow.ExpertTag]workflow.ExpertOpinion{
		workflow.ExpertLiteral:             {Tag: workflow.ExpertLiteral, Interpretation: "a", Confidence: 0.4},
		workflow.ExpertSystemicTeleological: {Tag: workflow.ExpertSystemicTeleological, Interpretation: "b", Confidence: 0.4},
	}
	tags := []workflow.ExpertTag{workflow.ExpertLiteral, workflow.ExpertSystemicTeleological}
	assert.Equal(t, workflow.SynthesisDivergent, resolveMode(opinions, tags))
}

func TestWeightedMeanConfidence_DefaultAuthorityIsOne(t *testing.T) {
	opinions := map[workflow.ExpertTag]workflow.ExpertOpinion{
		workflow.ExpertLiteral:             {Confidence: 0.8},
		workflow.ExpertSystemicTeleological: {Confidence: 0.4},
	}
	tags := []workflow.ExpertTag{workflow.ExpertLiteral, workflow.ExpertSystemicTeleological}
	got := weightedMeanConfidence(opinions, tags, nil)
	assert.Greater(t, got, 0.4)
	assert.Less(t, got, 0.8)
}

func TestDivergentConfidence_ClampedToRange(t *testing.T) {
	opinions := map[workflow.ExpertTag]workflow.ExpertOpinion{
		workflow.ExpertLiteral:             {Confidence: 1.0},
		workflow.ExpertSystemicTeleological: {Confidence: 0.0},
	}
	tags := []workflow.ExpertTag{workflow.ExpertLiteral, workflow.ExpertSystemicTeleological}
	got := divergentConfidence(opinions, tags)
	assert.GreaterOrEqual(t, got, 0.3)
	assert.LessOrEqual(t, got, 0.6)
}

func TestSynthesize_ConvergentProducesProseAndProvenance(t *testing.T) {
	s := newState()
	s.Plan.SynthesisMode = workflow.SynthesisConvergent
	s.ExpertOpinions[workflow.ExpertLiteral] = workflow.ExpertOpinion{
		Tag: workflow.ExpertLiteral, Interpretation: "the debtor is liable", Confidence: 0.9,
		LegalBases: []workflow.LegalBasis{{Citation: "art. 1218 c.c.", Role: "supports", Weight: 1.0}},
	}

	gw := fakeGateway{content: `{"prose":"The debtor is liable under art. 1218 c.c.","claims":[{"claim":"the debtor is liable","source_ids":["src-1"],"experts":["literal"]}]}`}
	sy := New(gw)

	answer, err := sy.Synthesize(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, workflow.SynthesisConvergent, answer.SynthesisModeUsed)
	assert.NotEmpty(t, answer.Prose)
	require.Len(t, answer.Provenance, 1)
	assert.Equal(t, []string{"src-1"}, answer.Provenance[0].SourceIDs)
}

func TestSynthesize_DropsClaimWithUnknownSourceID(t *testing.T) {
	s := newState()
	s.Plan.SynthesisMode = workflow.SynthesisConvergent
	s.ExpertOpinions[workflow.ExpertLiteral] = workflow.ExpertOpinion{Tag: workflow.ExpertLiteral, Interpretation: "x", Confidence: 0.9}

	gw := fakeGateway{content: `{"prose":"x","claims":[{"claim":"x","source_ids":["does-not-exist"],"experts":["literal"]}]}`}
	sy := New(gw)

	answer, err := sy.Synthesize(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, answer.Provenance)
	assert.Contains(t, s.Warnings, "provenance-mapping-failed")
}

func TestSynthesize_NilGatewayUsesFallbackConcatenation(t *testing.T) {
	s := newState()
	s.Plan.SynthesisMode = workflow.SynthesisConvergent
	s.ExpertOpinions[workflow.ExpertLiteral] = workflow.ExpertOpinion{Tag: workflow.ExpertLiteral, Interpretation: "the debtor is liable", Confidence: 0.9}

	sy := New(nil)
	answer, err := sy.Synthesize(context.Background(), s)
	require.NoError(t, err)
	assert.Contains(t, answer.Prose, "the debtor is liable")
}

func TestSynthesize_NoOpinionsReturnsError(t *testing.T) {
	s := newState()
	sy := New(nil)
	_, err := sy.Synthesize(context.Background(), s)
	assert.Error(t, err)
}

func TestSynthesize_DivergentSetsUncertaintyPreserved(t *testing.T) {
	s := newState()
	s.Plan.SynthesisMode = workflow.SynthesisDivergent
	s.ExpertOpinions[workflow.ExpertLiteral] = workflow.ExpertOpinion{Tag: workflow.ExpertLiteral, Interpretation: "a", Confidence: 0.5}
	s.ExpertOpinions[workflow.ExpertPrecedentAnalyst] = workflow.ExpertOpinion{Tag: workflow.ExpertPrecedentAnalyst, Interpretation: "b", Confidence: 0.5}

	sy := New(nil)
	answer, err := sy.Synthesize(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, answer.UncertaintyPreserved)
	assert.NotEmpty(t, answer.AlternativeInterpretations)
}
