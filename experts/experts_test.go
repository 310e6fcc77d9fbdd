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

package experts

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

func (f fakeGateway) Name() string   { return "fake" }
func (f fakeGateway) IsHealthy() bool { return f.err == nil }
func (f fakeGateway) Complete(ctx context.Context, prompt string, opts llmclient.CompletionOptions) (*llmclient.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llmclient.CompletionResponse{Content: f.content}, nil
}

func newState() *workflow.State {
	return workflow.NewState(types.Principal{CredentialID: "cred-1"}, "query", types.QueryHints{}, types.DefaultQueryOptions())
}

func TestConsult_ValidResponseProducesOpinion(t *testing.T) {
	gw := fakeGateway{content: `{"interpretation":"text means X","legal_bases":[{"citation":"art. 5","role":"supports","weight":1.0}],"reasoning_steps":["a","b"],"confidence":0.8,"breakdown":{"norm_clarity":0.9,"jurisprudence_alignment":0.6,"contextual_ambiguity":0.1,"source_availability":0.8},"limitations":"none"}`}
	e := NewLiteral(gw)
	opinion := e.Consult(context.Background(), newState())

	assert.Equal(t, workflow.ExpertLiteral, opinion.Tag)
	assert.Equal(t, "text means X", opinion.Interpretation)
	assert.InDelta(t, 0.8, opinion.Confidence, 1e-9)
	require.Len(t, opinion.LegalBases, 1)
	assert.NoError(t, opinion.Err)
}

func TestConsult_NilGatewayReturnsMinimalOpinion(t *testing.T) {
	e := NewPrecedentAnalyst(nil)
	opinion := e.Consult(context.Background(), newState())

	assert.Equal(t, workflow.ExpertPrecedentAnalyst, opinion.Tag)
	assert.InDelta(t, minimalOpinionConfidence, opinion.Confidence, 1e-9)
	assert.Error(t, opinion.Err)
}

func TestConsult_MissingInterpretationFallsBackToMinimalOpinion(t *testing.T) {
	gw := fakeGateway{content: `{"confidence":0.9}`}
	e := NewSystemicTeleological(gw)
	opinion := e.Consult(context.Background(), newState())

	assert.InDelta(t, minimalOpinionConfidence, opinion.Confidence, 1e-9)
}

func TestFourConstructors_HaveDistinctTagsAndLabels(t *testing.T) {
	tags := map[workflow.ExpertTag]bool{}
	for _, e := range []Expert{
		NewLiteral(nil),
		NewSystemicTeleological(nil),
		NewPrinciplesBalancer(nil),
		NewPrecedentAnalyst(nil),
	} {
		tags[e.Tag()] = true
	}
	assert.Len(t, tags, 4)
}

func TestPanel_ConsultRunsAllExpertsConcurrently(t *testing.T) {
	gw := fakeGateway{content: `{"interpretation":"x","confidence":0.7}`}
	panel := NewPanel(NewLiteral(gw), NewSystemicTeleological(gw))

	opinions, err := panel.Consult(context.Background(), newState(), []workflow.ExpertTag{workflow.ExpertLiteral, workflow.ExpertSystemicTeleological})
	require.NoError(t, err)
	assert.Len(t, opinions, 2)
	assert.Contains(t, opinions, workflow.ExpertLiteral)
	assert.Contains(t, opinions, workflow.ExpertSystemicTeleological)
}

func TestPanel_UnknownTagProducesMinimalOpinion(t *testing.T) {
	panel := NewPanel()
	opinions, err := panel.Consult(context.Background(), newState(), []workflow.ExpertTag{workflow.ExpertPrinciplesBalancer})
	require.NoError(t, err)
	require.Contains(t, opinions, workflow.ExpertPrinciplesBalancer)
	assert.InDelta(t, minimalOpinionConfidence, opinions[workflow.ExpertPrinciplesBalancer].Confidence, 1e-9)
}
