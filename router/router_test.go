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

package router

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

func (f fakeGateway) Name() string { return "fake" }
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

func TestPlan_NilGatewayReturnsDefaultPlan(t *testing.T) {
	r := New(nil)
	plan, err := r.Plan(context.Background(), newState())
	require.NoError(t, err)
	assert.ElementsMatch(t, []workflow.AgentTag{workflow.AgentGraph, workflow.AgentVector}, tagsOf(plan))
	assert.Equal(t, workflow.SynthesisAuto, plan.SynthesisMode)
}

func tagsOf(p workflow.ExecutionPlan) []workflow.AgentTag {
	var out []workflow.AgentTag
	for _, a := range p.Agents {
		out = append(out, a.Tag)
	}
	return out
}

func TestPlan_ValidLLMResponseIsHonored(t *testing.T) {
	gw := fakeGateway{content: `{"agents":[{"tag":"http","top_k":5}],"experts":["precedent-analyst"],"synthesis_mode":"divergent","iteration_budget":1}`}
	r := New(gw)
	plan, err := r.Plan(context.Background(), newState())
	require.NoError(t, err)
	require.Len(t, plan.Agents, 1)
	assert.Equal(t, workflow.AgentHTTP, plan.Agents[0].Tag)
	assert.Equal(t, 5, plan.Agents[0].TopK)
	assert.Equal(t, []workflow.ExpertTag{workflow.ExpertPrecedentAnalyst}, plan.Experts)
	assert.Equal(t, workflow.SynthesisDivergent, plan.SynthesisMode)
}

func TestPlan_ZeroAgentsFallsBackToDefault(t *testing.T) {
	gw := fakeGateway{content: `{"agents":[],"experts":["literal"],"synthesis_mode":"auto","iteration_budget":1}`}
	r := New(gw)
	plan, err := r.Plan(context.Background(), newState())
	require.NoError(t, err)
	assert.ElementsMatch(t, []workflow.AgentTag{workflow.AgentGraph, workflow.AgentVector}, tagsOf(plan))
}

func TestPlan_UnknownTagFallsBackToDefault(t *testing.T) {
	gw := fakeGateway{content: `{"agents":[{"tag":"carrier-pigeon","top_k":5}],"experts":["literal"],"synthesis_mode":"auto","iteration_budget":1}`}
	r := New(gw)
	plan, err := r.Plan(context.Background(), newState())
	require.NoError(t, err)
	assert.ElementsMatch(t, []workflow.AgentTag{workflow.AgentGraph, workflow.AgentVector}, tagsOf(plan))
}

func TestPlan_DefaultsTopKWhenOmitted(t *testing.T) {
	gw := fakeGateway{content: `{"agents":[{"tag":"graph"}],"experts":["literal"],"synthesis_mode":"auto","iteration_budget":1}`}
	r := New(gw)
	plan, err := r.Plan(context.Background(), newState())
	require.NoError(t, err)
	require.Len(t, plan.Agents, 1)
	assert.Equal(t, defaultTopK, plan.Agents[0].TopK)
}

func TestDefaultPlan_IterationBudgetMatchesCurrentIteration(t *testing.T) {
	plan := defaultPlan(3)
	assert.Equal(t, 3, plan.IterationBudget)
}
