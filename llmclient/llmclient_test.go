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

package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	responses []*CompletionResponse
	errs      []error
	calls     int
}

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) Complete(ctx context.Context, prompt string, opts CompletionOptions) (*CompletionResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeGateway) IsHealthy() bool { return true }

type planOut struct {
	Agents []string `json:"agents"`
}

func TestCallJSON_SucceedsFirstTry(t *testing.T) {
	gw := &fakeGateway{responses: []*CompletionResponse{{Content: `{"agents":["graph","vector"]}`}}}
	var out planOut
	err := CallJSON(context.Background(), gw, "prompt", CompletionOptions{}, nil, &out, `{"agents":["graph"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"graph", "vector"}, out.Agents)
	assert.Equal(t, 1, gw.calls)
}

func TestCallJSON_StripsCodeFence(t *testing.T) {
	gw := &fakeGateway{responses: []*CompletionResponse{{Content: "```json\n{\"agents\":[\"graph\"]}\n```"}}}
	var out planOut
	err := CallJSON(context.Background(), gw, "prompt", CompletionOptions{}, nil, &out, `{"agents":[]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"graph"}, out.Agents)
}

func TestCallJSON_ValidationFailureRetriesThenFalls_Back(t *testing.T) {
	gw := &fakeGateway{responses: []*CompletionResponse{
		{Content: `{"agents":[]}`},
		{Content: `{"agents":[]}`},
		{Content: `{"agents":[]}`},
		{Content: `{"agents":[]}`},
	}}
	validate := func(raw map[string]interface{}) error {
		agents, _ := raw["agents"].([]interface{})
		if len(agents) == 0 {
			return errors.New("zero agents")
		}
		return nil
	}
	var out planOut
	err := CallJSON(context.Background(), gw, "prompt", CompletionOptions{}, validate, &out, `{"agents":["graph","vector"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"graph", "vector"}, out.Agents)
	assert.Equal(t, 4, gw.calls)
}

func TestCallJSON_GatewayErrorRetriesThenFallsBack(t *testing.T) {
	gw := &fakeGateway{errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	var out planOut
	err := CallJSON(context.Background(), gw, "prompt", CompletionOptions{}, nil, &out, `{"agents":["graph"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"graph"}, out.Agents)
}

func TestCallJSON_MalformedFallbackReturnsError(t *testing.T) {
	gw := &fakeGateway{errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	var out planOut
	err := CallJSON(context.Background(), gw, "prompt", CompletionOptions{}, nil, &out, `not json`)
	assert.Error(t, err)
}
