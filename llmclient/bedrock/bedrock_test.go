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

package bedrock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capazme/MERL-T-alpha-sub001/llmclient"
)

func TestParseAnthropicResponse(t *testing.T) {
	body := []byte(`{"content":[{"text":"hello"}],"usage":{"input_tokens":10,"output_tokens":5}}`)
	resp, err := parseAnthropicResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 15, resp.TokensUsed)
}

func TestParseAnthropicResponse_EmptyContent(t *testing.T) {
	body := []byte(`{"content":[],"usage":{"input_tokens":1,"output_tokens":0}}`)
	resp, err := parseAnthropicResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "", resp.Content)
}

func TestParseAnthropicResponse_MalformedBody(t *testing.T) {
	_, err := parseAnthropicResponse([]byte(`not json`))
	assert.Error(t, err)
}

func TestAnthropicRequestBody_DefaultsMaxTokens(t *testing.T) {
	body := anthropicRequestBody("hi", llmclient.CompletionOptions{})
	assert.Equal(t, 2048, body["max_tokens"])
}

func TestAnthropicRequestBody_IncludesSystemPromptWhenSet(t *testing.T) {
	body := anthropicRequestBody("hi", llmclient.CompletionOptions{SystemPrompt: "be terse"})
	assert.Equal(t, "be terse", body["system"])
}
