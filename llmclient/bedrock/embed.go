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
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Embedder implements retrieval/vectoragent.Embedder against the Titan
// text-embeddings model on Bedrock, reusing the same InvokeModel call
// shape Provider.Complete uses for completions — a second request/
// response body, not a second client type.
type Embedder struct {
	client *bedrockruntime.Client
	model  string
}

// NewEmbedder loads the default AWS config for region and constructs a
// Bedrock runtime client scoped to embedding calls. An empty model
// defaults to Titan Text Embeddings v2.
func NewEmbedder(ctx context.Context, region, model string) (*Embedder, error) {
	if region == "" {
		region = "us-east-1"
	}
	if model == "" {
		model = "amazon.titan-embed-text-v2:0"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock embeddings (region: %s): %w", region, err)
	}

	return &Embedder{client: bedrockruntime.NewFromConfig(awsCfg), model: model}, nil
}

// Embed implements vectoragent.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	requestJSON, err := json.Marshal(map[string]interface{}{"inputText": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal titan embed request: %w", err)
	}

	output, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock embedding API error: %w", err)
	}

	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal titan embed response: %w", err)
	}

	return resp.Embedding, nil
}
