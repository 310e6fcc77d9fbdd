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
Package vectoragent embeds each query rewrite, issues a k-NN query
against Qdrant (cosine distance over unit-normalized 1024-d vectors by
default), deduplicates hits across rewrites, and returns the top-k by
max score. The client wiring (NewQuery/ScoreThreshold/WithPayload,
ScoredPoint → hit conversion) is grounded on
Tangerg-lynx/ai/providers/vectorstores/qdrant/store.go's
buildQueryPoints/Retrieve.
*/
package vectoragent

import (
	"context"
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"

	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

const defaultScoreThreshold = 0.0

// Embedder turns text into a unit-normalized vector. A real deployment
// wires this to whichever embedding model backs the collection; it is
// a local interface here so this package has no model-provider
// dependency of its own.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Agent implements retrieval.Agent against a Qdrant collection.
type Agent struct {
	Client         *qdrant.Client
	CollectionName string
	Embedder       Embedder
}

// New builds an Agent over an already-constructed Qdrant client.
func New(client *qdrant.Client, collectionName string, embedder Embedder) *Agent {
	return &Agent{Client: client, CollectionName: collectionName, Embedder: embedder}
}

func (a *Agent) Tag() workflow.AgentTag { return workflow.AgentVector }

// Invoke embeds every query rewrite the plan provides (falling back to
// the original query when none is set), queries Qdrant for each, and
// deduplicates hits by point id, keeping the maximum score seen.
func (a *Agent) Invoke(ctx context.Context, s *workflow.State, params workflow.AgentParams) workflow.AgentResult {
	rewrites := []string{s.OriginalQuery}
	if params.QueryRewrite != "" {
		rewrites = []string{params.QueryRewrite}
	}

	topK := params.TopK
	if topK <= 0 {
		topK = 10
	}

	best := make(map[string]workflow.Hit)

	for _, rewrite := range rewrites {
		hits, err := a.queryOne(ctx, rewrite, topK)
		if err != nil {
			return workflow.AgentResult{SourceTag: "vector", Err: err}
		}
		for _, h := range hits {
			existing, ok := best[h.SourceID]
			if !ok || h.Relevance > existing.Relevance {
				best[h.SourceID] = h
			}
		}
	}

	merged := make([]workflow.Hit, 0, len(best))
	for _, h := range best {
		merged = append(merged, h)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Relevance > merged[j].Relevance })
	if len(merged) > topK {
		merged = merged[:topK]
	}

	return workflow.AgentResult{SourceTag: "vector", Hits: merged}
}

func (a *Agent) queryOne(ctx context.Context, query string, topK int) ([]workflow.Hit, error) {
	vector, err := a.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query rewrite: %w", err)
	}

	threshold := float32(defaultScoreThreshold)
	limit := uint64(topK)
	scored, err := a.Client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: a.CollectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	hits := make([]workflow.Hit, 0, len(scored))
	for _, p := range scored {
		id := ""
		if pid := p.GetId(); pid != nil {
			id = pid.GetUuid()
			if id == "" {
				id = fmt.Sprintf("%d", pid.GetNum())
			}
		}

		citation := ""
		snippet := ""
		metadata := make(map[string]interface{})
		for k, v := range p.GetPayload() {
			switch k {
			case "citation":
				citation = v.GetStringValue()
			case "text":
				snippet = v.GetStringValue()
			default:
				metadata[k] = v.GetStringValue()
			}
		}

		hits = append(hits, workflow.Hit{
			SourceID:  id,
			Citation:  citation,
			Snippet:   snippet,
			Relevance: float64(p.GetScore()),
			Metadata:  metadata,
		})
	}

	return hits, nil
}
