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

package preprocessing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

type fakeUnderstander struct {
	out Understanding
	err error
}

func (f fakeUnderstander) Understand(ctx context.Context, query string, hints map[string]string) (Understanding, error) {
	return f.out, f.err
}

type fakeEnricher struct {
	out workflow.EnrichedContext
	err error
}

func (f fakeEnricher) Enrich(ctx context.Context, qc workflow.QueryContext) (workflow.EnrichedContext, error) {
	return f.out, f.err
}

type fakeCache struct {
	store map[string]workflow.EnrichedContext
	getErr error
	setErr error
}

func newFakeCache() *fakeCache { return &fakeCache{store: make(map[string]workflow.EnrichedContext)} }

func (f *fakeCache) Get(ctx context.Context, fp string) (workflow.EnrichedContext, bool, error) {
	if f.getErr != nil {
		return workflow.EnrichedContext{}, false, f.getErr
	}
	ec, ok := f.store[fp]
	return ec, ok, nil
}

func (f *fakeCache) Set(ctx context.Context, fp string, ec workflow.EnrichedContext) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.store[fp] = ec
	return nil
}

func newState(query string) *workflow.State {
	return workflow.NewState(types.Principal{CredentialID: "cred-1"}, query, types.QueryHints{Jurisdiction: "IT"}, types.DefaultQueryOptions())
}

func TestProcess_FullPipelineSuccess(t *testing.T) {
	p := &Preprocessor{
		Understander: fakeUnderstander{out: Understanding{
			IntentTag:        workflow.IntentInterpretation,
			IntentConfidence: 0.9,
		}},
		Enricher: fakeEnricher{out: workflow.EnrichedContext{Norms: []workflow.EnrichedItem{{Citation: "art. 1218 c.c."}}}},
		Cache:    newFakeCache(),
	}
	s := newState("cosa dice l'articolo 1218 c.c. sull'inadempimento?")

	require.NoError(t, p.Process(context.Background(), s))

	assert.Equal(t, workflow.IntentInterpretation, s.QueryContext.IntentTag)
	assert.InDelta(t, 0.1, s.QueryContext.Complexity, 1e-9)
	assert.NotNil(t, s.Enriched)
	assert.Len(t, s.Enriched.Norms, 1)
	assert.Empty(t, s.Warnings)
}

func TestProcess_UnderstandingFailureDegrades(t *testing.T) {
	p := &Preprocessor{
		Understander: fakeUnderstander{err: errors.New("llm timeout")},
		Enricher:     fakeEnricher{out: workflow.EnrichedContext{}},
		Cache:        newFakeCache(),
	}
	s := newState("articolo 5 legge 300/1970")

	require.NoError(t, p.Process(context.Background(), s))

	assert.Contains(t, s.Warnings, "understanding-degraded")
	assert.Contains(t, s.QueryContext.NormReferences[0], "5")
}

func TestProcess_GraphUnavailableDegrades(t *testing.T) {
	p := &Preprocessor{
		Understander: fakeUnderstander{out: Understanding{IntentTag: workflow.IntentNormSearch, IntentConfidence: 0.8}},
		Enricher:     fakeEnricher{err: errors.New("neo4j unavailable")},
		Cache:        newFakeCache(),
	}
	s := newState("recesso dal contratto di locazione")

	require.NoError(t, p.Process(context.Background(), s))

	assert.Contains(t, s.Warnings, "enrichment-degraded")
	assert.Contains(t, s.Enriched.Degraded, "enrichment-degraded")
}

func TestProcess_NilEnricherDegrades(t *testing.T) {
	p := &Preprocessor{
		Understander: fakeUnderstander{out: Understanding{IntentTag: workflow.IntentNormSearch, IntentConfidence: 0.8}},
	}
	s := newState("garanzia per vizi occulti")

	require.NoError(t, p.Process(context.Background(), s))

	assert.Contains(t, s.Warnings, "enrichment-degraded")
}

func TestProcess_CacheErrorSkipsWithoutFailingRequest(t *testing.T) {
	p := &Preprocessor{
		Understander: fakeUnderstander{out: Understanding{IntentTag: workflow.IntentNormSearch, IntentConfidence: 0.8}},
		Enricher:     fakeEnricher{out: workflow.EnrichedContext{}},
		Cache:        &fakeCache{store: map[string]workflow.EnrichedContext{}, getErr: errors.New("redis down")},
	}
	s := newState("prescrizione del credito")

	require.NoError(t, p.Process(context.Background(), s))

	assert.Contains(t, s.Warnings, "cache-skip")
}

func TestProcess_CacheHitSkipsEnrichment(t *testing.T) {
	cache := newFakeCache()
	p := &Preprocessor{
		Understander: fakeUnderstander{out: Understanding{IntentTag: workflow.IntentNormSearch, IntentConfidence: 0.8}},
		Enricher:     fakeEnricher{out: workflow.EnrichedContext{Norms: []workflow.EnrichedItem{{Citation: "fresh"}}}},
		Cache:        cache,
	}
	s := newState("nullità del contratto")
	require.NoError(t, p.Process(context.Background(), s))

	// Second request with identical shape should hit cache and skip
	// enrichment entirely; swap the enricher for one that errors to prove it.
	p.Enricher = fakeEnricher{err: errors.New("must not be called")}
	s2 := newState("nullità del contratto")
	require.NoError(t, p.Process(context.Background(), s2))

	assert.Equal(t, s.Enriched.Norms, s2.Enriched.Norms)
	assert.NotContains(t, s2.Warnings, "enrichment-degraded")
}

func TestHeuristics_RecognizesNormReferenceAndConcept(t *testing.T) {
	res := runHeuristics("l'art. 1453 c.c. disciplina la risoluzione per inadempimento")

	var gotNorm bool
	for _, e := range res.Entities {
		if e.Type == "norm-reference" {
			gotNorm = true
		}
	}
	assert.True(t, gotNorm)
	assert.Contains(t, res.Concepts, "termination")
	assert.Contains(t, res.Concepts, "breach")
}

func TestFingerprint_StableAcrossEquivalentContexts(t *testing.T) {
	qc1 := workflow.QueryContext{IntentTag: workflow.IntentNormSearch, Entities: []workflow.EntitySpan{{Text: "Art. 5", Type: "norm-reference"}}, Concepts: []string{"breach", "termination"}}
	qc2 := workflow.QueryContext{IntentTag: workflow.IntentNormSearch, Entities: []workflow.EntitySpan{{Text: "art. 5", Type: "norm-reference"}}, Concepts: []string{"termination", "breach"}}

	assert.Equal(t, fingerprint(qc1, "IT"), fingerprint(qc2, "IT"))
	assert.NotEqual(t, fingerprint(qc1, "IT"), fingerprint(qc1, "FR"))
}
