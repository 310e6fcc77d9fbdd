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
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

// Understanding is the LLM understanding call's output, produced by a
// single structured prompt/response round trip against llmclient. The
// interface is defined here, not imported from llmclient, so that this
// package has no dependency on the concrete provider wiring.
type Understanding struct {
	IntentTag        workflow.IntentTag
	IntentConfidence float64
	Entities         []workflow.EntitySpan
	Concepts         []string
	NormReferences   []string
	TemporalHints    []string
}

// Understander performs the LLM understanding pass over a query.
type Understander interface {
	Understand(ctx context.Context, query string, hints map[string]string) (Understanding, error)
}

// GraphEnricher resolves recognized entities and concepts against the
// knowledge graph, producing an EnrichedContext.
type GraphEnricher interface {
	Enrich(ctx context.Context, qc workflow.QueryContext) (workflow.EnrichedContext, error)
}

// FingerprintCache looks up and stores an EnrichedContext keyed by the
// query fingerprint, so repeated queries with the same normalized shape
// skip graph enrichment.
type FingerprintCache interface {
	Get(ctx context.Context, fingerprint string) (workflow.EnrichedContext, bool, error)
	Set(ctx context.Context, fingerprint string, ec workflow.EnrichedContext) error
}

// Preprocessor is the workflow.Preprocessor implementation: a heuristic
// regex pass combined with an LLM understanding call, then graph
// enrichment behind a fingerprint cache. It never fails the request —
// every dependency failure degrades to a narrower output and a warning
// tag, per the three-level ladder this package implements.
type Preprocessor struct {
	Understander Understander
	Enricher     GraphEnricher
	Cache        FingerprintCache
	Log          *logger.Logger
}

// Process fills s.QueryContext and s.Enriched in place.
func (p *Preprocessor) Process(ctx context.Context, s *workflow.State) error {
	heur := runHeuristics(s.OriginalQuery)

	qc := workflow.QueryContext{
		IntentTag:      workflow.IntentUnknown,
		Entities:       heur.Entities,
		Concepts:       heur.Concepts,
		TemporalHints:  heur.Dates,
		NormReferences: normReferences(heur.Entities),
	}

	if p.Understander != nil {
		hints := map[string]string{"jurisdiction": s.Hints.Jurisdiction}
		u, err := p.Understander.Understand(ctx, s.OriginalQuery, hints)
		if err != nil {
			qc.Degraded = append(qc.Degraded, "understanding-degraded")
			s.AddWarning("understanding-degraded")
			qc.IntentConfidence = heuristicConfidence(heur)
			if p.Log != nil {
				p.Log.Warn(s.Principal.CredentialID, s.TraceID, "llm understanding failed, using heuristic-only output", map[string]interface{}{"error": err.Error()})
			}
		} else {
			qc.IntentTag = u.IntentTag
			qc.IntentConfidence = u.IntentConfidence
			qc.Entities = mergeEntities(heur.Entities, u.Entities)
			qc.Concepts = mergeStrings(heur.Concepts, u.Concepts)
			qc.NormReferences = mergeStrings(qc.NormReferences, u.NormReferences)
			qc.TemporalHints = mergeStrings(heur.Dates, u.TemporalHints)
		}
	} else {
		qc.Degraded = append(qc.Degraded, "understanding-degraded")
		s.AddWarning("understanding-degraded")
		qc.IntentConfidence = heuristicConfidence(heur)
	}

	qc.Complexity = clamp01(1.0 - qc.IntentConfidence)
	s.QueryContext = &qc

	fp := fingerprint(qc, s.Hints.Jurisdiction)

	if p.Cache != nil {
		if ec, hit, err := p.Cache.Get(ctx, fp); err == nil && hit {
			s.Enriched = &ec
			return nil
		} else if err != nil {
			s.AddWarning("cache-skip")
			if p.Log != nil {
				p.Log.Warn(s.Principal.CredentialID, s.TraceID, "fingerprint cache lookup failed, skipping", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	if p.Enricher == nil {
		ec := workflow.EnrichedContext{Degraded: []string{"enrichment-degraded"}}
		s.AddWarning("enrichment-degraded")
		s.Enriched = &ec
		return nil
	}

	ec, err := p.Enricher.Enrich(ctx, qc)
	if err != nil {
		ec = workflow.EnrichedContext{Degraded: []string{"enrichment-degraded"}}
		s.AddWarning("enrichment-degraded")
		if p.Log != nil {
			p.Log.Warn(s.Principal.CredentialID, s.TraceID, "graph store unavailable, enrichment degraded", map[string]interface{}{"error": err.Error()})
		}
	}
	s.Enriched = &ec

	if p.Cache != nil && err == nil {
		if cerr := p.Cache.Set(ctx, fp, ec); cerr != nil {
			s.AddWarning("cache-skip")
			if p.Log != nil {
				p.Log.Warn(s.Principal.CredentialID, s.TraceID, "fingerprint cache write failed, skipping", map[string]interface{}{"error": cerr.Error()})
			}
		}
	}

	return nil
}

func normReferences(entities []workflow.EntitySpan) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, e := range entities {
		if e.Type == "norm-reference" && !seen[e.Text] {
			refs = append(refs, e.Text)
			seen[e.Text] = true
		}
	}
	return refs
}

func heuristicConfidence(h heuristicResult) float64 {
	if len(h.Entities) == 0 && len(h.Concepts) == 0 {
		return 0.2
	}
	return 0.5
}

func mergeEntities(a, b []workflow.EntitySpan) []workflow.EntitySpan {
	seen := make(map[string]bool)
	var out []workflow.EntitySpan
	for _, e := range append(append([]workflow.EntitySpan{}, a...), b...) {
		key := e.Type + "|" + e.Text
		if !seen[key] {
			out = append(out, e)
			seen[key] = true
		}
	}
	return out
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fingerprint derives a cache key from the canonical form of the
// intent tag, sorted entity text, sorted concept tags, and the
// jurisdiction hint, so queries with the same normalized shape share a
// cache entry regardless of surface wording.
func fingerprint(qc workflow.QueryContext, jurisdiction string) string {
	entityTexts := make([]string, 0, len(qc.Entities))
	for _, e := range qc.Entities {
		entityTexts = append(entityTexts, strings.ToLower(e.Text))
	}
	sort.Strings(entityTexts)

	concepts := append([]string{}, qc.Concepts...)
	sort.Strings(concepts)

	h := sha256.New()
	h.Write([]byte(string(qc.IntentTag)))
	h.Write([]byte("|"))
	h.Write([]byte(strings.Join(entityTexts, ",")))
	h.Write([]byte("|"))
	h.Write([]byte(strings.Join(concepts, ",")))
	h.Write([]byte("|"))
	h.Write([]byte(strings.ToLower(jurisdiction)))
	return hex.EncodeToString(h.Sum(nil))
}
