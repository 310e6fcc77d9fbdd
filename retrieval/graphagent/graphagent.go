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
Package graphagent issues parameterized Cypher queries against the
knowledge graph for norms, case law, doctrine, contributions, and
controversies, and also backs preprocessing's graph enrichment step
(they query the same store, so both live behind one driver wrapper).
*/
package graphagent

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

// Agent implements retrieval.Agent and preprocessing.GraphEnricher
// against a Neo4j driver.
type Agent struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

// New wraps an already-constructed driver. Connect builds one from a
// URL and credentials.
func New(driver neo4j.DriverWithContext, database string) *Agent {
	if database == "" {
		database = "neo4j"
	}
	return &Agent{driver: driver, database: database, log: logger.New("graphagent")}
}

// Connect opens a Neo4j driver against uri with basic auth and
// verifies connectivity.
func Connect(ctx context.Context, uri, username, password, database string) (*Agent, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to construct neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity check failed: %w", err)
	}
	return New(driver, database), nil
}

func (a *Agent) Tag() workflow.AgentTag { return workflow.AgentGraph }

// Invoke runs the agent's retrieval queries for the current plan
// parameters, returning an empty hit list with an error annotation on
// any failure — it never aborts the workflow.
func (a *Agent) Invoke(ctx context.Context, s *workflow.State, params workflow.AgentParams) workflow.AgentResult {
	hits, err := a.queryHits(ctx, s, params)
	if err != nil {
		return workflow.AgentResult{SourceTag: "graph", Err: err}
	}
	return workflow.AgentResult{SourceTag: "graph", Hits: hits}
}

func (a *Agent) queryHits(ctx context.Context, s *workflow.State, params workflow.AgentParams) ([]workflow.Hit, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: a.database})
	defer session.Close(ctx)

	normRefs := []string{}
	if s.QueryContext != nil {
		normRefs = s.QueryContext.NormReferences
	}

	cypher := `
MATCH (n:Norm)
WHERE size($refs) = 0 OR n.citation IN $refs
OPTIONAL MATCH (n)<-[:INTERPRETS]-(c:CaseLaw)
RETURN n.id AS id, n.citation AS citation, n.text AS text, count(c) AS caseCount
ORDER BY caseCount DESC
LIMIT $limit`

	limit := params.TopK
	if limit <= 0 {
		limit = 10
	}

	result, err := session.Run(ctx, cypher, map[string]interface{}{"refs": normRefs, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph query failed: %w", err)
	}

	var hits []workflow.Hit
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		citation, _ := rec.Get("citation")
		text, _ := rec.Get("text")
		caseCount, _ := rec.Get("caseCount")

		relevance := 0.5
		if cc, ok := caseCount.(int64); ok && cc > 0 {
			relevance = 0.5 + 0.05*float64(cc)
			if relevance > 1.0 {
				relevance = 1.0
			}
		}

		hits = append(hits, workflow.Hit{
			SourceID:  fmt.Sprintf("%v", id),
			Citation:  fmt.Sprintf("%v", citation),
			Snippet:   fmt.Sprintf("%v", text),
			Relevance: relevance,
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graph result iteration failed: %w", err)
	}

	return hits, nil
}

// Enrich implements preprocessing.GraphEnricher: it resolves the
// query's entities and concepts against norms, case law, doctrine, and
// community contributions, and surfaces any flagged controversies.
func (a *Agent) Enrich(ctx context.Context, qc workflow.QueryContext) (workflow.EnrichedContext, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: a.database})
	defer session.Close(ctx)

	cypher := `
MATCH (n:Norm)
WHERE size($refs) = 0 OR n.citation IN $refs
OPTIONAL MATCH (n)<-[:INTERPRETS]-(c:CaseLaw)
OPTIONAL MATCH (n)<-[:DISCUSSES]-(d:Doctrine)
OPTIONAL MATCH (n)<-[:CONTRIBUTES_TO]-(co:Community)
OPTIONAL MATCH (n)-[:FLAGGED]->(ctrl:Controversy)
RETURN n.id AS normID, n.citation AS normCitation, n.text AS normText,
       collect(DISTINCT c.citation) AS caseCitations,
       collect(DISTINCT d.citation) AS doctrineCitations,
       collect(DISTINCT co.citation) AS communityCitations,
       collect(DISTINCT ctrl.label) AS controversies
LIMIT 25`

	result, err := session.Run(ctx, cypher, map[string]interface{}{"refs": qc.NormReferences})
	if err != nil {
		return workflow.EnrichedContext{}, fmt.Errorf("enrichment query failed: %w", err)
	}

	var ec workflow.EnrichedContext
	for result.Next(ctx) {
		rec := result.Record()
		normID, _ := rec.Get("normID")
		normCitation, _ := rec.Get("normCitation")
		normText, _ := rec.Get("normText")

		ec.Norms = append(ec.Norms, workflow.EnrichedItem{
			SourceID:   fmt.Sprintf("%v", normID),
			SourceTag:  "graph",
			Citation:   fmt.Sprintf("%v", normCitation),
			Text:       fmt.Sprintf("%v", normText),
			Confidence: 0.8,
		})

		appendCitations(&ec.CaseLaw, rec, "caseCitations")
		appendCitations(&ec.Doctrine, rec, "doctrineCitations")
		appendCitations(&ec.Community, rec, "communityCitations")

		if ctrls, ok := rec.Get("controversies"); ok {
			if list, ok := ctrls.([]interface{}); ok {
				for _, c := range list {
					if label, ok := c.(string); ok && label != "" {
						ec.Controversies = append(ec.Controversies, label)
					}
				}
			}
		}
	}
	if err := result.Err(); err != nil {
		return workflow.EnrichedContext{}, fmt.Errorf("enrichment result iteration failed: %w", err)
	}

	return ec, nil
}

func appendCitations(dst *[]workflow.EnrichedItem, rec *neo4j.Record, key string) {
	val, ok := rec.Get(key)
	if !ok {
		return
	}
	list, ok := val.([]interface{})
	if !ok {
		return
	}
	for _, c := range list {
		citation, ok := c.(string)
		if !ok || citation == "" {
			continue
		}
		*dst = append(*dst, workflow.EnrichedItem{SourceTag: "graph", Citation: citation, Confidence: 0.6})
	}
}

// Close releases the underlying driver's resources.
func (a *Agent) Close(ctx context.Context) error {
	return a.driver.Close(ctx)
}
