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
Package workflow holds the Workflow State threaded through every node
and the six-node graph executor (preprocessing, router, retrieval,
experts, synthesizer, iteration) with refinement looping back to the
router. The executor generalizes the teacher's WorkflowEngine
(orchestrator/workflow_engine.go): "group steps, run groups with
goroutines + WaitGroup" becomes "run the fixed node order once per
iteration," instead of an arbitrary step-type map.
*/
package workflow

import (
	"time"

	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
)

// AgentTag identifies a retrieval agent.
type AgentTag string

const (
	AgentGraph AgentTag = "graph"
	AgentHTTP  AgentTag = "http"
	AgentVector AgentTag = "vector"
)

// ExpertTag identifies a reasoning expert.
type ExpertTag string

const (
	ExpertLiteral               ExpertTag = "literal"
	ExpertSystemicTeleological   ExpertTag = "systemic-teleological"
	ExpertPrinciplesBalancer     ExpertTag = "principles-balancer"
	ExpertPrecedentAnalyst       ExpertTag = "precedent-analyst"
)

// SynthesisMode selects how the synthesizer combines expert opinions.
type SynthesisMode string

const (
	SynthesisConvergent SynthesisMode = "convergent"
	SynthesisDivergent  SynthesisMode = "divergent"
	SynthesisAuto       SynthesisMode = "auto"
)

// IntentTag is the preprocessing node's classification of the query.
type IntentTag string

const (
	IntentNormSearch      IntentTag = "norm-search"
	IntentInterpretation  IntentTag = "interpretation"
	IntentComplianceCheck IntentTag = "compliance-check"
	IntentDocumentDrafting IntentTag = "document-drafting"
	IntentRiskSpotting    IntentTag = "risk-spotting"
	IntentUnknown         IntentTag = "unknown"
)

// EntitySpan is a typed span recognized in the query text.
type EntitySpan struct {
	Text       string
	Type       string
	Start      int
	End        int
	Confidence float64
}

// QueryContext is produced once by preprocessing and is read-only
// thereafter.
type QueryContext struct {
	IntentTag        IntentTag
	IntentConfidence float64
	Complexity       float64
	Entities         []EntitySpan
	Concepts         []string
	NormReferences   []string
	TemporalHints    []string
	Degraded         []string // warning tags: understanding-degraded, enrichment-degraded, ...
}

// EnrichedItem is one item of graph-sourced context.
type EnrichedItem struct {
	SourceID   string
	SourceTag  string
	Citation   string
	Text       string
	Confidence float64
}

// EnrichedContext is the graph-enrichment output.
type EnrichedContext struct {
	Norms        []EnrichedItem
	CaseLaw      []EnrichedItem
	Doctrine     []EnrichedItem
	Community    []EnrichedItem
	Controversies []string
	Degraded     []string
}

// AgentParams are per-agent invocation parameters in an ExecutionPlan.
type AgentParams struct {
	Tag          AgentTag
	QueryRewrite string
	Filters      map[string]string
	TopK         int
}

// ExecutionPlan is produced by the router once per iteration.
type ExecutionPlan struct {
	Agents         []AgentParams
	Experts        []ExpertTag
	SynthesisMode  SynthesisMode
	IterationBudget int
	Rationale      string
}

// Hit is one retrieval result.
type Hit struct {
	SourceID  string
	Citation  string
	Snippet   string
	Relevance float64
	Metadata  map[string]interface{}
}

// AgentResult is one agent's output for an iteration.
type AgentResult struct {
	Tag       AgentTag
	SourceTag string
	Hits      []Hit
	LatencyMS int64
	Err       error
}

// LegalBasis is a citation supporting an expert's interpretation.
type LegalBasis struct {
	Citation string
	Role     string
	Weight   float64
}

// ConfidenceBreakdown scores an expert opinion along four axes.
type ConfidenceBreakdown struct {
	NormClarity            float64
	JurisprudenceAlignment float64
	ContextualAmbiguity    float64
	SourceAvailability     float64
}

// ExpertOpinion is one expert's reasoning output for an iteration.
type ExpertOpinion struct {
	Tag             ExpertTag
	Interpretation  string
	LegalBases      []LegalBasis
	ReasoningSteps  []string
	Confidence      float64
	Breakdown       ConfidenceBreakdown
	Limitations     string
	TokensConsumed  int
	LatencyMS       int64
	Err             error
}

// ProvenanceEntry maps one claim to its supporting sources and experts.
type ProvenanceEntry struct {
	Claim     string
	SourceIDs []string
	Experts   []ExpertTag
}

// ProvisionalAnswer is the synthesizer's output for an iteration.
type ProvisionalAnswer struct {
	Prose                  string
	SynthesisModeUsed      SynthesisMode
	ConsensusLevel         float64
	Confidence             float64
	Provenance             []ProvenanceEntry
	ExpertsConsulted       []ExpertTag
	UncertaintyPreserved   bool
	AlternativeInterpretations []string
}

// IterationRecord is one append-only entry in the iteration history.
type IterationRecord struct {
	Index                   int
	Plan                    ExecutionPlan
	Answer                  ProvisionalAnswer
	UserRating              *int
	RLCFScore               *float64
	UserFeedbackNotes       []string
	ExternalEvaluationNotes []string
	StartedAt               time.Time
	FinishedAt              time.Time
}

// IterationContext tracks the refinement loop's running state.
type IterationContext struct {
	Records       []IterationRecord
	StopReason    string
	Stopped       bool
}

// CurrentAnswer returns the record with the highest index, or nil if
// no iteration has completed yet.
func (ic *IterationContext) CurrentAnswer() *IterationRecord {
	if len(ic.Records) == 0 {
		return nil
	}
	return &ic.Records[len(ic.Records)-1]
}

// State is the Workflow State threaded through every node. Trace id
// and OriginalQuery never change after admission; QueryContext is
// written once by preprocessing.
type State struct {
	TraceID          string
	Principal        types.Principal
	OriginalQuery    string
	Hints            types.QueryHints
	Options          types.QueryOptions
	QueryContext     *QueryContext
	Enriched         *EnrichedContext
	Plan             ExecutionPlan
	AgentResults     map[AgentTag]AgentResult
	ExpertOpinions   map[ExpertTag]ExpertOpinion
	Answer           *ProvisionalAnswer
	Iteration        IterationContext
	RefinementDirective string
	Errors           []error
	Warnings         []string
	ElapsedMS        int64
}

// AddWarning appends a warning tag, deduplicated.
func (s *State) AddWarning(tag string) {
	for _, w := range s.Warnings {
		if w == tag {
			return
		}
	}
	s.Warnings = append(s.Warnings, tag)
}

// Status summarizes the request's outcome for the API surface.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// FinalStatus derives the response status from the state.
func (s *State) FinalStatus() Status {
	if len(s.Iteration.Records) == 0 {
		return StatusFailed
	}
	if len(s.Errors) > 0 {
		return StatusPartial
	}
	return StatusSuccess
}
