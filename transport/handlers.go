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

package transport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	taxonomy "github.com/capazme/MERL-T-alpha-sub001/errors"
	"github.com/capazme/MERL-T-alpha-sub001/persistence"
	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

// traces holds recently completed/running workflow states in memory,
// keyed by trace id, so "fetch by trace id" can return the full state
// snapshot spec.md §6 asks for without reconstructing it from the
// normalized persistence rows. The durable store remains the system
// of record for everything recorded there; this is a bounded read
// cache over requests this process itself served.
type traceCache struct {
	mu     sync.RWMutex
	states map[string]*workflow.State
	order  []string
	max    int
}

func newTraceCache(max int) *traceCache {
	return &traceCache{states: make(map[string]*workflow.State), max: max}
}

func (c *traceCache) put(s *workflow.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.states[s.TraceID]; !exists {
		c.order = append(c.order, s.TraceID)
		if len(c.order) > c.max {
			evict := c.order[0]
			c.order = c.order[1:]
			delete(c.states, evict)
		}
	}
	c.states[s.TraceID] = s
}

func (c *traceCache) get(traceID string) (*workflow.State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[traceID]
	return s, ok
}

var defaultTraces = newTraceCache(10000)

// queryRequest is the submit-query request body.
type queryRequest struct {
	Query   string            `json:"query"`
	Hints   types.QueryHints  `json:"hints"`
	Options *types.QueryOptions `json:"options,omitempty"`
}

// queryResponse is the submit-query response body.
type queryResponse struct {
	TraceID string                     `json:"trace_id"`
	Status  string                     `json:"status"`
	Answer  *workflow.ProvisionalAnswer `json:"answer,omitempty"`
	Trace   *workflow.State            `json:"trace,omitempty"`
	Errors  []string                   `json:"errors,omitempty"`
}

func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request, principal types.Principal) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, taxonomy.New(taxonomy.KindValidationSchema, "transport", "submit-query", "malformed request body", err))
		return
	}
	if req.Query == "" {
		writeError(w, taxonomy.New(taxonomy.KindValidationSchema, "transport", "submit-query", "query is required", nil))
		return
	}

	opts := types.DefaultQueryOptions()
	if req.Options != nil {
		opts = *req.Options
	}

	state := workflow.NewState(principal, req.Query, req.Hints, opts)
	defaultTraces.put(state)

	if err := s.Engine.Run(r.Context(), state); err != nil {
		writeError(w, err)
		return
	}

	resp := queryResponse{TraceID: state.TraceID, Status: string(state.FinalStatus()), Answer: state.Answer}
	if state.Options.ReturnTrace {
		resp.Trace = state
	}
	for _, e := range state.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFetchByTraceID(w http.ResponseWriter, r *http.Request, principal types.Principal) {
	traceID := mux.Vars(r)["traceId"]
	state, ok := defaultTraces.get(traceID)
	if !ok {
		writeError(w, taxonomy.New(taxonomy.KindValidationSchema, "transport", "fetch-by-trace-id", "unknown trace id", nil))
		return
	}
	if state.Principal.CredentialID != principal.CredentialID && principal.Role != types.RoleAdmin {
		writeError(w, taxonomy.New(taxonomy.KindCredentialForbiddenRole, "transport", "fetch-by-trace-id", "trace belongs to a different credential", nil))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type userFeedbackRequest struct {
	IterationIndex  int            `json:"iteration_index"`
	Rating          int            `json:"rating"`
	Text            string         `json:"text"`
	CategoryRatings map[string]int `json:"category_ratings"`
}

type feedbackResponse struct {
	FeedbackID int64 `json:"feedback_id"`
}

func (s *Server) handleUserFeedback(w http.ResponseWriter, r *http.Request, principal types.Principal) {
	traceID := mux.Vars(r)["traceId"]
	var req userFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, taxonomy.New(taxonomy.KindValidationSchema, "transport", "user-feedback", "malformed request body", err))
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, taxonomy.New(taxonomy.KindValidationOutOfRange, "transport", "user-feedback", "rating must be 1..5", nil))
		return
	}
	if s.Persistence == nil {
		writeError(w, taxonomy.New(taxonomy.KindDurableUnavailable, "transport", "user-feedback", "persistence not configured", nil))
		return
	}

	id, err := s.Persistence.RecordUserFeedback(r.Context(), persistence.UserFeedback{
		TraceID: traceID, IterationIndex: req.IterationIndex, Rating: req.Rating,
		Text: req.Text, CategoryRatings: req.CategoryRatings,
	})
	if err != nil {
		writeError(w, taxonomy.New(taxonomy.KindDurableUnavailable, "transport", "user-feedback", "failed to record feedback", err))
		return
	}

	if state, ok := defaultTraces.get(traceID); ok {
		for i := range state.Iteration.Records {
			if state.Iteration.Records[i].Index == req.IterationIndex {
				state.Iteration.Records[i].UserRating = &req.Rating
				if req.Text != "" {
					state.Iteration.Records[i].UserFeedbackNotes = append(state.Iteration.Records[i].UserFeedbackNotes, req.Text)
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, feedbackResponse{FeedbackID: id})
}

type expertCorrectionRequest struct {
	IterationIndex  int     `json:"iteration_index"`
	ExpertID        string  `json:"expert_id"`
	AuthorityWeight float64 `json:"authority_weight"`
	ConceptMapping  string  `json:"concept_mapping"`
	RoutingDecision string  `json:"routing_decision"`
	AnswerQuality   string  `json:"answer_quality"`
	OverallRating   int     `json:"overall_rating"`
}

type expertCorrectionResponse struct {
	FeedbackID      int64 `json:"feedback_id"`
	RetrainTriggered bool `json:"retrain_triggered"`
}

// retrainThreshold is the step at which a retraining cycle is signaled
// to the caller: the flag is set whenever a correction brings a single
// expert id's record count to a multiple of this value. This runtime does not itself own a retraining pipeline; the
// flag is informational, for an external RLCF process to act on.
const retrainThreshold = 50

func (s *Server) handleExpertCorrection(w http.ResponseWriter, r *http.Request, principal types.Principal) {
	traceID := mux.Vars(r)["traceId"]
	var req expertCorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, taxonomy.New(taxonomy.KindValidationSchema, "transport", "expert-correction", "malformed request body", err))
		return
	}
	if req.AuthorityWeight < 0 || req.AuthorityWeight > 1 {
		writeError(w, taxonomy.New(taxonomy.KindValidationOutOfRange, "transport", "expert-correction", "authority weight must be in [0,1]", nil))
		return
	}
	if req.OverallRating < 1 || req.OverallRating > 5 {
		writeError(w, taxonomy.New(taxonomy.KindValidationOutOfRange, "transport", "expert-correction", "overall rating must be 1..5", nil))
		return
	}
	if s.Persistence == nil {
		writeError(w, taxonomy.New(taxonomy.KindDurableUnavailable, "transport", "expert-correction", "persistence not configured", nil))
		return
	}

	id, err := s.Persistence.RecordExpertFeedback(r.Context(), persistence.ExpertFeedback{
		TraceID: traceID, IterationIndex: req.IterationIndex, ExpertID: req.ExpertID,
		AuthorityWeight: req.AuthorityWeight, ConceptMapping: req.ConceptMapping,
		RoutingDecision: req.RoutingDecision, AnswerQuality: req.AnswerQuality, OverallRating: req.OverallRating,
	})
	if err != nil {
		writeError(w, taxonomy.New(taxonomy.KindDurableUnavailable, "transport", "expert-correction", "failed to record correction", err))
		return
	}

	retrainTriggered := false
	if count, cerr := s.Persistence.CountExpertFeedback(r.Context(), req.ExpertID); cerr == nil {
		retrainTriggered = count%retrainThreshold == 0
	}

	writeJSON(w, http.StatusOK, expertCorrectionResponse{FeedbackID: id, RetrainTriggered: retrainTriggered})
}

type entityCorrectionRequest struct {
	Kind           string `json:"kind"`
	Text           string `json:"text"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
	CorrectLabel   string `json:"correct_label"`
	IncorrectLabel string `json:"incorrect_label"`
}

var validEntityCorrectionKinds = map[string]bool{
	"missing-entity": true, "spurious-entity": true, "wrong-boundary": true, "wrong-type": true,
}

func (s *Server) handleEntityCorrection(w http.ResponseWriter, r *http.Request, principal types.Principal) {
	traceID := mux.Vars(r)["traceId"]
	var req entityCorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, taxonomy.New(taxonomy.KindValidationSchema, "transport", "entity-correction", "malformed request body", err))
		return
	}
	if !validEntityCorrectionKinds[req.Kind] {
		writeError(w, taxonomy.New(taxonomy.KindValidationOutOfRange, "transport", "entity-correction", "unrecognized correction kind", nil))
		return
	}
	if s.Persistence == nil {
		writeError(w, taxonomy.New(taxonomy.KindDurableUnavailable, "transport", "entity-correction", "persistence not configured", nil))
		return
	}

	id, err := s.Persistence.RecordEntityFeedback(r.Context(), persistence.EntityFeedback{
		TraceID: traceID, Kind: req.Kind, Text: req.Text, Start: req.Start, End: req.End,
		CorrectLabel: req.CorrectLabel, IncorrectLabel: req.IncorrectLabel,
	})
	if err != nil {
		writeError(w, taxonomy.New(taxonomy.KindDurableUnavailable, "transport", "entity-correction", "failed to record correction", err))
		return
	}

	writeJSON(w, http.StatusOK, feedbackResponse{FeedbackID: id})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "merlt-workflow",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	defaultTraces.mu.RLock()
	count := len(defaultTraces.states)
	defaultTraces.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"traces_cached": count,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind, ok := taxonomy.KindOf(err)
	status := http.StatusInternalServerError
	if ok {
		status = kind.HTTPStatus()
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
