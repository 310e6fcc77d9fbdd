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

package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	taxonomy "github.com/capazme/MERL-T-alpha-sub001/errors"
	"github.com/capazme/MERL-T-alpha-sub001/metrics"
	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
)

var tracer = otel.Tracer("merlt/workflow")

// Preprocessor runs exactly once per request.
type Preprocessor interface {
	Process(ctx context.Context, s *State) error
}

// Planner is the router: produces an ExecutionPlan for the current
// iteration.
type Planner interface {
	Plan(ctx context.Context, s *State) (ExecutionPlan, error)
}

// Retriever fans agent invocations out in parallel and merges results.
type Retriever interface {
	Retrieve(ctx context.Context, s *State, agents []AgentParams) (map[AgentTag]AgentResult, error)
}

// ExpertPanel fans expert invocations out in parallel.
type ExpertPanel interface {
	Consult(ctx context.Context, s *State, experts []ExpertTag) (map[ExpertTag]ExpertOpinion, error)
}

// Synthesizer combines expert opinions into a provisional answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, s *State) (ProvisionalAnswer, error)
}

// IterationController decides whether to stop or loop back to the
// router, and builds the refinement directive for the next iteration.
type IterationController interface {
	ShouldStop(ctx context.Context, s *State) (stop bool, reason string)
	Refine(ctx context.Context, s *State) error
}

// Persister durably records iteration and request artifacts. A nil
// Persister is allowed; persistence failures are logged, never fatal.
type Persister interface {
	RecordIteration(ctx context.Context, s *State, rec IterationRecord) error
	RecordRequest(ctx context.Context, s *State) error
}

// Engine runs the fixed six-node graph with refinement looping back to
// the router only, as spec.md §5 requires.
type Engine struct {
	Preprocessor Preprocessor
	Router       Planner
	Retriever    Retriever
	Experts      ExpertPanel
	Synthesizer  Synthesizer
	Iteration    IterationController
	Persistence  Persister
	Log          *logger.Logger
}

// NewState builds a fresh Workflow State for an admitted request,
// assigning a new trace id.
func NewState(principal types.Principal, query string, hints types.QueryHints, opts types.QueryOptions) *State {
	return &State{
		TraceID:        uuid.NewString(),
		Principal:      principal,
		OriginalQuery:  query,
		Hints:          hints,
		Options:        opts.Clamp(),
		AgentResults:   make(map[AgentTag]AgentResult),
		ExpertOpinions: make(map[ExpertTag]ExpertOpinion),
	}
}

// Run executes the workflow for s until the iteration controller stops
// it, the request deadline trips, or a logic error aborts the request.
func (e *Engine) Run(ctx context.Context, s *State) error {
	ctx, cancel := context.WithTimeout(ctx, s.Options.Timeout())
	defer cancel()

	ctx, span := tracer.Start(ctx, "workflow.run", trace.WithAttributes())
	defer span.End()

	start := time.Now()
	defer func() { s.ElapsedMS = time.Since(start).Milliseconds() }()

	if err := e.runNode(ctx, s, "preprocessing", func(ctx context.Context) error {
		return e.Preprocessor.Process(ctx, s)
	}); err != nil {
		// Preprocessing never aborts the workflow; degradation is
		// recorded as a warning by the preprocessor itself.
		s.Errors = append(s.Errors, err)
	}

	for {
		select {
		case <-ctx.Done():
			s.AddWarning("timeout")
			if best := bestSeenAnswer(s); best != nil {
				s.Answer = best
			}
			e.finish(ctx, s, "partial")
			return nil
		default:
		}

		if err := e.runIteration(ctx, s); err != nil {
			var te *taxonomy.TaxonomyError
			if taxonomy.As(err, &te) && te.Kind.Class() == taxonomy.ClassLogic {
				e.finish(ctx, s, "failed")
				return err
			}
			s.Errors = append(s.Errors, err)
		}

		stop, reason := e.Iteration.ShouldStop(ctx, s)
		if stop {
			s.Iteration.Stopped = true
			s.Iteration.StopReason = reason
			metrics.ObserveIterationStop(reason)
			break
		}

		if err := e.Iteration.Refine(ctx, s); err != nil {
			s.Errors = append(s.Errors, err)
			break
		}
	}

	e.finish(ctx, s, string(s.FinalStatus()))
	return nil
}

func (e *Engine) runIteration(ctx context.Context, s *State) error {
	idx := len(s.Iteration.Records) + 1
	started := time.Now()

	if err := e.runNode(ctx, s, "router", func(ctx context.Context) error {
		plan, err := e.Router.Plan(ctx, s)
		if err != nil {
			return err
		}
		s.Plan = plan
		return nil
	}); err != nil {
		return err
	}

	if err := e.runNode(ctx, s, "retrieval", func(ctx context.Context) error {
		results, err := e.Retriever.Retrieve(ctx, s, s.Plan.Agents)
		if err != nil {
			return err
		}
		for tag, res := range results {
			s.AgentResults[tag] = res
			if res.Err != nil {
				metrics.ObserveAgentFailure(string(tag))
			}
		}
		return nil
	}); err != nil {
		s.Errors = append(s.Errors, err)
	}

	if err := e.runNode(ctx, s, "experts", func(ctx context.Context) error {
		opinions, err := e.Experts.Consult(ctx, s, s.Plan.Experts)
		if err != nil {
			return err
		}
		for tag, op := range opinions {
			s.ExpertOpinions[tag] = op
			if op.Err != nil {
				metrics.ObserveExpertFailure(string(tag))
			}
		}
		return nil
	}); err != nil {
		s.Errors = append(s.Errors, err)
	}

	var answer ProvisionalAnswer
	if err := e.runNode(ctx, s, "synthesizer", func(ctx context.Context) error {
		a, err := e.Synthesizer.Synthesize(ctx, s)
		if err != nil {
			return err
		}
		answer = a
		return nil
	}); err != nil {
		return err
	}

	s.Answer = &answer
	record := IterationRecord{
		Index:      idx,
		Plan:       s.Plan,
		Answer:     answer,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	s.Iteration.Records = append(s.Iteration.Records, record)

	if e.Persistence != nil {
		if err := e.Persistence.RecordIteration(ctx, s, record); err != nil {
			s.AddWarning("persistence-degraded")
			if e.Log != nil {
				e.Log.Warn(s.Principal.CredentialID, s.TraceID, "iteration persistence failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}

	return nil
}

func (e *Engine) runNode(ctx context.Context, s *State, node string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "workflow.node."+node)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.ObserveNode(node, float64(time.Since(start).Milliseconds()))

	if e.Log != nil {
		if err != nil {
			e.Log.ErrorWithCode(s.Principal.CredentialID, s.TraceID, node+" failed", 0, err, nil)
		} else {
			e.Log.InfoWithDuration(s.Principal.CredentialID, s.TraceID, node+" completed", float64(time.Since(start).Milliseconds()), nil)
		}
	}

	return err
}

// bestSeenAnswer returns the highest-confidence recorded answer, or
// nil if no iteration has completed yet. Used only on request timeout,
// when the iteration controller is not consulted at all.
func bestSeenAnswer(s *State) *ProvisionalAnswer {
	var best *ProvisionalAnswer
	for i := range s.Iteration.Records {
		a := &s.Iteration.Records[i].Answer
		if best == nil || a.Confidence > best.Confidence {
			best = a
		}
	}
	return best
}

func (e *Engine) finish(ctx context.Context, s *State, status string) {
	metrics.ObserveRequest(status, len(s.Iteration.Records))
	if e.Persistence != nil {
		if err := e.Persistence.RecordRequest(ctx, s); err != nil && e.Log != nil {
			e.Log.Warn(s.Principal.CredentialID, s.TraceID, "request persistence failed", map[string]interface{}{"error": err.Error()})
		}
	}
}
