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
Package iteration decides, after each synthesis, whether the workflow
should loop back to the router with a refinement directive or stop.
Six criteria are evaluated in priority order; the first that matches
wins. The engine's own timeout handling (not this package) is
responsible for short-circuiting to the best-seen answer when the
overall request deadline elapses, since at that point no criterion is
consulted at all.
*/
package iteration

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/capazme/MERL-T-alpha-sub001/config"
	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

const (
	ReasonMaxIterations             = "max-iterations"
	ReasonHighConfidenceAndConsensus = "high-confidence-and-consensus"
	ReasonRLCFApproved              = "rlcf-approved"
	ReasonUserSatisfied             = "user-satisfied"
	ReasonNoImprovement             = "no-improvement"
	ReasonConverged                 = "converged"
)

// convergenceSpreadCeil bounds the 6th criterion; spec.md gives no
// separate config key for it, unlike the other five thresholds.
const convergenceSpreadCeil = 0.05

// Controller implements workflow.IterationController.
type Controller struct {
	Cfg config.Iteration
	Log *logger.Logger
}

// New builds a Controller from the iteration configuration surface.
func New(cfg config.Iteration) *Controller {
	if cfg.Max <= 0 {
		cfg.Max = 1
	}
	return &Controller{Cfg: cfg}
}

// ShouldStop evaluates the six stopping criteria in priority order.
func (c *Controller) ShouldStop(ctx context.Context, s *workflow.State) (bool, string) {
	current := s.Iteration.CurrentAnswer()
	if current == nil {
		return false, ""
	}

	budget := c.Cfg.Max
	if s.Plan.IterationBudget > 0 {
		budget = s.Plan.IterationBudget
	}
	if current.Index >= budget {
		return true, ReasonMaxIterations
	}

	if current.Answer.Confidence >= c.Cfg.StopConfidence && current.Answer.ConsensusLevel >= c.Cfg.StopConsensus {
		return true, ReasonHighConfidenceAndConsensus
	}

	if current.RLCFScore != nil && *current.RLCFScore >= c.Cfg.StopQuality {
		return true, ReasonRLCFApproved
	}

	if current.UserRating != nil && float64(*current.UserRating) >= c.Cfg.StopUserRating {
		return true, ReasonUserSatisfied
	}

	records := s.Iteration.Records
	window := c.Cfg.ConvergenceWindow
	if window < 2 {
		window = 2
	}
	if len(records) >= window {
		prev := records[len(records)-2]

		confDelta := current.Answer.Confidence - prev.Answer.Confidence
		consDelta := current.Answer.ConsensusLevel - prev.Answer.ConsensusLevel
		meanDelta := (confDelta + consDelta) / 2
		if meanDelta < c.Cfg.StopImprovementDelta {
			return true, ReasonNoImprovement
		}

		confSpread := math.Abs(current.Answer.Confidence - prev.Answer.Confidence)
		consSpread := math.Abs(current.Answer.ConsensusLevel - prev.Answer.ConsensusLevel)
		if confSpread < convergenceSpreadCeil && consSpread < convergenceSpreadCeil {
			return true, ReasonConverged
		}
	}

	return false, ""
}

// Refine builds the next iteration's refinement directive from the
// current answer's limitations, user feedback, and external
// evaluation notes, and attaches it to the state. Preprocessing is
// never re-entered; only the router and experts consume the directive.
func (c *Controller) Refine(ctx context.Context, s *workflow.State) error {
	current := s.Iteration.CurrentAnswer()
	if current == nil {
		return fmt.Errorf("no completed iteration to refine from")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Previous answer (confidence %.2f, consensus %.2f): %s\n", current.Answer.Confidence, current.Answer.ConsensusLevel, summarize(current.Answer.Prose))

	var gaps []string
	for _, tag := range current.Answer.ExpertsConsulted {
		if op, ok := s.ExpertOpinions[tag]; ok && op.Limitations != "" {
			gaps = append(gaps, fmt.Sprintf("%s: %s", tag, op.Limitations))
		}
	}
	if len(gaps) > 0 {
		b.WriteString("Gaps noted by experts:\n")
		for _, g := range gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}

	if len(current.UserFeedbackNotes) > 0 {
		b.WriteString("Missing information per user feedback:\n")
		for _, n := range current.UserFeedbackNotes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}

	if len(current.ExternalEvaluationNotes) > 0 {
		b.WriteString("Concerns from external quality evaluation:\n")
		for _, n := range current.ExternalEvaluationNotes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}

	s.RefinementDirective = b.String()
	return nil
}

func summarize(prose string) string {
	const maxLen = 400
	if len(prose) <= maxLen {
		return prose
	}
	return prose[:maxLen] + "..."
}
