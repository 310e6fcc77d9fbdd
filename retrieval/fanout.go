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
Package retrieval fans the plan's agent invocations out in parallel
with shared cancellation and merges results by source tag, generalizing
orchestrator/workflow_engine.go's executeStepsParallel (goroutine per
step + sync.WaitGroup, collect partial results rather than fail the
whole group on a single step's error).
*/
package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/capazme/MERL-T-alpha-sub001/metrics"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

// Agent is the common contract every concrete retrieval agent
// implements: given its plan parameters and the request-scoped state,
// return an Agent Result within the per-agent timeout.
type Agent interface {
	Tag() workflow.AgentTag
	Invoke(ctx context.Context, s *workflow.State, params workflow.AgentParams) workflow.AgentResult
}

const defaultAgentTimeout = 3 * time.Second

// Fanout implements workflow.Retriever: it runs every agent named in
// the plan concurrently, under a shared per-agent timeout, and never
// aborts on a single agent's failure — a failed agent contributes an
// empty hit list with an error annotation instead.
type Fanout struct {
	Agents        map[workflow.AgentTag]Agent
	AgentTimeout  time.Duration
}

// NewFanout builds a Fanout keyed by each agent's own Tag().
func NewFanout(agents ...Agent) *Fanout {
	f := &Fanout{Agents: make(map[workflow.AgentTag]Agent), AgentTimeout: defaultAgentTimeout}
	for _, a := range agents {
		f.Agents[a.Tag()] = a
	}
	return f
}

// Retrieve runs every planned agent concurrently with shared
// cancellation from ctx; if ctx's deadline elapses, in-flight agents
// are cancelled and whichever results completed are returned.
func (f *Fanout) Retrieve(ctx context.Context, s *workflow.State, params []workflow.AgentParams) (map[workflow.AgentTag]workflow.AgentResult, error) {
	results := make(map[workflow.AgentTag]workflow.AgentResult, len(params))
	var mu sync.Mutex
	var wg sync.WaitGroup

	timeout := f.AgentTimeout
	if timeout == 0 {
		timeout = defaultAgentTimeout
	}

	for _, p := range params {
		agent, ok := f.Agents[p.Tag]
		if !ok {
			mu.Lock()
			results[p.Tag] = workflow.AgentResult{Tag: p.Tag}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(a Agent, params workflow.AgentParams) {
			defer wg.Done()

			agentCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			res := a.Invoke(agentCtx, s, params)
			res.Tag = params.Tag
			res.LatencyMS = time.Since(start).Milliseconds()
			if res.Err != nil {
				metrics.ObserveAgentFailure(string(params.Tag))
			}

			mu.Lock()
			results[params.Tag] = res
			mu.Unlock()
		}(agent, p)
	}

	wg.Wait()
	return results, nil
}
