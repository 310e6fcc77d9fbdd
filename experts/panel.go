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

package experts

import (
	"context"
	"sync"
	"time"

	"github.com/capazme/MERL-T-alpha-sub001/metrics"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

const defaultExpertTimeout = 10 * time.Second

// Panel implements workflow.ExpertPanel: experts named in the plan run
// concurrently with shared cancellation under a per-expert timeout, the
// same fan-out shape retrieval.Fanout uses for agents.
type Panel struct {
	Experts        map[workflow.ExpertTag]Expert
	ExpertTimeout  time.Duration
}

// NewPanel builds a Panel keyed by each expert's own Tag().
func NewPanel(experts ...Expert) *Panel {
	p := &Panel{Experts: make(map[workflow.ExpertTag]Expert), ExpertTimeout: defaultExpertTimeout}
	for _, e := range experts {
		p.Experts[e.Tag()] = e
	}
	return p
}

// Consult runs every planned expert concurrently; a failed or
// unconfigured expert contributes a minimal opinion rather than
// aborting the panel.
func (p *Panel) Consult(ctx context.Context, s *workflow.State, tags []workflow.ExpertTag) (map[workflow.ExpertTag]workflow.ExpertOpinion, error) {
	results := make(map[workflow.ExpertTag]workflow.ExpertOpinion, len(tags))
	var mu sync.Mutex
	var wg sync.WaitGroup

	timeout := p.ExpertTimeout
	if timeout == 0 {
		timeout = defaultExpertTimeout
	}

	for _, tag := range tags {
		expert, ok := p.Experts[tag]
		if !ok {
			mu.Lock()
			results[tag] = minimalOpinion(tag, 0, nil)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(e Expert) {
			defer wg.Done()

			expertCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			opinion := e.Consult(expertCtx, s)
			if opinion.Err != nil {
				metrics.ObserveExpertFailure(string(e.Tag()))
			}

			mu.Lock()
			results[e.Tag()] = opinion
			mu.Unlock()
		}(expert)
	}

	wg.Wait()
	return results, nil
}
