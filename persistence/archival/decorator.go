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

package archival

import (
	"context"
	"encoding/json"

	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

// Persister mirrors workflow.Persister so this package does not need to
// import workflow for anything but the two argument types below.
type Persister interface {
	RecordIteration(ctx context.Context, s *workflow.State, rec workflow.IterationRecord) error
	RecordRequest(ctx context.Context, s *workflow.State) error
}

// ArchivingPersister decorates a durable Persister with a cold-storage
// copy of the final trace, written to Archive in the background the
// same way transport's recordAPICall detaches usage events: archival
// failures are logged and never surface to the caller, since the
// durable store (not the blob copy) is the record of truth the
// workflow's own completion depends on.
type ArchivingPersister struct {
	Persister
	Archive Store
	Log     *logger.Logger
}

// RecordRequest delegates to the wrapped Persister, then fires an
// uncancellable archival write of the full trace once that succeeds.
func (a *ArchivingPersister) RecordRequest(ctx context.Context, s *workflow.State) error {
	if err := a.Persister.RecordRequest(ctx, s); err != nil {
		return err
	}
	if a.Archive == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		if a.Log != nil {
			a.Log.Warn("", s.TraceID, "failed to marshal trace for archival", map[string]interface{}{"error": err.Error()})
		}
		return nil
	}
	traceID := s.TraceID
	go func() {
		if err := a.Archive.PutTrace(context.Background(), traceID, data); err != nil && a.Log != nil {
			a.Log.Warn("", traceID, "trace archival failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}
