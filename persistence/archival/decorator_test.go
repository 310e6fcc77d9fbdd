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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

type fakePersister struct {
	recordRequestErr error
	requests         []*workflow.State
}

func (f *fakePersister) RecordIteration(ctx context.Context, s *workflow.State, rec workflow.IterationRecord) error {
	return nil
}

func (f *fakePersister) RecordRequest(ctx context.Context, s *workflow.State) error {
	f.requests = append(f.requests, s)
	return f.recordRequestErr
}

type fakeArchive struct {
	mu   sync.Mutex
	put  map[string][]byte
	fail bool
}

func newFakeArchive() *fakeArchive { return &fakeArchive{put: map[string][]byte{}} }

func (f *fakeArchive) PutTrace(ctx context.Context, traceID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("archive unavailable")
	}
	f.put[traceID] = data
	return nil
}

func (f *fakeArchive) GetTrace(ctx context.Context, traceID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.put[traceID]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeArchive) has(traceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.put[traceID]
	return ok
}

func TestArchivingPersister_RecordRequestArchivesAfterDurableWrite(t *testing.T) {
	persister := &fakePersister{}
	archive := newFakeArchive()
	ap := &ArchivingPersister{Persister: persister, Archive: archive}

	state := &workflow.State{TraceID: "trace-1", OriginalQuery: "what is the statute of limitations"}
	err := ap.RecordRequest(context.Background(), state)
	require.NoError(t, err)
	require.Len(t, persister.requests, 1)

	require.Eventually(t, func() bool { return archive.has("trace-1") }, time.Second, 5*time.Millisecond)
}

func TestArchivingPersister_DurableFailureSkipsArchival(t *testing.T) {
	persister := &fakePersister{recordRequestErr: errors.New("db down")}
	archive := newFakeArchive()
	ap := &ArchivingPersister{Persister: persister, Archive: archive}

	err := ap.RecordRequest(context.Background(), &workflow.State{TraceID: "trace-2"})
	assert.Error(t, err)
	assert.False(t, archive.has("trace-2"))
}

func TestArchivingPersister_NilArchiveIsNoop(t *testing.T) {
	persister := &fakePersister{}
	ap := &ArchivingPersister{Persister: persister}

	err := ap.RecordRequest(context.Background(), &workflow.State{TraceID: "trace-3"})
	assert.NoError(t, err)
}

func TestArchivingPersister_ArchivalFailureIsSwallowed(t *testing.T) {
	persister := &fakePersister{}
	archive := newFakeArchive()
	archive.fail = true
	ap := &ArchivingPersister{Persister: persister, Archive: archive}

	err := ap.RecordRequest(context.Background(), &workflow.State{TraceID: "trace-4"})
	assert.NoError(t, err)
}

func TestTraceKey(t *testing.T) {
	assert.Equal(t, "traces/abc-123.json", traceKey("abc-123"))
}
