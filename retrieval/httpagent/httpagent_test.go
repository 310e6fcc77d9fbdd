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

package httpagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

func newTestState(refs []string) *workflow.State {
	s := workflow.NewState(types.Principal{CredentialID: "cred-1"}, "q", types.QueryHints{}, types.DefaultQueryOptions())
	s.QueryContext = &workflow.QueryContext{NormReferences: refs}
	return s
}

func TestInvoke_NoNormReferencesReturnsEmptyWithoutCallingUpstream(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	a := New(srv.URL)
	res := a.Invoke(context.Background(), newTestState(nil), workflow.AgentParams{Tag: workflow.AgentHTTP})
	require.NoError(t, res.Err)
	assert.Empty(t, res.Hits)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestInvoke_SuccessfulLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"art-1218","citation":"art. 1218 c.c.","text":"il debitore che non esegue..."}`))
	}))
	defer srv.Close()

	a := New(srv.URL)
	res := a.Invoke(context.Background(), newTestState([]string{"art. 1218 c.c."}), workflow.AgentParams{Tag: workflow.AgentHTTP})
	require.NoError(t, res.Err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "art. 1218 c.c.", res.Hits[0].Citation)
}

func TestInvoke_RetriesOn503ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"art-5","citation":"art. 5","text":"..."}`))
	}))
	defer srv.Close()

	a := New(srv.URL)
	res := a.Invoke(context.Background(), newTestState([]string{"art. 5"}), workflow.AgentParams{Tag: workflow.AgentHTTP})
	require.NoError(t, res.Err)
	require.Len(t, res.Hits, 1)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestInvoke_AllLookupsFailAnnotatesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := New(srv.URL)
	res := a.Invoke(context.Background(), newTestState([]string{"art. 999"}), workflow.AgentParams{Tag: workflow.AgentHTTP})
	assert.Error(t, res.Err)
	assert.Empty(t, res.Hits)
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, isRetryableStatus(503))
	assert.True(t, isRetryableStatus(429))
	assert.False(t, isRetryableStatus(404))
	assert.False(t, isRetryableStatus(200))
}
