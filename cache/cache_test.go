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

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capazme/MERL-T-alpha-sub001/config"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &Store{Client: client, TTL: config.Default().CacheTTL}, mr
}

func TestGet_MissReturnsOkFalse(t *testing.T) {
	s, mr := setupStore(t)
	defer mr.Close()

	_, ok, err := s.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetThenGet_RoundTrips(t *testing.T) {
	s, mr := setupStore(t)
	defer mr.Close()

	ec := workflow.EnrichedContext{Norms: []workflow.EnrichedItem{{Citation: "art. 1218 c.c."}}}
	require.NoError(t, s.Set(context.Background(), "fp-1", ec))

	got, ok, err := s.Get(context.Background(), "fp-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Norms, 1)
	assert.Equal(t, "art. 1218 c.c.", got.Norms[0].Citation)
}

func TestTTLFor_PicksMinimumAcrossPresentClasses(t *testing.T) {
	s, mr := setupStore(t)
	defer mr.Close()

	ec := workflow.EnrichedContext{
		Norms:     []workflow.EnrichedItem{{Citation: "art. 1"}},
		Community: []workflow.EnrichedItem{{Citation: "forum-post-1"}},
	}
	assert.Equal(t, s.TTL.Community, s.ttlFor(ec))
}

func TestTTLFor_EmptyContextUsesConsensusTTL(t *testing.T) {
	s, mr := setupStore(t)
	defer mr.Close()

	assert.Equal(t, s.TTL.Consensus, s.ttlFor(workflow.EnrichedContext{}))
}

func TestSet_AppliesTTLToRedisKey(t *testing.T) {
	s, mr := setupStore(t)
	defer mr.Close()
	s.TTL.Norm = 50 * time.Millisecond

	ec := workflow.EnrichedContext{Norms: []workflow.EnrichedItem{{Citation: "art. 1"}}}
	require.NoError(t, s.Set(context.Background(), "fp-ttl", ec))

	mr.FastForward(100 * time.Millisecond)

	_, ok, err := s.Get(context.Background(), "fp-ttl")
	require.NoError(t, err)
	assert.False(t, ok)
}
