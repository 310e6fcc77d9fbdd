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
Package cache implements the fingerprint-keyed enrichment cache
(spec.md §4.8) on top of Redis, grounded on
platform/connectors/redis/connector.go's RedisConnector: the same
connection-option shape (Addr/Password/DB, dial/read/write timeouts,
pool sizing) and the same "cache put is best-effort, a failure degrades
rather than aborts" posture the teacher's connector leaves to its
callers.
*/
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/capazme/MERL-T-alpha-sub001/config"
	"github.com/capazme/MERL-T-alpha-sub001/metrics"
	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

const keyPrefix = "merlt:enrich:"

// Store implements preprocessing.FingerprintCache against Redis.
type Store struct {
	Client *redis.Client
	TTL    config.CacheTTL
	Log    *logger.Logger
}

// Connect dials Redis with the teacher's connection-pool shape
// (DialTimeout 5s, Read/WriteTimeout 3s, PoolSize 100, MinIdleConns 10)
// and verifies connectivity with a PING.
func Connect(ctx context.Context, addr, password string, db int, ttl config.CacheTTL) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     100,
		MinIdleConns: 10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	return &Store{Client: client, TTL: ttl}, nil
}

// Get returns the cached EnrichedContext for fingerprint, or
// ok=false on a cache miss. A Redis error is returned to the caller,
// which treats it as a cache-skip rather than a request failure.
func (s *Store) Get(ctx context.Context, fingerprint string) (workflow.EnrichedContext, bool, error) {
	val, err := s.Client.Get(ctx, keyPrefix+fingerprint).Bytes()
	if err == redis.Nil {
		metrics.ObserveCacheLookup("enrichment", false)
		return workflow.EnrichedContext{}, false, nil
	}
	if err != nil {
		return workflow.EnrichedContext{}, false, err
	}

	var ec workflow.EnrichedContext
	if err := json.Unmarshal(val, &ec); err != nil {
		return workflow.EnrichedContext{}, false, err
	}

	metrics.ObserveCacheLookup("enrichment", true)
	return ec, true, nil
}

// Set stores ec under fingerprint with a TTL derived from the most
// volatile entity class present in the payload: a snapshot containing
// any community content can never outlive community's TTL even if it
// also carries norms, so the stored TTL is the minimum across the
// classes actually present.
func (s *Store) Set(ctx context.Context, fingerprint string, ec workflow.EnrichedContext) error {
	payload, err := json.Marshal(ec)
	if err != nil {
		return err
	}

	ttl := s.ttlFor(ec)
	return s.Client.Set(ctx, keyPrefix+fingerprint, payload, ttl).Err()
}

func (s *Store) ttlFor(ec workflow.EnrichedContext) time.Duration {
	var ttl time.Duration
	set := func(candidate time.Duration) {
		if ttl == 0 || candidate < ttl {
			ttl = candidate
		}
	}

	if len(ec.Norms) > 0 {
		set(s.TTL.Norm)
	}
	if len(ec.CaseLaw) > 0 {
		set(s.TTL.Case)
	}
	if len(ec.Doctrine) > 0 {
		set(s.TTL.Doctrine)
	}
	if len(ec.Community) > 0 {
		set(s.TTL.Community)
	}

	if ttl == 0 {
		return s.TTL.Consensus
	}
	return ttl
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.Client.Close()
}
