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
Package ratelimit implements the gate's sliding-window quota check over
a Redis sorted set, grounded on the teacher's checkRateLimitRedis
pipeline (ZRemRangeByScore/ZCard/ZAdd/Expire executed atomically) —
adapted from a fixed per-minute/per-customer window to the spec's
per-hour, per-credential-tier quota. On a Redis error the limiter fails
open: the teacher's own comment is "failing open", and the spec makes
this an explicit invariant (degraded mode never fails closed).
*/
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
)

const windowLength = time.Hour

// Result carries the headers the gate attaches to every response.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Degraded   bool
}

// Limiter enforces the sliding-window quota per credential tier.
type Limiter struct {
	client *redis.Client
	window time.Duration
}

// New builds a Limiter over an existing Redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client, window: windowLength}
}

// Check runs the sliding-window algorithm for credentialID against the
// quota for tier. An unlimited tier (quota < 0) always admits without
// touching Redis.
func (l *Limiter) Check(ctx context.Context, credentialID string, tier types.Tier) (Result, error) {
	quota := tier.HourlyQuota()
	if quota < 0 {
		return Result{Allowed: true, Limit: -1, Remaining: -1}, nil
	}

	if l.client == nil {
		return Result{Allowed: true, Degraded: true}, nil
	}

	now := time.Now()
	key := fmt.Sprintf("ratelimit:%s", credentialID)
	windowStart := now.Add(-l.window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.Unix()))
	card := pipe.ZCard(ctx, key)
	_, err := pipe.Exec(ctx)
	if err != nil {
		// Counter store unavailable: admit, mark degraded, never fail closed.
		return Result{Allowed: true, Degraded: true, Limit: quota}, nil
	}

	count := card.Val()
	resetAt := oldestEntryExpiry(ctx, l.client, key, now, l.window)

	if count >= int64(quota) {
		return Result{
			Allowed:    false,
			Limit:      quota,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: time.Until(resetAt),
		}, nil
	}

	addPipe := l.client.Pipeline()
	addPipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	addPipe.Expire(ctx, key, l.window+60*time.Second)
	if _, err := addPipe.Exec(ctx); err != nil {
		return Result{Allowed: true, Degraded: true, Limit: quota}, nil
	}

	remaining := int(int64(quota) - count - 1)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   true,
		Limit:     quota,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// oldestEntryExpiry returns the epoch time at which the oldest entry in
// the window falls out, or now+window if the set is empty/unreadable.
func oldestEntryExpiry(ctx context.Context, client *redis.Client, key string, now time.Time, window time.Duration) time.Time {
	vals, err := client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(vals) == 0 {
		return now.Add(window)
	}
	oldest := time.Unix(int64(vals[0].Score), 0)
	return oldest.Add(window)
}
