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
Package metrics exposes the Prometheus collectors used across the
workflow runtime: per-node latency, cache hit rate, iteration counts,
and agent/expert failure counters. Components call the package-level
Observe* helpers; the collectors themselves are registered once at
import time the way the teacher's orchestrator package registers its
own metrics in an init func.
*/
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	NodeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merlt_workflow_node_duration_milliseconds",
			Help:    "Duration of a single workflow node execution in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"node"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merlt_requests_total",
			Help: "Total number of submitted queries by final status",
		},
		[]string{"status"},
	)

	IterationCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "merlt_iterations_per_request",
			Help:    "Number of refinement iterations a request ran before stopping",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	IterationStopReason = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merlt_iteration_stop_reason_total",
			Help: "Count of iterations stopped, by stopping criterion",
		},
		[]string{"reason"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merlt_cache_hits_total",
			Help: "Cache lookups, by entity class and outcome",
		},
		[]string{"entity_class", "outcome"},
	)

	AgentFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merlt_agent_failures_total",
			Help: "Retrieval agent failures, by agent tag",
		},
		[]string{"agent"},
	)

	ExpertFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merlt_expert_failures_total",
			Help: "Expert reasoning failures, by expert tag",
		},
		[]string{"expert"},
	)

	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merlt_llm_calls_total",
			Help: "LLM gateway calls, by caller and outcome",
		},
		[]string{"caller", "status"},
	)

	RateLimitBypassed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "merlt_ratelimit_bypassed_total",
			Help: "Requests admitted under a degraded (counter-store-unavailable) rate limit",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodeLatency,
		RequestsTotal,
		IterationCount,
		IterationStopReason,
		CacheHits,
		AgentFailures,
		ExpertFailures,
		LLMCalls,
		RateLimitBypassed,
	)
}

// ObserveNode records a node's execution duration.
func ObserveNode(node string, durationMS float64) {
	NodeLatency.WithLabelValues(node).Observe(durationMS)
}

// ObserveCacheLookup records a cache hit or miss for an entity class.
func ObserveCacheLookup(entityClass string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	CacheHits.WithLabelValues(entityClass, outcome).Inc()
}

// ObserveAgentFailure increments the failure counter for a retrieval agent.
func ObserveAgentFailure(agent string) {
	AgentFailures.WithLabelValues(agent).Inc()
}

// ObserveExpertFailure increments the failure counter for an expert.
func ObserveExpertFailure(expert string) {
	ExpertFailures.WithLabelValues(expert).Inc()
}

// ObserveLLMCall records an LLM gateway call outcome.
func ObserveLLMCall(caller, status string) {
	LLMCalls.WithLabelValues(caller, status).Inc()
}

// ObserveRequest records a request's final status and iteration count.
func ObserveRequest(status string, iterations int) {
	RequestsTotal.WithLabelValues(status).Inc()
	IterationCount.Observe(float64(iterations))
}

// ObserveIterationStop records why an iteration loop stopped.
func ObserveIterationStop(reason string) {
	IterationStopReason.WithLabelValues(reason).Inc()
}
