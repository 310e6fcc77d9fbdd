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
Package config loads the recognized configuration surface from
environment variables, with an optional YAML file overlaid on top.
Every key is read with MERLT_ prefixed environment variables and a
documented default, the way the teacher's connectors/config package
reads MCP_<NAME>_ prefixed variables with fallbacks.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Timeouts holds the per-node timeout surface.
type Timeouts struct {
	Preprocessing time.Duration `yaml:"preprocessing"`
	Agent         time.Duration `yaml:"agent"`
	Expert        time.Duration `yaml:"expert"`
	Synthesizer   time.Duration `yaml:"synthesizer"`
	Request       time.Duration `yaml:"request"`
}

// Iteration holds the refinement-loop limits.
type Iteration struct {
	Max                int     `yaml:"max"`
	ConvergenceWindow  int     `yaml:"convergence_window"`
	StopConfidence     float64 `yaml:"stop_confidence"`
	StopConsensus      float64 `yaml:"stop_consensus"`
	StopQuality        float64 `yaml:"stop_quality"`
	StopUserRating     float64 `yaml:"stop_user_rating"`
	StopImprovementDelta float64 `yaml:"stop_improvement_delta"`
}

// Agent holds retrieval-agent tuning.
type Agent struct {
	TopKDefault int `yaml:"topk_default"`
	Retries     int `yaml:"retries"`
}

// LLM holds LLM call tuning.
type LLM struct {
	TemperatureRouter float64 `yaml:"temperature_router"`
	TemperatureExpert float64 `yaml:"temperature_expert"`
	JSONMaxRetries    int     `yaml:"json_max_retries"`
}

// RateLimit holds the gate's sliding-window quota tuning.
type RateLimit struct {
	Enabled       bool           `yaml:"enabled"`
	WindowSeconds int            `yaml:"window_seconds"`
	TierQuotas    map[string]int `yaml:"tier_quotas"`
}

// CacheTTL holds per-entity-class cache lifetimes.
type CacheTTL struct {
	Norm      time.Duration `yaml:"norm"`
	Case      time.Duration `yaml:"case"`
	Doctrine  time.Duration `yaml:"doctrine"`
	Community time.Duration `yaml:"community"`
	Consensus time.Duration `yaml:"consensus"`
}

// Flags holds the enable/disable switches.
type Flags struct {
	EnrichmentEnabled bool `yaml:"enrichment_enabled"`
	CacheEnabled      bool `yaml:"cache_enabled"`
}

// Connections holds backend DSNs/URLs.
type Connections struct {
	PostgresURL string `yaml:"postgres_url"`
	RedisURL    string `yaml:"redis_url"`
	Neo4jURL    string `yaml:"neo4j_url"`
	Neo4jUser   string `yaml:"neo4j_user"`
	Neo4jPass   string `yaml:"neo4j_pass"`
	QdrantURL   string `yaml:"qdrant_url"`
	HTTPAgentURL string `yaml:"http_agent_url"`
}

// Config is the complete, typed configuration surface.
type Config struct {
	Timeouts    Timeouts    `yaml:"timeouts"`
	Iteration   Iteration   `yaml:"iteration"`
	AgentTuning Agent       `yaml:"agent"`
	LLM         LLM         `yaml:"llm"`
	RateLimit   RateLimit   `yaml:"ratelimit"`
	CacheTTL    CacheTTL    `yaml:"cache_ttl"`
	Flags       Flags       `yaml:"flags"`
	Connections Connections `yaml:"connections"`
}

// Default returns the documented defaults for every recognized key.
func Default() Config {
	return Config{
		Timeouts: Timeouts{
			Preprocessing: 5 * time.Second,
			Agent:         3 * time.Second,
			Expert:        10 * time.Second,
			Synthesizer:   10 * time.Second,
			Request:       30 * time.Second,
		},
		Iteration: Iteration{
			Max:                  3,
			ConvergenceWindow:    2,
			StopConfidence:       0.85,
			StopConsensus:        0.8,
			StopQuality:          0.8,
			StopUserRating:       4,
			StopImprovementDelta: 0.05,
		},
		AgentTuning: Agent{
			TopKDefault: 10,
			Retries:     2,
		},
		LLM: LLM{
			TemperatureRouter: 0.0,
			TemperatureExpert: 0.2,
			JSONMaxRetries:    3,
		},
		RateLimit: RateLimit{
			Enabled:       true,
			WindowSeconds: 3600,
			TierQuotas: map[string]int{
				"unlimited": -1,
				"premium":   1000,
				"standard":  100,
				"limited":   10,
			},
		},
		CacheTTL: CacheTTL{
			Norm:      7 * 24 * time.Hour,
			Case:      24 * time.Hour,
			Doctrine:  3 * 24 * time.Hour,
			Community: time.Hour,
			Consensus: 30 * time.Minute,
		},
		Flags: Flags{
			EnrichmentEnabled: true,
			CacheEnabled:      true,
		},
	}
}

// Load builds a Config from defaults, overlaid with MERLT_ prefixed
// environment variables, optionally overlaid again with a YAML file at
// path (path may be empty, in which case only env/defaults apply).
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := loadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	if path != "" {
		if err := loadYAMLOverlay(&cfg, path); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	return &cfg, nil
}

func loadYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) error {
	var err error

	cfg.Timeouts.Preprocessing, err = envDuration("MERLT_TIMEOUT_PREPROCESSING", cfg.Timeouts.Preprocessing)
	if err != nil {
		return err
	}
	cfg.Timeouts.Agent, err = envDuration("MERLT_TIMEOUT_AGENT", cfg.Timeouts.Agent)
	if err != nil {
		return err
	}
	cfg.Timeouts.Expert, err = envDuration("MERLT_TIMEOUT_EXPERT", cfg.Timeouts.Expert)
	if err != nil {
		return err
	}
	cfg.Timeouts.Synthesizer, err = envDuration("MERLT_TIMEOUT_SYNTHESIZER", cfg.Timeouts.Synthesizer)
	if err != nil {
		return err
	}
	cfg.Timeouts.Request, err = envDuration("MERLT_TIMEOUT_REQUEST", cfg.Timeouts.Request)
	if err != nil {
		return err
	}

	cfg.Iteration.Max, err = envInt("MERLT_ITERATION_MAX", cfg.Iteration.Max)
	if err != nil {
		return err
	}
	cfg.Iteration.ConvergenceWindow, err = envInt("MERLT_ITERATION_CONVERGENCE_WINDOW", cfg.Iteration.ConvergenceWindow)
	if err != nil {
		return err
	}
	cfg.Iteration.StopConfidence, err = envFloat("MERLT_ITERATION_STOP_CONFIDENCE", cfg.Iteration.StopConfidence)
	if err != nil {
		return err
	}
	cfg.Iteration.StopConsensus, err = envFloat("MERLT_ITERATION_STOP_CONSENSUS", cfg.Iteration.StopConsensus)
	if err != nil {
		return err
	}
	cfg.Iteration.StopQuality, err = envFloat("MERLT_ITERATION_STOP_QUALITY", cfg.Iteration.StopQuality)
	if err != nil {
		return err
	}
	cfg.Iteration.StopUserRating, err = envFloat("MERLT_ITERATION_STOP_USER_RATING", cfg.Iteration.StopUserRating)
	if err != nil {
		return err
	}
	cfg.Iteration.StopImprovementDelta, err = envFloat("MERLT_ITERATION_STOP_IMPROVEMENT_DELTA", cfg.Iteration.StopImprovementDelta)
	if err != nil {
		return err
	}

	cfg.AgentTuning.TopKDefault, err = envInt("MERLT_AGENT_TOPK_DEFAULT", cfg.AgentTuning.TopKDefault)
	if err != nil {
		return err
	}
	cfg.AgentTuning.Retries, err = envInt("MERLT_AGENT_RETRIES", cfg.AgentTuning.Retries)
	if err != nil {
		return err
	}

	cfg.LLM.TemperatureRouter, err = envFloat("MERLT_LLM_TEMPERATURE_ROUTER", cfg.LLM.TemperatureRouter)
	if err != nil {
		return err
	}
	cfg.LLM.TemperatureExpert, err = envFloat("MERLT_LLM_TEMPERATURE_EXPERT", cfg.LLM.TemperatureExpert)
	if err != nil {
		return err
	}
	cfg.LLM.JSONMaxRetries, err = envInt("MERLT_LLM_JSON_MAX_RETRIES", cfg.LLM.JSONMaxRetries)
	if err != nil {
		return err
	}

	cfg.RateLimit.Enabled = envBool("MERLT_RATELIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.WindowSeconds, err = envInt("MERLT_RATELIMIT_WINDOW_SECONDS", cfg.RateLimit.WindowSeconds)
	if err != nil {
		return err
	}

	cfg.CacheTTL.Norm, err = envDuration("MERLT_CACHE_TTL_NORM", cfg.CacheTTL.Norm)
	if err != nil {
		return err
	}
	cfg.CacheTTL.Case, err = envDuration("MERLT_CACHE_TTL_CASE", cfg.CacheTTL.Case)
	if err != nil {
		return err
	}
	cfg.CacheTTL.Doctrine, err = envDuration("MERLT_CACHE_TTL_DOCTRINE", cfg.CacheTTL.Doctrine)
	if err != nil {
		return err
	}
	cfg.CacheTTL.Community, err = envDuration("MERLT_CACHE_TTL_COMMUNITY", cfg.CacheTTL.Community)
	if err != nil {
		return err
	}
	cfg.CacheTTL.Consensus, err = envDuration("MERLT_CACHE_TTL_CONSENSUS", cfg.CacheTTL.Consensus)
	if err != nil {
		return err
	}

	cfg.Flags.EnrichmentEnabled = envBool("MERLT_ENRICHMENT_ENABLED", cfg.Flags.EnrichmentEnabled)
	cfg.Flags.CacheEnabled = envBool("MERLT_CACHE_ENABLED", cfg.Flags.CacheEnabled)

	cfg.Connections.PostgresURL = getEnvOrDefault("DATABASE_URL", cfg.Connections.PostgresURL)
	cfg.Connections.RedisURL = getEnvOrDefault("MERLT_REDIS_URL", cfg.Connections.RedisURL)
	cfg.Connections.Neo4jURL = getEnvOrDefault("MERLT_NEO4J_URL", cfg.Connections.Neo4jURL)
	cfg.Connections.Neo4jUser = getEnvOrDefault("MERLT_NEO4J_USER", cfg.Connections.Neo4jUser)
	cfg.Connections.Neo4jPass = getEnvOrDefault("MERLT_NEO4J_PASSWORD", cfg.Connections.Neo4jPass)
	cfg.Connections.QdrantURL = getEnvOrDefault("MERLT_QDRANT_URL", cfg.Connections.QdrantURL)
	cfg.Connections.HTTPAgentURL = getEnvOrDefault("MERLT_HTTP_AGENT_URL", cfg.Connections.HTTPAgentURL)

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %s", key, raw)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, raw)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float for %s: %s", key, raw)
	}
	return v, nil
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// Validate checks the invariants the workflow runtime relies on.
func (c *Config) Validate() error {
	if c.Iteration.Max < 1 || c.Iteration.Max > 10 {
		return fmt.Errorf("iteration.max must be in [1,10], got %d", c.Iteration.Max)
	}
	if c.Timeouts.Request <= 0 {
		return fmt.Errorf("timeout.request must be positive")
	}
	if c.AgentTuning.TopKDefault <= 0 {
		return fmt.Errorf("agent.topk.default must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("ratelimit.window.seconds must be positive")
	}
	return nil
}
