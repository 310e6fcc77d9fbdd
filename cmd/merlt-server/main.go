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

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qdrant/go-client/qdrant"

	"github.com/capazme/MERL-T-alpha-sub001/cache"
	"github.com/capazme/MERL-T-alpha-sub001/config"
	"github.com/capazme/MERL-T-alpha-sub001/experts"
	"github.com/capazme/MERL-T-alpha-sub001/gate/auth"
	"github.com/capazme/MERL-T-alpha-sub001/gate/ratelimit"
	"github.com/capazme/MERL-T-alpha-sub001/iteration"
	"github.com/capazme/MERL-T-alpha-sub001/llmclient/bedrock"
	"github.com/capazme/MERL-T-alpha-sub001/persistence"
	"github.com/capazme/MERL-T-alpha-sub001/persistence/archival"
	"github.com/capazme/MERL-T-alpha-sub001/preprocessing"
	"github.com/capazme/MERL-T-alpha-sub001/retrieval"
	"github.com/capazme/MERL-T-alpha-sub001/retrieval/graphagent"
	"github.com/capazme/MERL-T-alpha-sub001/retrieval/httpagent"
	"github.com/capazme/MERL-T-alpha-sub001/retrieval/vectoragent"
	"github.com/capazme/MERL-T-alpha-sub001/router"
	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/synthesis"
	"github.com/capazme/MERL-T-alpha-sub001/transport"
	"github.com/capazme/MERL-T-alpha-sub001/understanding"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

func main() {
	log := logger.New("merlt-server")
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("MERLT_CONFIG_FILE"))
	if err != nil {
		log.Error("", "", "failed to load configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("", "", "invalid configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	store, err := persistence.Connect(ctx, cfg.Connections.PostgresURL)
	if err != nil {
		log.Error("", "", "failed to connect to durable store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer store.Close()

	gateway, err := bedrock.New(ctx, os.Getenv("BEDROCK_REGION"), os.Getenv("BEDROCK_MODEL"))
	if err != nil {
		log.Error("", "", "failed to construct Bedrock gateway", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	graphAgent := buildGraphAgent(ctx, cfg, log)
	agents := buildAgents(ctx, cfg, graphAgent, log)
	fanout := retrieval.NewFanout(agents...)
	panel := experts.NewPanel(
		experts.NewLiteral(gateway),
		experts.NewSystemicTeleological(gateway),
		experts.NewPrinciplesBalancer(gateway),
		experts.NewPrecedentAnalyst(gateway),
	)

	var enricher preprocessing.GraphEnricher
	if graphAgent != nil {
		enricher = graphAgent
	}

	preproc := &preprocessing.Preprocessor{
		Understander: understanding.New(gateway),
		Enricher:     enricher,
		Cache:        buildCache(ctx, cfg, log),
		Log:          logger.New("preprocessing"),
	}

	engine := &workflow.Engine{
		Preprocessor: preproc,
		Router:       router.New(gateway),
		Retriever:    fanout,
		Experts:      panel,
		Synthesizer:  synthesis.New(gateway),
		Iteration:    iteration.New(cfg.Iteration),
		Persistence:  buildPersister(ctx, store, log),
		Log:          logger.New("workflow"),
	}

	gate := auth.New(store)
	var jwtVerifier *auth.JWTVerifier
	if secret := os.Getenv("MERLT_JWT_SECRET"); secret != "" {
		jwtVerifier = auth.NewJWTVerifier([]byte(secret))
	}

	limiter := ratelimit.New(buildRedisClient(cfg))

	srv := transport.NewServer(engine, gate, limiter, store, logger.New("transport"))
	srv.JWT = jwtVerifier

	mux := http.NewServeMux()
	mux.Handle("/prometheus", promhttp.Handler())
	mux.Handle("/", srv.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Timeouts.Request + 30*time.Second,
	}

	go func() {
		log.Info("", "", "merlt-server listening", map[string]interface{}{"port": port})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("", "", "http server exited with error", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	waitForShutdown(httpServer, log)
}

// buildGraphAgent connects once to the knowledge graph; the resulting
// Agent backs both the retrieval fanout's graph agent and
// preprocessing's graph-enrichment step, since both query the same
// store. A nil return (no MERLT_NEO4J_URL configured) leaves both
// uses absent rather than invoked against an empty address.
func buildGraphAgent(ctx context.Context, cfg *config.Config, log *logger.Logger) *graphagent.Agent {
	if cfg.Connections.Neo4jURL == "" {
		return nil
	}
	graph, err := graphagent.Connect(ctx, cfg.Connections.Neo4jURL, cfg.Connections.Neo4jUser, cfg.Connections.Neo4jPass, "")
	if err != nil {
		log.Warn("", "", "graph backend unavailable, omitting graph agent and enrichment", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return graph
}

// buildAgents wires every retrieval agent named in spec.md's plan
// contract that has a reachable backend configured; an agent whose
// backend URL is unset is left out of the fanout rather than invoked
// against an empty address.
func buildAgents(ctx context.Context, cfg *config.Config, graphAgent *graphagent.Agent, log *logger.Logger) []retrieval.Agent {
	agents := []retrieval.Agent{}

	if graphAgent != nil {
		agents = append(agents, graphAgent)
	}

	if cfg.Connections.HTTPAgentURL != "" {
		agents = append(agents, httpagent.New(cfg.Connections.HTTPAgentURL))
	}

	if cfg.Connections.QdrantURL != "" {
		qc, err := qdrant.NewClient(&qdrant.Config{Host: cfg.Connections.QdrantURL})
		if err != nil {
			log.Warn("", "", "vector agent unavailable, omitting from fanout", map[string]interface{}{"error": err.Error()})
		} else {
			embedder, err := bedrock.NewEmbedder(ctx, os.Getenv("BEDROCK_REGION"), "")
			if err != nil {
				log.Warn("", "", "embedder unavailable, omitting vector agent", map[string]interface{}{"error": err.Error()})
			} else {
				agents = append(agents, vectoragent.New(qc, "merlt", embedder))
			}
		}
	}

	return agents
}

// buildPersister wraps the durable store in an ArchivingPersister when
// MERLT_ARCHIVAL_BACKEND names a backend ("s3", "gcs", "azureblob")
// whose store can be built from its MERLT_ARCHIVAL_* variables, so a
// completed trace also lands in cold storage. Otherwise the engine
// talks to the durable store directly.
func buildPersister(ctx context.Context, store *persistence.Store, log *logger.Logger) workflow.Persister {
	backend := buildArchivalStore(ctx, log)
	if backend == nil {
		return store
	}
	return &archival.ArchivingPersister{Persister: store, Archive: backend, Log: logger.New("archival")}
}

func buildArchivalStore(ctx context.Context, log *logger.Logger) archival.Store {
	switch os.Getenv("MERLT_ARCHIVAL_BACKEND") {
	case "s3":
		s, err := archival.NewS3Store(ctx,
			os.Getenv("MERLT_ARCHIVAL_S3_BUCKET"),
			os.Getenv("MERLT_ARCHIVAL_S3_REGION"),
			os.Getenv("MERLT_ARCHIVAL_S3_ACCESS_KEY_ID"),
			os.Getenv("MERLT_ARCHIVAL_S3_SECRET_ACCESS_KEY"),
		)
		if err != nil {
			log.Warn("", "", "S3 archival backend unavailable, running without trace archival", map[string]interface{}{"error": err.Error()})
			return nil
		}
		return s
	case "gcs":
		s, err := archival.NewGCSStore(ctx,
			os.Getenv("MERLT_ARCHIVAL_GCS_BUCKET"),
			os.Getenv("MERLT_ARCHIVAL_GCS_CREDENTIALS_FILE"),
		)
		if err != nil {
			log.Warn("", "", "GCS archival backend unavailable, running without trace archival", map[string]interface{}{"error": err.Error()})
			return nil
		}
		return s
	case "azureblob":
		s, err := archival.NewAzureBlobStore(
			os.Getenv("MERLT_ARCHIVAL_AZURE_CONTAINER"),
			os.Getenv("MERLT_ARCHIVAL_AZURE_ACCOUNT_NAME"),
			os.Getenv("MERLT_ARCHIVAL_AZURE_ACCOUNT_KEY"),
		)
		if err != nil {
			log.Warn("", "", "Azure Blob archival backend unavailable, running without trace archival", map[string]interface{}{"error": err.Error()})
			return nil
		}
		return s
	default:
		return nil
	}
}

func buildCache(ctx context.Context, cfg *config.Config, log *logger.Logger) preprocessing.FingerprintCache {
	if !cfg.Flags.CacheEnabled || cfg.Connections.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.Connections.RedisURL)
	if err != nil {
		log.Warn("", "", "invalid MERLT_REDIS_URL, running without fingerprint cache", map[string]interface{}{"error": err.Error()})
		return nil
	}
	c, err := cache.Connect(ctx, opts.Addr, opts.Password, opts.DB, cfg.CacheTTL)
	if err != nil {
		log.Warn("", "", "fingerprint cache unavailable", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return c
}

func buildRedisClient(cfg *config.Config) *redis.Client {
	if cfg.Connections.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.Connections.RedisURL)
	if err != nil {
		return nil
	}
	return redis.NewClient(opts)
}

func waitForShutdown(srv *http.Server, log *logger.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("", "", "shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("", "", "graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}
