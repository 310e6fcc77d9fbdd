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
Package persistence implements workflow.Persister against PostgreSQL,
grounded on platform/connectors/postgres/connector.go's connection-pool
shape (MaxOpenConns/MaxIdleConns/ConnMaxLifetime, PingContext on
connect, per-call context.WithTimeout) and on platform/common/usage's
recorder style: typed event structs, one INSERT per event, an error
logged by the caller rather than surfaced as a request failure.

Requests and iterations are recorded as the workflow runs them
(RecordRequest/RecordIteration, called from workflow.Engine); feedback,
credential, and usage events are recorded separately by the transport
gate and the feedback endpoints, which hold a *Store directly.
*/
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/capazme/MERL-T-alpha-sub001/gate/auth"
	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

// Store implements workflow.Persister and the auxiliary recorders
// (feedback, credentials, usage) against a Postgres database.
type Store struct {
	DB  *sql.DB
	Log *logger.Logger
}

// Options overrides the default connection-pool sizing.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func defaultOptions() Options {
	return Options{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute}
}

// Connect opens a Postgres connection pool at dsn and verifies
// connectivity with a ping.
func Connect(ctx context.Context, dsn string, opts ...Options) (*Store, error) {
	o := defaultOptions()
	if len(opts) > 0 {
		o = opts[0]
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(o.MaxOpenConns)
	db.SetMaxIdleConns(o.MaxIdleConns)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// RecordRequest upserts the request-level row summarizing s: one row
// per trace id, updated in place as the workflow progresses (the
// engine calls this once per Run, at the terminal status).
func (s *Store) RecordRequest(ctx context.Context, st *workflow.State) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	warnings, err := json.Marshal(st.Warnings)
	if err != nil {
		return err
	}
	errs := make([]string, 0, len(st.Errors))
	for _, e := range st.Errors {
		errs = append(errs, e.Error())
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO requests (
			trace_id, credential_id, role, tier, original_query,
			jurisdiction, status, iterations_count, elapsed_ms,
			warnings, errors, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (trace_id) DO UPDATE SET
			status = EXCLUDED.status,
			iterations_count = EXCLUDED.iterations_count,
			elapsed_ms = EXCLUDED.elapsed_ms,
			warnings = EXCLUDED.warnings,
			errors = EXCLUDED.errors,
			finished_at = EXCLUDED.finished_at
	`, st.TraceID, st.Principal.CredentialID, string(st.Principal.Role), string(st.Principal.Tier),
		st.OriginalQuery, st.Hints.Jurisdiction, string(st.FinalStatus()), len(st.Iteration.Records),
		st.ElapsedMS, warnings, errsJSON)

	return err
}

// RecordIteration inserts one append-only row per completed iteration,
// plus a denormalized answers row for the iteration's provisional
// answer (kept separate so a later feedback correction can update the
// answer row without touching the iteration history).
func (s *Store) RecordIteration(ctx context.Context, st *workflow.State, rec workflow.IterationRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	plan, err := json.Marshal(rec.Plan)
	if err != nil {
		return err
	}
	provenance, err := json.Marshal(rec.Answer.Provenance)
	if err != nil {
		return err
	}
	experts, err := json.Marshal(rec.Answer.ExpertsConsulted)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO iterations (
			trace_id, idx, plan, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (trace_id, idx) DO NOTHING
	`, st.TraceID, rec.Index, plan, rec.StartedAt, rec.FinishedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO answers (
			trace_id, idx, prose, synthesis_mode, consensus_level,
			confidence, experts_consulted, uncertainty_preserved, provenance
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (trace_id, idx) DO UPDATE SET
			prose = EXCLUDED.prose,
			synthesis_mode = EXCLUDED.synthesis_mode,
			consensus_level = EXCLUDED.consensus_level,
			confidence = EXCLUDED.confidence,
			experts_consulted = EXCLUDED.experts_consulted,
			uncertainty_preserved = EXCLUDED.uncertainty_preserved,
			provenance = EXCLUDED.provenance
	`, st.TraceID, rec.Index, rec.Answer.Prose, string(rec.Answer.SynthesisModeUsed), rec.Answer.ConsensusLevel,
		rec.Answer.Confidence, experts, rec.Answer.UncertaintyPreserved, provenance); err != nil {
		return err
	}

	return tx.Commit()
}

// UserFeedback is the user-feedback record (spec.md §6): a 1..5
// rating plus free text and per-category ratings on one iteration's
// answer.
type UserFeedback struct {
	TraceID          string
	IterationIndex   int
	Rating           int
	Text             string
	CategoryRatings  map[string]int
}

// RecordUserFeedback inserts a user-feedback record and returns its id.
func (s *Store) RecordUserFeedback(ctx context.Context, fb UserFeedback) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	categories, err := json.Marshal(fb.CategoryRatings)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO user_feedback (trace_id, idx, rating, text, category_ratings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, fb.TraceID, fb.IterationIndex, fb.Rating, nullString(fb.Text), categories).Scan(&id)

	return id, err
}

// ExpertFeedback is the external-expert-correction record (spec.md
// §6): a named external expert's authority-weighted correction to an
// iteration's routing decision, concept mapping, and/or answer quality.
type ExpertFeedback struct {
	TraceID             string
	IterationIndex      int
	ExpertID            string
	AuthorityWeight     float64
	ConceptMapping      string
	RoutingDecision     string
	AnswerQuality       string
	OverallRating       int
}

// RecordExpertFeedback inserts an expert-feedback record and returns
// its id.
func (s *Store) RecordExpertFeedback(ctx context.Context, fb ExpertFeedback) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO expert_feedback (
			trace_id, idx, expert_id, authority_weight, concept_mapping,
			routing_decision, answer_quality, overall_rating
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, fb.TraceID, fb.IterationIndex, fb.ExpertID, fb.AuthorityWeight,
		nullString(fb.ConceptMapping), nullString(fb.RoutingDecision), nullString(fb.AnswerQuality), fb.OverallRating).Scan(&id)

	return id, err
}

// CountExpertFeedback returns the number of expert-feedback records
// recorded so far for expertID, used to decide whether a correction
// just crossed a retrain threshold.
func (s *Store) CountExpertFeedback(ctx context.Context, expertID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM expert_feedback WHERE expert_id = $1`, expertID).Scan(&count)
	return count, err
}

// EntityFeedback is the entity-span-correction record (spec.md §6): a
// correction to one entity span recognized (or missed) by preprocessing.
type EntityFeedback struct {
	TraceID        string
	Kind           string // missing-entity, spurious-entity, wrong-boundary, wrong-type
	Text           string
	Start          int
	End            int
	CorrectLabel   string
	IncorrectLabel string
}

// RecordEntityFeedback inserts an entity-span-correction record and
// returns its id.
func (s *Store) RecordEntityFeedback(ctx context.Context, fb EntityFeedback) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO entity_feedback (
			trace_id, kind, span_text, span_start, span_end, correct_label, incorrect_label
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, fb.TraceID, fb.Kind, fb.Text, fb.Start, fb.End, nullString(fb.CorrectLabel), nullString(fb.IncorrectLabel)).Scan(&id)

	return id, err
}

// UpsertCredential records (or refreshes) a principal's credential
// row, used by administrative credential issuance. The gate itself
// only ever reads credentials, through LookupCredential.
func (s *Store) UpsertCredential(ctx context.Context, hash string, p types.Principal, expiresAt *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO credentials (credential_hash, credential_id, role, tier, active, expires_at)
		VALUES ($1, $2, $3, $4, true, $5)
		ON CONFLICT (credential_hash) DO UPDATE SET
			role = EXCLUDED.role,
			tier = EXCLUDED.tier,
			active = true,
			expires_at = EXCLUDED.expires_at
	`, hash, p.CredentialID, string(p.Role), string(p.Tier), expiresAt)

	return err
}

// LookupCredential implements gate/auth.Store: it resolves a hashed
// credential into the full Credential Record the gate needs to decide
// admission (active flag, expiry, role, tier).
func (s *Store) LookupCredential(ctx context.Context, hash string) (*auth.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var rec auth.Record
	err := s.DB.QueryRowContext(ctx, `
		SELECT credential_hash, credential_id, role, tier, active, expires_at, last_used_at
		FROM credentials WHERE credential_hash = $1
	`, hash).Scan(&rec.CredentialHash, &rec.CredentialID, &rec.Role, &rec.Tier, &rec.Active, &rec.ExpiresAt, &rec.LastUsedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// TouchCredential implements gate/auth.Store: it records the
// credential's most recent successful use. Called detached from the
// request context by the gate, so a slow or failing update never
// delays the response already being served.
func (s *Store) TouchCredential(ctx context.Context, hash string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `UPDATE credentials SET last_used_at = $1 WHERE credential_hash = $2`, at, hash)
	return err
}

// APICallEvent records one gate-admitted HTTP call, mirroring the
// teacher's usage.APICallEvent shape.
type APICallEvent struct {
	CredentialID   string
	HTTPMethod     string
	HTTPPath       string
	HTTPStatusCode int
	LatencyMS      int64
}

// RecordAPICall records an API call event. Failures are the caller's
// to log; they never block the HTTP response already sent.
func (s *Store) RecordAPICall(ctx context.Context, ev APICallEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage_events (
			credential_id, event_type, http_method, http_path,
			http_status_code, latency_ms
		) VALUES ($1, 'api_call', $2, $3, $4, $5)
	`, ev.CredentialID, ev.HTTPMethod, ev.HTTPPath, ev.HTTPStatusCode, ev.LatencyMS)

	return err
}

// LLMRequestEvent records one LLM call made by the router, an expert,
// or the synthesizer, mirroring the teacher's usage.LLMRequestEvent
// shape (provider/model/token counts, no cost estimation: the
// workflow runtime has no per-provider pricing table).
type LLMRequestEvent struct {
	CredentialID     string
	Caller           string // "router", "expert:<tag>", "synthesizer"
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
}

// RecordLLMRequest records an LLM usage event.
func (s *Store) RecordLLMRequest(ctx context.Context, ev LLMRequestEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage_events (
			credential_id, event_type, caller, llm_provider, llm_model,
			prompt_tokens, completion_tokens, total_tokens, latency_ms
		) VALUES ($1, 'llm_request', $2, $3, $4, $5, $6, $7, $8)
	`, ev.CredentialID, ev.Caller, ev.Provider, ev.Model,
		ev.PromptTokens, ev.CompletionTokens, ev.PromptTokens+ev.CompletionTokens, ev.LatencyMS)

	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
