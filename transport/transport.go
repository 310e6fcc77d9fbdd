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
Package transport is the HTTP surface named in spec.md §6: submit
query, fetch by trace id, submit user feedback, submit external-expert
correction, submit entity-span correction, and statistics/health.

Routing and CORS are grounded on platform/agent/run.go's
initServerImmediately (mux.NewRouter + rs/cors wrapping the whole
router, one http.Server), adapted from that file's two-phase
health-then-routes startup (irrelevant here — this runtime has no
slow migration step gating readiness) into a single-phase Register.
gateway_handlers.go supplies the handler shape (plain http.HandlerFunc,
JSON request/response bodies, a RegisterXxxHandlers(*mux.Router)
entry point per concern) that Register follows for every endpoint.
*/
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	taxonomy "github.com/capazme/MERL-T-alpha-sub001/errors"
	"github.com/capazme/MERL-T-alpha-sub001/gate/auth"
	"github.com/capazme/MERL-T-alpha-sub001/gate/ratelimit"
	"github.com/capazme/MERL-T-alpha-sub001/persistence"
	"github.com/capazme/MERL-T-alpha-sub001/shared/logger"
	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

// credentialHeader is the header name every endpoint reads its
// credential from (spec.md §6: "the same for all endpoints").
const credentialHeader = "X-MERLT-Credential"

// Server wires the gate, rate limiter, workflow engine, and
// persistence store into one mux.Router.
type Server struct {
	Engine      *workflow.Engine
	Gate        *auth.Gate
	JWT         *auth.JWTVerifier // optional alternate credential format
	Limiter     *ratelimit.Limiter
	Persistence *persistence.Store
	Log         *logger.Logger

	router *mux.Router
}

// NewServer builds a Server; call Handler to obtain the CORS-wrapped
// http.Handler to serve.
func NewServer(engine *workflow.Engine, gate *auth.Gate, limiter *ratelimit.Limiter, store *persistence.Store, log *logger.Logger) *Server {
	s := &Server{Engine: engine, Gate: gate, Limiter: limiter, Persistence: store, Log: log}
	s.router = mux.NewRouter()
	s.register()
	return s
}

// Handler returns the CORS-wrapped router ready for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) register() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")

	s.router.HandleFunc("/v1/query", s.withGate(types.RoleUser, s.handleSubmitQuery)).Methods("POST")
	s.router.HandleFunc("/v1/query/{traceId}", s.withGate(types.RoleUser, s.handleFetchByTraceID)).Methods("GET")
	s.router.HandleFunc("/v1/query/{traceId}/feedback", s.withGate(types.RoleUser, s.handleUserFeedback)).Methods("POST")
	s.router.HandleFunc("/v1/query/{traceId}/expert-correction", s.withGate(types.RoleUser, s.handleExpertCorrection)).Methods("POST")
	s.router.HandleFunc("/v1/query/{traceId}/entity-correction", s.withGate(types.RoleUser, s.handleEntityCorrection)).Methods("POST")
}

// withGate wraps a handler with credential verification and rate
// limiting and passes the admitted Principal to next. Once the
// credential is admitted and the limiter has answered, the rate-limit
// headers are written on the response, including a 429. A response to
// a rejected credential, or one served while the limiter returns an
// error, carries no rate-limit headers.
func (s *Server) withGate(requiredRole types.Role, next func(http.ResponseWriter, *http.Request, types.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		credential := r.Header.Get(credentialHeader)

		principal, err := s.Gate.Verify(r.Context(), credential, requiredRole)
		if err != nil {
			s.recordAPICall(r, "", 0, started)
			writeError(w, err)
			return
		}

		result, rlErr := s.Limiter.Check(r.Context(), principal.CredentialID, principal.Tier)
		if rlErr == nil {
			writeRateLimitHeaders(w, result)
			if !result.Allowed {
				s.recordAPICall(r, principal.CredentialID, http.StatusTooManyRequests, started)
				writeError(w, taxonomy.New(taxonomy.KindQuotaExceeded, "gate", "admit", "quota exceeded", nil))
				return
			}
		}

		next(w, r, *principal)
		s.recordAPICall(r, principal.CredentialID, 0, started)
	}
}

func (s *Server) recordAPICall(r *http.Request, credentialID string, forcedStatus int, started time.Time) {
	if s.Persistence == nil {
		return
	}
	status := forcedStatus
	if status == 0 {
		status = http.StatusOK
	}
	ev := persistence.APICallEvent{
		CredentialID:   credentialID,
		HTTPMethod:     r.Method,
		HTTPPath:       r.URL.Path,
		HTTPStatusCode: status,
		LatencyMS:      time.Since(started).Milliseconds(),
	}
	// Detached from the request context: the usage record outlives the
	// response it describes, the way gate/auth's TouchCredential runs
	// detached from the admitting request.
	go func() {
		if err := s.Persistence.RecordAPICall(context.Background(), ev); err != nil && s.Log != nil {
			s.Log.Warn(credentialID, "", "api call usage record failed", map[string]interface{}{"error": err.Error()})
		}
	}()
}

func writeRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	if result.Limit >= 0 {
		w.Header().Set("X-RateLimit-Limit", itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", itoa(result.Remaining))
	}
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", itoa(int(result.ResetAt.Unix())))
	}
	if result.RetryAfter > 0 {
		w.Header().Set("Retry-After", itoa(int(result.RetryAfter.Seconds())))
	}
}
