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
Package auth resolves the credential header on every incoming request
into a verified types.Principal. The presented credential is never
stored or compared in the clear: it is hashed with a fixed-length
SHA-256 digest and looked up by hash, the way the teacher's
database-backed auth path hashes a license key before querying
api_keys/customers.
*/
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	taxonomy "github.com/capazme/MERL-T-alpha-sub001/errors"
	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
)

// Record is the persisted Credential Record (spec.md §3/§6).
type Record struct {
	CredentialHash string
	CredentialID   string
	Role           types.Role
	Tier           types.Tier
	Active         bool
	ExpiresAt      *time.Time
	LastUsedAt     *time.Time
}

// Store is the persistence boundary gate/auth depends on. It is
// implemented by persistence.Store.
type Store interface {
	LookupCredential(ctx context.Context, hash string) (*Record, error)
	TouchCredential(ctx context.Context, hash string, at time.Time) error
}

// Gate verifies credentials and required roles.
type Gate struct {
	store Store
}

// New builds a Gate over the given credential store.
func New(store Store) *Gate {
	return &Gate{store: store}
}

// HashCredential applies the gate's fixed-length, non-reversible hash
// to a presented credential.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Verify resolves a presented credential into a Principal. requiredRole
// is the minimum role the caller must hold for the endpoint being
// admitted; pass "" to skip the role check.
func (g *Gate) Verify(ctx context.Context, credential string, requiredRole types.Role) (*types.Principal, error) {
	if credential == "" {
		return nil, taxonomy.New(taxonomy.KindCredentialMissing, "gate", "verify", "missing credential header", nil)
	}

	hash := HashCredential(credential)

	record, err := g.store.LookupCredential(ctx, hash)
	if err != nil {
		return nil, taxonomy.New(taxonomy.KindCredentialInvalid, "gate", "verify", "credential lookup failed", err)
	}
	if record == nil {
		return nil, taxonomy.New(taxonomy.KindCredentialInvalid, "gate", "verify", "unknown credential", nil)
	}
	if !record.Active {
		return nil, taxonomy.New(taxonomy.KindCredentialInactive, "gate", "verify", "credential is inactive", nil)
	}
	if record.ExpiresAt != nil && time.Now().After(*record.ExpiresAt) {
		return nil, taxonomy.New(taxonomy.KindCredentialExpired, "gate", "verify", "credential has expired", nil)
	}
	if requiredRole != "" && !satisfiesRole(record.Role, requiredRole) {
		return nil, taxonomy.New(taxonomy.KindCredentialForbiddenRole, "gate", "verify", "role does not satisfy requirement", nil)
	}

	// Fire-and-forget last-used update: failure is a warning, not a
	// rejection, so it runs detached from the request's context.
	go func(h string) {
		_ = g.store.TouchCredential(context.Background(), h, time.Now())
	}(hash)

	return &types.Principal{
		CredentialID: record.CredentialID,
		Role:         record.Role,
		Tier:         record.Tier,
	}, nil
}

// roleRank orders roles from least to most privileged.
var roleRank = map[types.Role]int{
	types.RoleGuest: 0,
	types.RoleUser:  1,
	types.RoleAdmin: 2,
}

func satisfiesRole(held, required types.Role) bool {
	return roleRank[held] >= roleRank[required]
}
