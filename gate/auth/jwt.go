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

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	taxonomy "github.com/capazme/MERL-T-alpha-sub001/errors"
	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
)

// claims is the JWT alternate credential shape: a signed token carrying
// the principal directly, instead of an opaque key looked up by hash.
type claims struct {
	CredentialID string     `json:"cid"`
	Role         types.Role `json:"role"`
	Tier         types.Tier `json:"tier"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies the alternate JWT credential header format.
type JWTVerifier struct {
	signingKey []byte
}

// NewJWTVerifier builds a JWTVerifier with the given HMAC signing key.
func NewJWTVerifier(signingKey []byte) *JWTVerifier {
	return &JWTVerifier{signingKey: signingKey}
}

// Verify parses and validates a JWT credential, returning the embedded
// principal. Expiry is enforced by the jwt library itself via "exp".
func (v *JWTVerifier) Verify(ctx context.Context, token string, requiredRole types.Role) (*types.Principal, error) {
	if token == "" {
		return nil, taxonomy.New(taxonomy.KindCredentialMissing, "gate", "jwt-verify", "missing credential header", nil)
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, taxonomy.New(taxonomy.KindCredentialInvalid, "gate", "jwt-verify", "unexpected signing method", nil)
		}
		return v.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, taxonomy.New(taxonomy.KindCredentialExpired, "gate", "jwt-verify", "token expired", err)
		}
		return nil, taxonomy.New(taxonomy.KindCredentialInvalid, "gate", "jwt-verify", "token parse failed", err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, taxonomy.New(taxonomy.KindCredentialInvalid, "gate", "jwt-verify", "invalid token claims", nil)
	}

	if requiredRole != "" && !satisfiesRole(c.Role, requiredRole) {
		return nil, taxonomy.New(taxonomy.KindCredentialForbiddenRole, "gate", "jwt-verify", "role does not satisfy requirement", nil)
	}

	return &types.Principal{CredentialID: c.CredentialID, Role: c.Role, Tier: c.Tier}, nil
}

// Issue mints a signed JWT credential for the given principal, valid
// for ttl. Used by test tooling and administrative credential issuance.
func (v *JWTVerifier) Issue(p types.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		CredentialID: p.CredentialID,
		Role:         p.Role,
		Tier:         p.Tier,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.signingKey)
}
