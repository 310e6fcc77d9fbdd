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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taxonomy "github.com/capazme/MERL-T-alpha-sub001/errors"
	"github.com/capazme/MERL-T-alpha-sub001/shared/types"
)

type fakeStore struct {
	records map[string]*Record
	touched []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*Record)}
}

func (f *fakeStore) LookupCredential(ctx context.Context, hash string) (*Record, error) {
	return f.records[hash], nil
}

func (f *fakeStore) TouchCredential(ctx context.Context, hash string, at time.Time) error {
	f.touched = append(f.touched, hash)
	return nil
}

func TestVerify_MissingCredential(t *testing.T) {
	g := New(newFakeStore())

	_, err := g.Verify(context.Background(), "", "")
	kind, ok := taxonomy.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, taxonomy.KindCredentialMissing, kind)
}

func TestVerify_UnknownCredential(t *testing.T) {
	g := New(newFakeStore())

	_, err := g.Verify(context.Background(), "sk-does-not-exist", "")
	kind, ok := taxonomy.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, taxonomy.KindCredentialInvalid, kind)
}

func TestVerify_InactiveCredential(t *testing.T) {
	store := newFakeStore()
	hash := HashCredential("sk-test")
	store.records[hash] = &Record{CredentialHash: hash, CredentialID: "cred-1", Active: false}

	g := New(store)
	_, err := g.Verify(context.Background(), "sk-test", "")
	kind, ok := taxonomy.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, taxonomy.KindCredentialInactive, kind)
}

func TestVerify_ExpiredCredential(t *testing.T) {
	store := newFakeStore()
	hash := HashCredential("sk-test")
	expired := time.Now().Add(-time.Hour)
	store.records[hash] = &Record{CredentialHash: hash, CredentialID: "cred-1", Active: true, ExpiresAt: &expired}

	g := New(store)
	_, err := g.Verify(context.Background(), "sk-test", "")
	kind, ok := taxonomy.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, taxonomy.KindCredentialExpired, kind)
}

func TestVerify_ForbiddenRole(t *testing.T) {
	store := newFakeStore()
	hash := HashCredential("sk-test")
	store.records[hash] = &Record{CredentialHash: hash, CredentialID: "cred-1", Active: true, Role: types.RoleGuest}

	g := New(store)
	_, err := g.Verify(context.Background(), "sk-test", types.RoleAdmin)
	kind, ok := taxonomy.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, taxonomy.KindCredentialForbiddenRole, kind)
}

func TestVerify_Success(t *testing.T) {
	store := newFakeStore()
	hash := HashCredential("sk-test")
	store.records[hash] = &Record{
		CredentialHash: hash,
		CredentialID:   "cred-1",
		Active:         true,
		Role:           types.RoleUser,
		Tier:           types.TierStandard,
	}

	g := New(store)
	principal, err := g.Verify(context.Background(), "sk-test", types.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "cred-1", principal.CredentialID)
	assert.Equal(t, types.TierStandard, principal.Tier)
}

func TestHashCredential_IsDeterministicAndNonReversible(t *testing.T) {
	h1 := HashCredential("sk-secret")
	h2 := HashCredential("sk-secret")
	assert.Equal(t, h1, h2)
	assert.NotContains(t, h1, "sk-secret")
	assert.Len(t, h1, 64) // hex-encoded SHA-256
}
