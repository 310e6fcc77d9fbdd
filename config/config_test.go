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

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Iteration.Max)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Request)
	assert.Equal(t, -1, cfg.RateLimit.TierQuotas["unlimited"])
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("MERLT_ITERATION_MAX", "5")
	t.Setenv("MERLT_TIMEOUT_REQUEST", "45s")
	t.Setenv("MERLT_CACHE_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Iteration.Max)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Request)
	assert.False(t, cfg.Flags.CacheEnabled)
}

func TestLoad_InvalidDurationErrors(t *testing.T) {
	t.Setenv("MERLT_TIMEOUT_REQUEST", "not-a-duration")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("iteration:\n  max: 7\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Iteration.Max)
}

func TestLoad_MissingYAMLFileIsNotAnError(t *testing.T) {
	cfg, err := Load("/no/such/file.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default().Iteration.Max, cfg.Iteration.Max)
}

func TestValidate_RejectsOutOfRangeIterationMax(t *testing.T) {
	cfg := Default()
	cfg.Iteration.Max = 0
	assert.Error(t, cfg.Validate())

	cfg.Iteration.Max = 11
	assert.Error(t, cfg.Validate())
}
