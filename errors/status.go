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

package errors

import "net/http"

// HTTPStatus maps a Class to the status code the submit-query endpoint
// uses when the error is credential/quota/validation and therefore
// refused outright instead of degraded.
func (c Class) HTTPStatus() int {
	switch c {
	case ClassCredential:
		return http.StatusUnauthorized
	case ClassQuota:
		return http.StatusTooManyRequests
	case ClassValidation:
		return http.StatusBadRequest
	case ClassDeadline:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus is a convenience that goes straight from Kind to status code.
func (k Kind) HTTPStatus() int {
	if k == KindCredentialForbiddenRole {
		return http.StatusForbidden
	}
	return k.Class().HTTPStatus()
}
