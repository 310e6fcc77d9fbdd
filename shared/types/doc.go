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
Package types provides shared value types used across the gate, the
workflow runtime, and the persistence layer: the verified principal
handle produced by the gate, the user-supplied hints carried on a query
request, and small helpers shared by those.

# Usage

The gate resolves a credential into a Principal:

	p := types.Principal{CredentialID: id, Role: types.RoleUser, Tier: types.TierStandard}

The workflow runtime reads optional hints off the original request:

	hints := types.QueryHints{Jurisdiction: "IT", Role: "counterparty"}

# Thread Safety

All types in this package are value types and are safe for concurrent use.
*/
package types
