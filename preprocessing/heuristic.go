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
Package preprocessing produces the query context and enriched context
once per request, before the iteration loop. The heuristic pass is a
regex pattern table in the style of orchestrator/pii_detector.go's
EnhancedPIIDetector (a compiled-pattern table with a type tag and a
validator), repurposed from PII categories to norm citations, dates,
party roles, and enumerated legal concepts.
*/
package preprocessing

import (
	"regexp"
	"strings"

	"github.com/capazme/MERL-T-alpha-sub001/workflow"
)

// heuristicPattern is one compiled regex entry in the heuristic table.
type heuristicPattern struct {
	EntityType string
	Pattern    *regexp.Regexp
	Confidence float64
}

var heuristicPatterns = []heuristicPattern{
	{
		EntityType: "norm-reference",
		Pattern:    regexp.MustCompile(`(?i)\bart(?:icolo|\.)?\s?\d+[\-\w]*(?:\s+(?:co\.|comma)\s?\d+)?(?:\s+(?:c\.c\.|c\.p\.|cost\.|cod\.\s?civ\.|cod\.\s?pen\.))?`),
		Confidence: 0.9,
	},
	{
		EntityType: "norm-reference",
		Pattern:    regexp.MustCompile(`(?i)\b(?:legge|d\.lgs\.|decreto\s+legislativo|d\.p\.r\.)\s+n?\.?\s?\d+[/\-]\d{2,4}`),
		Confidence: 0.85,
	},
	{
		EntityType: "date",
		Pattern:    regexp.MustCompile(`\b\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b`),
		Confidence: 0.8,
	},
	{
		EntityType: "party-role",
		Pattern:    regexp.MustCompile(`(?i)\b(locatore|locatario|conduttore|venditore|acquirente|debitore|creditore|datore di lavoro|lavoratore)\b`),
		Confidence: 0.75,
	},
}

// conceptVocabulary is the controlled tag set the heuristic pass
// matches against verbatim keyword hits.
var conceptVocabulary = map[string]string{
	"recesso":      "termination",
	"risoluzione":  "termination",
	"inadempimento": "breach",
	"responsabilità": "liability",
	"garanzia":     "warranty",
	"nullità":      "invalidity",
	"prescrizione": "limitation-period",
}

// heuristicResult is the output of the regex-only pass.
type heuristicResult struct {
	Entities []workflow.EntitySpan
	Concepts []string
	Dates    []string
}

func runHeuristics(query string) heuristicResult {
	var res heuristicResult
	seen := make(map[string]bool)

	for _, p := range heuristicPatterns {
		for _, loc := range p.Pattern.FindAllStringIndex(query, -1) {
			text := query[loc[0]:loc[1]]
			res.Entities = append(res.Entities, workflow.EntitySpan{
				Text:       text,
				Type:       p.EntityType,
				Start:      loc[0],
				End:        loc[1],
				Confidence: p.Confidence,
			})
			if p.EntityType == "date" {
				res.Dates = append(res.Dates, text)
			}
		}
	}

	lower := strings.ToLower(query)
	for keyword, tag := range conceptVocabulary {
		if strings.Contains(lower, keyword) && !seen[tag] {
			res.Concepts = append(res.Concepts, tag)
			seen[tag] = true
		}
	}

	return res
}
