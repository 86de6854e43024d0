// Package provenance validates and repairs the citations attached to
// extracted values: coverage measurement over the document tree, page-number
// correction by snippet search, and printed-vs-physical offset detection.
package provenance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// ProvenanceSuffix is the sibling-field convention: a scalar `phase` may be
// cited by a sibling `phaseProvenance` object.
const ProvenanceSuffix = "Provenance"

// exemptFields never require provenance. Identifiers and structural metadata
// are generated, not extracted, so citing them is meaningless.
var exemptFields = map[string]bool{
	"id":                true,
	"instanceType":      true,
	"instanceId":        true,
	"codeSystem":        true,
	"codeSystemVersion": true,
	"_metadata":         true,
}

// Coverage is the result of one coverage traversal.
type Coverage struct {
	Eligible  int
	Covered   int
	Uncovered []string // paths of eligible scalars without valid provenance
}

// Fraction returns covered/eligible, or 1 when nothing was eligible.
func (c Coverage) Fraction() float64 {
	if c.Eligible == 0 {
		return 1
	}
	return float64(c.Covered) / float64(c.Eligible)
}

// Measure traverses the document and scores provenance coverage. A scalar is
// covered when its owning object carries a valid nested provenance, a valid
// sibling <key>Provenance exists, or any ancestor object carries a valid
// provenance. A nested record on the owning object wins over a sibling when
// both exist.
func Measure(doc map[string]any) Coverage {
	var cov Coverage
	walkObject(doc, "", false, &cov)
	return cov
}

func walkObject(obj map[string]any, path string, inherited bool, cov *Coverage) {
	covered := inherited || hasValidRecord(obj["provenance"])

	for key, value := range obj {
		if key == "provenance" || strings.HasSuffix(key, ProvenanceSuffix) {
			continue
		}
		childPath := joinPath(path, key)

		switch v := value.(type) {
		case map[string]any:
			walkObject(v, childPath, covered, cov)
		case []any:
			for i, item := range v {
				if m, ok := item.(map[string]any); ok {
					walkObject(m, fmt.Sprintf("%s[%d]", childPath, i), covered, cov)
				} else if item != nil && !exemptFields[key] {
					countScalar(obj, key, fmt.Sprintf("%s[%d]", childPath, i), covered, cov)
				}
			}
		case nil:
			// Null values are not extracted values.
		default:
			if exemptFields[key] {
				continue
			}
			countScalar(obj, key, childPath, covered, cov)
		}
	}
}

func countScalar(owner map[string]any, key, path string, inherited bool, cov *Coverage) {
	cov.Eligible++
	if inherited || hasValidRecord(owner[key+ProvenanceSuffix]) {
		cov.Covered++
		return
	}
	cov.Uncovered = append(cov.Uncovered, path)
}

func hasValidRecord(v any) bool {
	rec, ok := asRecord(v)
	return ok && rec.Valid()
}

// asRecord converts a generic JSON value into a ProvenanceRecord.
func asRecord(v any) (models.ProvenanceRecord, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return models.ProvenanceRecord{}, false
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return models.ProvenanceRecord{}, false
	}
	var rec models.ProvenanceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.ProvenanceRecord{}, false
	}
	return rec, true
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
