package terminology

import (
	"fmt"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// CodePair is one {code, decode} object found in a document.
type CodePair struct {
	Path     string
	Code     string
	Decode   string
	Codelist string // inferred from the path; "" when no codelist applies
}

// pathCodelists maps the last meaningful path segment to the codelist that
// governs it. Array indices are stripped before lookup.
var pathCodelists = map[string]string{
	"studyPhase":            "Trial Phase",
	"phase":                 "Trial Phase",
	"type":                  "Arm Type",
	"armType":               "Arm Type",
	"blindingSchema":        "Trial Blinding Schema",
	"trialBlindingSchema":   "Trial Blinding Schema",
	"interventionModel":     "Intervention Model",
	"trialIntentTypes":      "",
	"sex":                   "Sex",
	"plannedSex":            "Sex",
	"level":                 "Objective Level",
	"endpointLevel":         "Endpoint Level",
	"category":              "Eligibility Criterion Category",
	"specimenType":          "Specimen Type",
	"specimen":              "Specimen Type",
	"route":                 "Route of Administration",
	"routeOfAdministration": "Route of Administration",
	"environmentalSetting":  "Encounter Environmental Setting",
	"relativeToFrom":        "Timing Relative To From",
	"domain":                "SDTM Domain Abbreviation",
	"domainCode":            "SDTM Domain Abbreviation",
}

// InferCodelist returns the codelist name governing a document path, or "".
// Endpoint levels share the segment name "level" with objectives, so the
// parent segment disambiguates.
func InferCodelist(path string) string {
	segs := splitPath(path)
	if len(segs) == 0 {
		return ""
	}
	last := segs[len(segs)-1]
	if last == "level" && len(segs) >= 2 && strings.HasPrefix(segs[len(segs)-2], "endpoint") {
		return "Endpoint Level"
	}
	return pathCodelists[last]
}

func splitPath(path string) []string {
	parts := strings.Split(path, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if i := strings.IndexByte(p, '['); i >= 0 {
			p = p[:i]
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FindCodePairs walks the document and collects every object that carries
// both a code and a decode.
func FindCodePairs(doc map[string]any) []CodePair {
	var pairs []CodePair
	findPairs(doc, "", &pairs)
	return pairs
}

func findPairs(v any, path string, pairs *[]CodePair) {
	switch node := v.(type) {
	case map[string]any:
		code, hasCode := node["code"].(string)
		decode, hasDecode := node["decode"].(string)
		if hasCode && hasDecode {
			*pairs = append(*pairs, CodePair{
				Path:     path,
				Code:     code,
				Decode:   decode,
				Codelist: InferCodelist(path),
			})
		}
		for key, child := range node {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			findPairs(child, childPath, pairs)
		}
	case []any:
		for i, item := range node {
			findPairs(item, fmt.Sprintf("%s[%d]", path, i), pairs)
		}
	}
}

// Result summarizes one terminology validation.
type Result struct {
	Checked  int
	Resolved int
	Issues   []models.QualityIssue
}

// Score returns resolved/checked, or 1 when nothing was checked.
func (r Result) Score() float64 {
	if r.Checked == 0 {
		return 1
	}
	return float64(r.Resolved) / float64(r.Checked)
}

// Validate checks every code/decode pair in the document against its
// governing codelist. Pairs on paths with no governing codelist are skipped.
// This path is pure: novel terms are an issue here, never an LLM call.
func Validate(doc map[string]any) Result {
	lists, err := Lists()
	if err != nil {
		return Result{
			Checked: 1,
			Issues: []models.QualityIssue{{
				Path: "$", Kind: "terminology_unavailable", Value: err.Error(),
			}},
		}
	}

	var res Result
	for _, pair := range FindCodePairs(doc) {
		if pair.Codelist == "" {
			continue
		}
		list, ok := lists[pair.Codelist]
		if !ok {
			continue
		}
		res.Checked++

		entry := list.ByCode(pair.Code)
		switch {
		case entry == nil:
			res.Issues = append(res.Issues, models.QualityIssue{
				Path:       pair.Path,
				Kind:       "unknown_code",
				Value:      pair.Code,
				Suggestion: suggestFor(list, pair.Decode),
			})
		case !decodeMatches(entry, pair.Decode):
			res.Issues = append(res.Issues, models.QualityIssue{
				Path:       pair.Path,
				Kind:       "decode_mismatch",
				Value:      pair.Decode,
				Suggestion: entry.Decode,
			})
		default:
			res.Resolved++
		}
	}
	return res
}

func decodeMatches(entry *Entry, decode string) bool {
	want := normalize(decode)
	if want == normalize(entry.Decode) {
		return true
	}
	for _, syn := range entry.Synonyms {
		if want == normalize(syn) {
			return true
		}
	}
	return false
}

func suggestFor(list *Codelist, decode string) string {
	if entry := list.ByDecode(decode); entry != nil {
		return entry.Code
	}
	return ""
}
