// Package quality implements the 5-dimensional evaluator that drives the
// extraction retry policy, plus the deterministic post-processor that runs
// before every evaluation. The whole package is pure: no I/O, no LLM calls.
package quality

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/provenance"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/terminology"
)

// Pass selects which dimensions an evaluation runs. Values-only evaluation
// skips provenance and terminology because pass 1 has not cited anything yet.
type Pass int

const (
	PassValues Pass = iota + 1
	PassCombined
)

// Checker evaluates one module's extractions against its schema. Construct
// one per module; it is safe for concurrent use.
type Checker struct {
	schema     *jsonschema.Schema
	schemaDoc  map[string]any
	loadIssue  *models.QualityIssue
	thresholds models.Thresholds
}

// NewChecker compiles the module schema with the shared component schemas
// available for $ref resolution. A schema that fails to load does not block:
// adherence reports 1.0 with a warning issue instead.
func NewChecker(schemaJSON string, components map[string]string, thresholds models.Thresholds) *Checker {
	c := &Checker{thresholds: thresholds}

	var doc map[string]any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err == nil {
		c.schemaDoc = doc
	}

	compiled, err := compileSchema(schemaJSON, components)
	if err != nil {
		c.loadIssue = &models.QualityIssue{
			Path:  "$",
			Kind:  "schema_load_failed",
			Value: err.Error(),
		}
		return c
	}
	c.schema = compiled
	return c
}

func compileSchema(schemaJSON string, components map[string]string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	for name, text := range components {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("component schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("component schema %s: %w", name, err)
		}
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("module schema: %w", err)
	}
	if err := compiler.AddResource("module.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("module.json")
}

// Thresholds returns the floors this checker evaluates against.
func (c *Checker) Thresholds() models.Thresholds { return c.thresholds }

// Evaluate scores the document. PassValues runs accuracy, completeness, and
// adherence only; PassCombined runs all five dimensions.
func (c *Checker) Evaluate(doc map[string]any, pass Pass) models.QualityScore {
	score := models.QualityScore{Issues: map[string][]models.QualityIssue{}}

	score.Accuracy = c.evaluateAccuracy(doc, &score)
	score.Completeness = c.evaluateCompleteness(doc, &score)
	score.Adherence = c.evaluateAdherence(doc, &score)

	if pass == PassValues {
		// Not evaluated yet; neutral so Overall stays comparable.
		score.Provenance = 1
		score.Terminology = 1
		return score
	}

	cov := provenance.Measure(doc)
	score.Provenance = cov.Fraction()
	for i, path := range cov.Uncovered {
		if i >= maxIssuesPerDimension {
			break
		}
		score.Issues[models.DimProvenance] = append(score.Issues[models.DimProvenance], models.QualityIssue{
			Path: path, Kind: "missing_provenance",
			Suggestion: "attach an explicit or derived provenance record",
		})
	}

	term := terminology.Validate(doc)
	score.Terminology = term.Score()
	score.Issues[models.DimTerminology] = append(score.Issues[models.DimTerminology], term.Issues...)

	return score
}

const maxIssuesPerDimension = 25

var placeholderValues = map[string]bool{
	"tbd": true, "todo": true, "n/a": true, "na": true, "tbc": true,
	"xxx": true, "to be determined": true, "to be confirmed": true,
	"unknown": true, "placeholder": true,
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2})?(Z|[+-]\d{2}:?\d{2})?)?$`)

func (c *Checker) evaluateAccuracy(doc map[string]any, score *models.QualityScore) float64 {
	checked, issues := 0, 0
	report := func(path, kind, value, suggestion string) {
		issues++
		if len(score.Issues[models.DimAccuracy]) < maxIssuesPerDimension {
			score.Issues[models.DimAccuracy] = append(score.Issues[models.DimAccuracy], models.QualityIssue{
				Path: path, Kind: kind, Value: value, Suggestion: suggestion,
			})
		}
	}

	walkScalars(doc, "", func(path, key string, value any) {
		checked++
		s, isString := value.(string)
		if isString && placeholderValues[strings.ToLower(strings.TrimSpace(s))] {
			report(path, "placeholder_value", s, "extract the real value or omit the field")
			return
		}
		if isString && strings.Contains(strings.ToLower(key), "date") && s != "" && !datePattern.MatchString(s) {
			report(path, "invalid_date_format", s, "use ISO 8601 (YYYY-MM-DD)")
			return
		}
		switch key {
		case "textSnippet":
			if isString && len(s) < models.SnippetMinLen {
				report(path, "snippet_too_short", s, fmt.Sprintf("snippets must be at least %d characters", models.SnippetMinLen))
			}
		case "pageNumber":
			if n, ok := value.(float64); ok && n < models.PageMin {
				report(path, "invalid_page_number", fmt.Sprintf("%v", n), "page numbers are 1-based")
			}
		}
	})

	if checked == 0 {
		return 1
	}
	return clamp01(1 - float64(issues)/float64(checked))
}

func (c *Checker) evaluateCompleteness(doc map[string]any, score *models.QualityScore) float64 {
	required := requiredFields(c.schemaDoc)
	if len(required) == 0 {
		return 1
	}
	present := 0
	for _, field := range required {
		if isPopulated(doc[field]) {
			present++
			continue
		}
		score.Issues[models.DimCompleteness] = append(score.Issues[models.DimCompleteness], models.QualityIssue{
			Path: field, Kind: "missing_required_field",
			Suggestion: "the schema requires this field to be populated",
		})
	}
	return float64(present) / float64(len(required))
}

func (c *Checker) evaluateAdherence(doc map[string]any, score *models.QualityScore) float64 {
	if c.schema == nil {
		if c.loadIssue != nil {
			score.Issues[models.DimAdherence] = append(score.Issues[models.DimAdherence], *c.loadIssue)
		}
		return 1
	}

	err := c.schema.Validate(normalizeForSchema(doc))
	if err == nil {
		return 1
	}

	var ve *jsonschema.ValidationError
	count := 1
	if errors.As(err, &ve) {
		leaves := leafCauses(ve)
		count = len(leaves)
		for i, cause := range leaves {
			if i >= maxIssuesPerDimension {
				break
			}
			score.Issues[models.DimAdherence] = append(score.Issues[models.DimAdherence], models.QualityIssue{
				Path:  "/" + strings.Join(cause.InstanceLocation, "/"),
				Kind:  "schema_violation",
				Value: cause.Error(),
			})
		}
	} else {
		score.Issues[models.DimAdherence] = append(score.Issues[models.DimAdherence], models.QualityIssue{
			Path: "$", Kind: "schema_violation", Value: err.Error(),
		})
	}
	return clamp01(1 - float64(count)*0.1)
}

func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var leaves []*jsonschema.ValidationError
	for _, cause := range ve.Causes {
		leaves = append(leaves, leafCauses(cause)...)
	}
	return leaves
}

// normalizeForSchema round-trips the document through JSON so numeric types
// match what the validator expects.
func normalizeForSchema(doc map[string]any) any {
	raw, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	v, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return doc
	}
	return v
}

func requiredFields(schemaDoc map[string]any) []string {
	if schemaDoc == nil {
		return nil
	}
	raw, ok := schemaDoc["required"].([]any)
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			fields = append(fields, s)
		}
	}
	return fields
}

func isPopulated(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// walkScalars visits every scalar leaf with its path and owning key.
func walkScalars(v any, path string, visit func(path, key string, value any)) {
	switch node := v.(type) {
	case map[string]any:
		for key, child := range node {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			switch child.(type) {
			case map[string]any, []any:
				walkScalars(child, childPath, visit)
			case nil:
			default:
				visit(childPath, key, child)
			}
		}
	case []any:
		for i, item := range node {
			walkScalars(item, fmt.Sprintf("%s[%d]", path, i), visit)
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
