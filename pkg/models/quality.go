package models

// Quality dimension names. These are stable identifiers persisted with
// module results and cache entries.
const (
	DimAccuracy     = "accuracy"
	DimCompleteness = "completeness"
	DimAdherence    = "usdm_adherence"
	DimProvenance   = "provenance"
	DimTerminology  = "terminology"
)

// Dimension weights for the overall score. Fixed by design; changing them
// invalidates historical score comparisons.
const (
	WeightAccuracy     = 0.25
	WeightCompleteness = 0.20
	WeightAdherence    = 0.20
	WeightProvenance   = 0.20
	WeightTerminology  = 0.15
)

// QualityIssue pinpoints one defect found by the quality checker.
type QualityIssue struct {
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	Value      string `json:"value,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// QualityScore is the 5-dimensional evaluation of one extraction. All
// dimension scores are in [0,1].
type QualityScore struct {
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Adherence    float64 `json:"usdm_adherence"`
	Provenance   float64 `json:"provenance"`
	Terminology  float64 `json:"terminology"`

	Issues map[string][]QualityIssue `json:"issues,omitempty"`
}

// Overall returns the fixed weighted average of the five dimensions.
func (q QualityScore) Overall() float64 {
	return q.Accuracy*WeightAccuracy +
		q.Completeness*WeightCompleteness +
		q.Adherence*WeightAdherence +
		q.Provenance*WeightProvenance +
		q.Terminology*WeightTerminology
}

// DimensionScores returns the per-dimension scores keyed by dimension name.
func (q QualityScore) DimensionScores() map[string]float64 {
	return map[string]float64{
		DimAccuracy:     q.Accuracy,
		DimCompleteness: q.Completeness,
		DimAdherence:    q.Adherence,
		DimProvenance:   q.Provenance,
		DimTerminology:  q.Terminology,
	}
}

// Thresholds are the per-dimension floors an extraction must meet to avoid
// a retry. Overridable via configuration.
type Thresholds struct {
	Accuracy     float64 `yaml:"accuracy"`
	Completeness float64 `yaml:"completeness"`
	Adherence    float64 `yaml:"usdm_adherence"`
	Provenance   float64 `yaml:"provenance"`
	Terminology  float64 `yaml:"terminology"`
}

// DefaultThresholds returns the standard quality floors.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Accuracy:     0.95,
		Completeness: 0.90,
		Adherence:    1.0,
		Provenance:   0.95,
		Terminology:  0.90,
	}
}

// FailingDimensions returns the names of dimensions below their thresholds.
// Pass-1 evaluation must call this with pass1=true so provenance and
// terminology (not yet expected) are excluded.
func (t Thresholds) FailingDimensions(q QualityScore, pass1 bool) []string {
	var failing []string
	if q.Accuracy < t.Accuracy {
		failing = append(failing, DimAccuracy)
	}
	if q.Completeness < t.Completeness {
		failing = append(failing, DimCompleteness)
	}
	if q.Adherence < t.Adherence {
		failing = append(failing, DimAdherence)
	}
	if !pass1 {
		if q.Provenance < t.Provenance {
			failing = append(failing, DimProvenance)
		}
		if q.Terminology < t.Terminology {
			failing = append(failing, DimTerminology)
		}
	}
	return failing
}

// Meets reports whether the score clears every applicable threshold.
func (t Thresholds) Meets(q QualityScore, pass1 bool) bool {
	return len(t.FailingDimensions(q, pass1)) == 0
}
