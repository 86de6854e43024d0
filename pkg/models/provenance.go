package models

// Provenance limits. Explicit snippets outside these bounds fail validation;
// the post-processor truncates over-long snippets before evaluation.
const (
	SnippetMinLen = 10
	SnippetMaxLen = 500
	PageMin       = 1
	PageMax       = 10000
	ReasoningMin  = 50
)

// ProvenanceKind distinguishes the two citation modes.
type ProvenanceKind string

const (
	ProvenanceExplicit ProvenanceKind = "explicit"
	ProvenanceDerived  ProvenanceKind = "derived"
)

// ProvenanceRecord is a citation attached to an extracted value. Either all
// explicit fields are present (page, section, snippet) or the record is
// derived (reasoning + confidence).
type ProvenanceRecord struct {
	PageNumber    int    `json:"pageNumber,omitempty"`
	SectionNumber string `json:"sectionNumber,omitempty"`
	TextSnippet   string `json:"textSnippet,omitempty"`

	Reasoning  string `json:"reasoning,omitempty"`
	Confidence string `json:"confidence,omitempty"` // high | medium | low
}

// Kind classifies the record, preferring explicit when both field sets are
// populated.
func (p ProvenanceRecord) Kind() ProvenanceKind {
	if p.TextSnippet != "" || p.PageNumber != 0 || p.SectionNumber != "" {
		return ProvenanceExplicit
	}
	return ProvenanceDerived
}

// Valid reports whether the record satisfies either mode's invariants.
func (p ProvenanceRecord) Valid() bool {
	if p.PageNumber >= PageMin && p.PageNumber <= PageMax &&
		p.SectionNumber != "" &&
		len(p.TextSnippet) >= SnippetMinLen && len(p.TextSnippet) <= SnippetMaxLen {
		return true
	}
	if len(p.Reasoning) >= ReasoningMin {
		switch p.Confidence {
		case "high", "medium", "low":
			return true
		}
	}
	return false
}
