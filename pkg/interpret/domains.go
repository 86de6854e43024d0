package interpret

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/terminology"
)

// curatedDomains maps activity-name keywords to (category, domain code).
// Checked before the cache and the LLM; a curated hit is always confidence
// 1.0.
var curatedDomains = []struct {
	keyword  string
	category string
	domain   string
}{
	{"ecg", "PROCEDURE", "EG"},
	{"electrocardiogram", "PROCEDURE", "EG"},
	{"vital sign", "OBSERVATION", "VS"},
	{"blood pressure", "OBSERVATION", "VS"},
	{"weight", "OBSERVATION", "VS"},
	{"height", "OBSERVATION", "VS"},
	{"temperature", "OBSERVATION", "VS"},
	{"physical exam", "PROCEDURE", "PE"},
	{"hematology", "LABORATORY", "LB"},
	{"chemistry", "LABORATORY", "LB"},
	{"urinalysis", "LABORATORY", "LB"},
	{"coagulation", "LABORATORY", "LB"},
	{"laboratory", "LABORATORY", "LB"},
	{"pregnancy test", "LABORATORY", "LB"},
	{"pharmacokinetic", "SPECIMEN", "PC"},
	{"pk sampl", "SPECIMEN", "PC"},
	{"pk blood", "SPECIMEN", "PC"},
	{"immunogenicity", "SPECIMEN", "IS"},
	{"antibod", "SPECIMEN", "IS"},
	{"questionnaire", "QUESTIONNAIRE", "QS"},
	{"medical history", "OBSERVATION", "MH"},
	{"concomitant medication", "OBSERVATION", "CM"},
	{"prior medication", "OBSERVATION", "CM"},
	{"study drug", "INTERVENTION", "EX"},
	{"dosing", "INTERVENTION", "EX"},
	{"dose administration", "INTERVENTION", "EX"},
	{"adverse event", "OBSERVATION", "AE"},
	{"randomization", "ADMINISTRATIVE", "DS"},
	{"informed consent", "ADMINISTRATIVE", "DS"},
	{"tumor assessment", "PROCEDURE", "TU"},
	{"ct scan", "PROCEDURE", "PR"},
	{"mri", "PROCEDURE", "PR"},
	{"biopsy", "PROCEDURE", "PR"},
}

const domainCodelist = "SDTM Domain Abbreviation"

// domainMapping is the per-activity mapping shape cached on disk and stored
// in the activity's sidecar.
type domainMapping struct {
	Category   string  `json:"category"`
	Domain     string  `json:"cdashDomain"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
	Source     string  `json:"source"`
}

// runDomains is stage 1: every activity gets a category, a 2-letter domain
// code, and an optional biomedicalConcept. LLM-first with a curated keyword
// tier and an on-disk per-term cache in front of it.
func (p *Pipeline) runDomains(ctx context.Context, doc map[string]any) (map[string]any, error) {
	activities := objects(doc, "activities")
	if len(activities) == 0 {
		return map[string]any{"activities": 0}, nil
	}

	mappings := make(map[string]domainMapping, len(activities))
	var novel []string
	for _, act := range activities {
		name := normalizeTerm(str(act, "name"))
		if name == "" {
			continue
		}
		if _, done := mappings[name]; done {
			continue
		}
		if m, ok := curatedDomain(name); ok {
			mappings[name] = m
			continue
		}
		if m, ok := p.readTermCache(name); ok {
			mappings[name] = m
			continue
		}
		novel = append(novel, name)
	}

	llmMapped, err := p.categorizeBatched(ctx, novel)
	if err != nil {
		// LLM unavailability degrades to defaults; the mapping source
		// records it for the review package.
		slog.Warn("Batched domain categorization failed", "terms", len(novel), "error", err)
	}
	for _, name := range novel {
		m, ok := llmMapped[name]
		if !ok {
			m = domainMapping{
				Category: "GENERAL", Domain: "PR",
				Source: string(models.MappingDefault),
			}
		}
		mappings[name] = m
		if m.Source == string(models.MappingLLM) {
			p.writeTermCache(name, m)
		}
	}

	counts := map[string]int{}
	for _, act := range activities {
		name := normalizeTerm(str(act, "name"))
		m, ok := mappings[name]
		if !ok {
			continue
		}
		decision := models.Decide(m.Confidence)
		if m.Source == string(models.MappingDefault) {
			decision = models.DecisionReject
		}
		if decision == models.DecisionReject && m.Source == string(models.MappingLLM) {
			// Below the reject line the LLM answer is discarded for the
			// deterministic default.
			m = domainMapping{Category: "GENERAL", Domain: "PR",
				Source: string(models.MappingDefault)}
		}

		act["category"] = m.Category
		act["cdashDomain"] = m.Domain
		act["_domainMapping"] = map[string]any{
			"confidence": m.Confidence,
			"source":     m.Source,
			"rationale":  m.Rationale,
			"decision":   string(decision),
		}
		if bc := biomedicalConcept(m.Domain); bc != nil {
			act["biomedicalConcept"] = bc
		}
		if decision != models.DecisionAuto {
			markReview(act, fmt.Sprintf("domain mapping %s (%s, confidence %.2f)",
				m.Domain, m.Source, m.Confidence))
		}
		counts[string(decision)]++
	}
	setObjects(doc, "activities", activities)

	return map[string]any{
		"activities": len(activities),
		"llmTerms":   len(novel),
		"decisions":  counts,
	}, nil
}

func curatedDomain(name string) (domainMapping, bool) {
	for _, c := range curatedDomains {
		if strings.Contains(name, c.keyword) {
			return domainMapping{
				Category: c.category, Domain: c.domain,
				Confidence: 1.0, Source: string(models.MappingCached),
			}, true
		}
	}
	return domainMapping{}, false
}

// biomedicalConcept looks the domain code up in the embedded codelist to
// attach code + decode.
func biomedicalConcept(domain string) map[string]any {
	lists, err := terminology.Lists()
	if err != nil {
		return nil
	}
	list, ok := lists[domainCodelist]
	if !ok {
		return nil
	}
	entry := list.ByCode(domain)
	if entry == nil {
		return nil
	}
	return map[string]any{
		"code":   entry.Code,
		"decode": entry.Decode,
	}
}

// categorizeBatched sends all uncategorized terms to the LLM in bounded
// batches. Single-term calls inside loops are deliberately impossible here.
func (p *Pipeline) categorizeBatched(ctx context.Context, terms []string) (map[string]domainMapping, error) {
	if len(terms) == 0 {
		return map[string]domainMapping{}, nil
	}
	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}

	out := make(map[string]domainMapping, len(terms))
	for start := 0; start < len(terms); start += batchSize {
		end := min(start+batchSize, len(terms))
		batch := terms[start:end]

		var sb strings.Builder
		sb.WriteString(`Classify each clinical trial activity into a category and an SDTM domain.

Categories: LABORATORY, OBSERVATION, PROCEDURE, SPECIMEN, QUESTIONNAIRE, INTERVENTION, ADMINISTRATIVE, GENERAL.
Domains: LB, VS, EG, PC, IS, QS, PE, MH, CM, EX, AE, DS, RS, TU, PR.

Activities:
`)
		for _, t := range batch {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
		sb.WriteString(`
Respond with JSON only:
{"mappings": [{"term": "...", "category": "...", "cdashDomain": "...", "confidence": 0.0, "rationale": "..."}]}`)

		text, err := p.client.Generate(ctx, llm.Request{Prompt: sb.String(), JSONResponse: true})
		if err != nil {
			return out, err
		}
		var parsed struct {
			Mappings []struct {
				Term       string  `json:"term"`
				Category   string  `json:"category"`
				Domain     string  `json:"cdashDomain"`
				Confidence float64 `json:"confidence"`
				Rationale  string  `json:"rationale"`
			} `json:"mappings"`
		}
		if err := llm.ParseInto(text, &parsed); err != nil {
			return out, err
		}
		for _, m := range parsed.Mappings {
			name := normalizeTerm(m.Term)
			if name == "" || m.Domain == "" {
				continue
			}
			out[name] = domainMapping{
				Category:   strings.ToUpper(m.Category),
				Domain:     strings.ToUpper(m.Domain),
				Confidence: m.Confidence,
				Rationale:  m.Rationale,
				Source:     string(models.MappingLLM),
			}
		}
	}
	return out, nil
}

// Term cache: one JSON file per normalized activity name, so repeated
// protocols skip the LLM for terms seen before.

func (p *Pipeline) termCachePath(name string) string {
	sum := sha256.Sum256([]byte(name))
	return filepath.Join(p.cfg.TermCacheDir, hex.EncodeToString(sum[:16])+".json")
}

func (p *Pipeline) readTermCache(name string) (domainMapping, bool) {
	if p.cfg.TermCacheDir == "" {
		return domainMapping{}, false
	}
	data, err := os.ReadFile(p.termCachePath(name))
	if err != nil {
		return domainMapping{}, false
	}
	var m domainMapping
	if err := json.Unmarshal(data, &m); err != nil || m.Domain == "" {
		return domainMapping{}, false
	}
	m.Source = string(models.MappingCached)
	return m, true
}

func (p *Pipeline) writeTermCache(name string, m domainMapping) {
	if p.cfg.TermCacheDir == "" {
		return
	}
	if err := os.MkdirAll(p.cfg.TermCacheDir, 0o755); err != nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	tmp := p.termCachePath(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, p.termCachePath(name))
}
