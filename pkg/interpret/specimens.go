package interpret

import (
	"context"
	"fmt"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// specimenDomains are the domains whose activities involve a collected
// specimen.
var specimenDomains = map[string]bool{"PC": true, "IS": true, "LB": true}

// knownTubeTypes is the pattern registry for enrichment validation. An
// enrichment naming an unknown tube type is rejected regardless of the
// model's confidence.
var knownTubeTypes = map[string]bool{
	"edta":             true,
	"k2edta":           true,
	"k3edta":           true,
	"sst":              true,
	"serum separator":  true,
	"lithium heparin":  true,
	"sodium heparin":   true,
	"sodium citrate":   true,
	"fluoride oxalate": true,
	"plain":            true,
	"paxgene":          true,
}

// maxSpecimenVolumeML bounds plausible single-draw volumes.
const maxSpecimenVolumeML = 50.0

type specimenEnrichment struct {
	ActivityID   string  `json:"activityId"`
	SpecimenType string  `json:"specimenType"`
	TubeType     string  `json:"tubeType"`
	VolumeML     float64 `json:"volumeMl"`
	Purpose      string  `json:"purpose"`
	Confidence   float64 `json:"confidence"`
}

// runSpecimens is stage 5: attach tube/volume/purpose metadata to
// specimen-domain activities via one batched LLM call, validated against
// the tube-type registry and the confidence bands.
func (p *Pipeline) runSpecimens(ctx context.Context, doc map[string]any) (map[string]any, error) {
	activities := objects(doc, "activities")

	var targets []map[string]any
	for _, act := range activities {
		if specimenDomains[str(act, "cdashDomain")] && act["specimen"] == nil {
			targets = append(targets, act)
		}
	}
	if len(targets) == 0 {
		return map[string]any{"specimenActivities": 0}, nil
	}

	enrichments, err := p.enrichSpecimensBatched(ctx, targets)
	if err != nil {
		return nil, fmt.Errorf("specimen enrichment failed: %w", err)
	}

	byActivity := make(map[string]map[string]any, len(targets))
	for _, act := range targets {
		byActivity[str(act, "id")] = act
	}

	typeCodes := p.resolveSpecimenTypes(ctx, enrichments)

	counts := map[string]int{}
	for _, e := range enrichments {
		act, ok := byActivity[e.ActivityID]
		if !ok {
			continue
		}
		if !validEnrichment(e) {
			counts["rejected_pattern"]++
			continue
		}
		decision := models.Decide(e.Confidence)
		if decision == models.DecisionReject {
			counts["rejected_confidence"]++
			continue
		}

		specimen := map[string]any{
			"specimenType": e.SpecimenType,
			"tubeType":     e.TubeType,
			"volumeMl":     e.VolumeML,
			"purpose":      e.Purpose,
			"_confidence":  e.Confidence,
		}
		if code, ok := typeCodes[e.SpecimenType]; ok {
			specimen["specimenTypeCode"] = code
		}
		act["specimen"] = specimen
		if decision == models.DecisionReview {
			markReview(act, fmt.Sprintf("specimen metadata (confidence %.2f)", e.Confidence))
		}
		counts[string(decision)]++
	}
	setObjects(doc, "activities", activities)

	return map[string]any{
		"specimenActivities": len(targets),
		"decisions":          counts,
	}, nil
}

// validEnrichment applies the pattern registry: known tube type (when
// given) and a plausible volume.
func validEnrichment(e specimenEnrichment) bool {
	if e.SpecimenType == "" {
		return false
	}
	if e.TubeType != "" && !knownTubeTypes[normalizeTerm(e.TubeType)] {
		return false
	}
	if e.VolumeML < 0 || e.VolumeML > maxSpecimenVolumeML {
		return false
	}
	return true
}

// resolveSpecimenTypes maps the distinct free-text specimen types onto the
// Specimen Type codelist, going through the multi-tier resolver so novel
// phrasings ("whole blood") still land on an entry.
func (p *Pipeline) resolveSpecimenTypes(ctx context.Context, enrichments []specimenEnrichment) map[string]map[string]any {
	seen := map[string]bool{}
	var types []string
	for _, e := range enrichments {
		if e.SpecimenType != "" && !seen[e.SpecimenType] {
			seen[e.SpecimenType] = true
			types = append(types, e.SpecimenType)
		}
	}
	if len(types) == 0 || p.resolver == nil {
		return nil
	}

	resolved, err := p.resolver.Resolve(ctx, "Specimen Type", types)
	if err != nil {
		return nil
	}
	out := make(map[string]map[string]any, len(resolved))
	for term, res := range resolved {
		if res.Code == "" || models.Decide(res.Confidence) == models.DecisionReject {
			continue
		}
		out[term] = map[string]any{
			"code":   res.Code,
			"decode": res.Decode,
		}
	}
	return out
}

func (p *Pipeline) enrichSpecimensBatched(ctx context.Context, targets []map[string]any) ([]specimenEnrichment, error) {
	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}

	var out []specimenEnrichment
	for start := 0; start < len(targets); start += batchSize {
		end := min(start+batchSize, len(targets))
		batch := targets[start:end]

		var sb strings.Builder
		sb.WriteString(`For each specimen-collection activity, infer the specimen metadata.

Specimen types: Blood, Urine, Serum, Plasma, Tissue, Saliva, Cerebrospinal Fluid.
Tube types: EDTA, K2EDTA, K3EDTA, SST, lithium heparin, sodium heparin, sodium citrate, fluoride oxalate, plain, PAXgene.

Activities:
`)
		for _, act := range batch {
			fmt.Fprintf(&sb, "- %s: %s (domain %s)\n",
				str(act, "id"), str(act, "name"), str(act, "cdashDomain"))
		}
		sb.WriteString(`
Respond with JSON only:
{"enrichments": [{"activityId": "...", "specimenType": "...", "tubeType": "...", "volumeMl": 0.0, "purpose": "...", "confidence": 0.0}]}
Omit activities you cannot infer metadata for.`)

		text, err := p.client.Generate(ctx, llm.Request{Prompt: sb.String(), JSONResponse: true})
		if err != nil {
			return nil, err
		}
		var parsed struct {
			Enrichments []specimenEnrichment `json:"enrichments"`
		}
		if err := llm.ParseInto(text, &parsed); err != nil {
			return nil, err
		}
		out = append(out, parsed.Enrichments...)
	}
	return out, nil
}
