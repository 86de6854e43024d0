// Package combiner assembles completed module results into the unified
// protocol document: slot placement, source and extraction metadata, global
// page-offset detection, document-wide provenance correction, and the
// provenance summary index.
package combiner

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/provenance"
)

// Input is everything the combiner needs for one run.
type Input struct {
	Protocol *models.Protocol
	Info     *document.Info
	Modules  []config.ModuleSpec
	Results  []*models.ModuleResult
	ModelID  string

	// AgentCatalog enables the integration-graph block.
	AgentCatalog bool
}

// Combine produces the unified document. Failed modules leave their slot
// absent; their failure is visible in the extraction metadata block.
func Combine(in Input) (map[string]any, error) {
	unified := map[string]any{}

	byModule := make(map[string]*models.ModuleResult, len(in.Results))
	for _, r := range in.Results {
		byModule[r.ModuleID] = r
	}

	moduleMeta := map[string]any{}
	var scoreSum float64
	scored := 0
	for _, spec := range in.Modules {
		r, ok := byModule[spec.ID]
		meta := map[string]any{"success": false}
		if ok && r.Status == models.ModuleCompleted {
			var payload map[string]any
			if err := json.Unmarshal(r.Data, &payload); err != nil {
				return nil, fmt.Errorf("module %s payload does not decode: %w", spec.ID, err)
			}
			delete(payload, "_metadata")
			unified[spec.Slot] = payload

			meta["success"] = true
			meta["qualityScore"] = r.Quality.Overall()
			meta["provenanceCoverage"] = r.ProvenanceCoverage
			meta["fromCache"] = r.FromCache
			scoreSum += r.Quality.Overall()
			scored++
		} else if ok {
			meta["error"] = r.ErrorDetails
		}
		moduleMeta[spec.ID] = meta
	}

	// Document-wide provenance correction before the summary is built, so
	// the summary indexes physical pages.
	correction := provenance.CorrectPages(unified, in.Info)

	avg := 0.0
	if scored > 0 {
		avg = scoreSum / float64(scored)
	}

	unified["sourceDocument"] = map[string]any{
		"filename":   in.Protocol.Filename,
		"sha256":     in.Protocol.ContentHash,
		"sizeBytes":  in.Protocol.SizeBytes,
		"pageCount":  in.Protocol.PageCount,
		"pageOffset": correction.PageOffset,
	}
	unified["extractionMetadata"] = map[string]any{
		"extractedAt":         time.Now().UTC().Format(time.RFC3339),
		"modelId":             in.ModelID,
		"modules":             moduleMeta,
		"averageQualityScore": avg,
		"provenanceCorrection": map[string]any{
			"checked":   correction.Checked,
			"corrected": correction.Corrected,
			"notFound":  correction.NotFound,
		},
	}
	unified["provenanceSummary"] = buildProvenanceSummary(unified, in.Modules)

	if in.AgentCatalog {
		unified["agentCatalog"] = buildAgentCatalog(in.Modules, moduleMeta)
	}
	return unified, nil
}

// buildProvenanceSummary walks every slot and inverts explicit citations
// into a page → sections index.
func buildProvenanceSummary(unified map[string]any, modules []config.ModuleSpec) map[string]any {
	pages := map[int]map[string]bool{}
	for _, spec := range modules {
		payload, ok := unified[spec.Slot].(map[string]any)
		if !ok {
			continue
		}
		collectPages(payload, spec.Slot, pages)
	}

	pageList := make([]int, 0, len(pages))
	for p := range pages {
		pageList = append(pageList, p)
	}
	sort.Ints(pageList)

	index := map[string][]string{}
	for _, p := range pageList {
		sections := make([]string, 0, len(pages[p]))
		for s := range pages[p] {
			sections = append(sections, s)
		}
		sort.Strings(sections)
		index[fmt.Sprintf("%d", p)] = sections
	}
	return map[string]any{
		"totalPagesReferenced": len(pageList),
		"pageSections":         index,
	}
}

func collectPages(v any, slot string, pages map[int]map[string]bool) {
	switch node := v.(type) {
	case map[string]any:
		if n, ok := node["pageNumber"].(float64); ok && n >= models.PageMin {
			if _, ok := node["textSnippet"].(string); ok {
				p := int(n)
				if pages[p] == nil {
					pages[p] = map[string]bool{}
				}
				pages[p][slot] = true
			}
		}
		if n, ok := node["pageNumber"].(int); ok && n >= models.PageMin {
			if _, ok := node["textSnippet"].(string); ok {
				if pages[n] == nil {
					pages[n] = map[string]bool{}
				}
				pages[n][slot] = true
			}
		}
		for _, child := range node {
			collectPages(child, slot, pages)
		}
	case []any:
		for _, item := range node {
			collectPages(item, slot, pages)
		}
	}
}

// moduleEdges declares the integration graph between module slots.
type moduleEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"` // depends_on | enriches | cross_references
}

// knownEdges is the static integration graph of the standard module set.
// Modules absent from a run simply contribute no edges.
var knownEdges = []moduleEdge{
	{From: "studyDesign", To: "titlePage", Kind: "depends_on"},
	{From: "armsInterventions", To: "studyDesign", Kind: "depends_on"},
	{From: "objectivesEndpoints", To: "studyDesign", Kind: "cross_references"},
	{From: "eligibilityCriteria", To: "studyDesign", Kind: "cross_references"},
	{From: "scheduleOfActivities", To: "armsInterventions", Kind: "enriches"},
	{From: "scheduleOfActivities", To: "objectivesEndpoints", Kind: "cross_references"},
	{From: "adverseEvents", To: "armsInterventions", Kind: "cross_references"},
	{From: "statisticalConsiderations", To: "objectivesEndpoints", Kind: "depends_on"},
}

func buildAgentCatalog(modules []config.ModuleSpec, moduleMeta map[string]any) map[string]any {
	slots := map[string]bool{}
	catalog := make([]map[string]any, 0, len(modules))
	for _, spec := range modules {
		slots[spec.Slot] = true
		catalog = append(catalog, map[string]any{
			"moduleId":     spec.ID,
			"slot":         spec.Slot,
			"title":        spec.Title,
			"instanceType": spec.InstanceType,
		})
	}

	edges := make([]moduleEdge, 0, len(knownEdges))
	for _, e := range knownEdges {
		if slots[e.From] && slots[e.To] {
			edges = append(edges, e)
		}
	}
	return map[string]any{
		"modules": catalog,
		"edges":   edges,
	}
}
