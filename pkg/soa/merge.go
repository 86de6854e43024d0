package soa

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// The merge analyzer decides which extracted tables describe the same
// underlying schedule. It works through eight decision levels, from the
// strongest structural evidence down to the give-up case; the first level
// that applies to a pair wins and is recorded on the group.
//
//	1. sole table in its category
//	2. page-contiguous continuation with identical visit headers
//	3. identical visit sets
//	4. one visit set contains the other (supplement)
//	5. strong visit overlap (Jaccard >= 0.5)
//	6. disjoint visits but identical activity rows (split by period)
//	7. satellite category (PK/SAFETY/PD) sharing any visit with MAIN
//	8. no structural relationship
//
// The analyzer is pure; confidence reflects how far down the ladder the
// decision fell.

var levelConfidence = map[int]float64{
	1: 1.0,
	2: 0.95,
	3: 0.90,
	4: 0.85,
	5: 0.75,
	6: 0.70,
	7: 0.65,
	8: 1.0, // "leave separate" is a certain decision
}

// tableFacts is the structural digest of one extracted table.
type tableFacts struct {
	result     *models.TableResult
	visitIDs   map[string]bool
	visitNames map[string]bool
	activities map[string]bool
}

// AnalyzeMerges builds the merge plan over a job's extracted tables.
// Tables that failed extraction are excluded.
func AnalyzeMerges(jobID string, tables []*models.TableResult) (*models.MergePlan, error) {
	var facts []*tableFacts
	for _, r := range tables {
		if r.Status != models.ModuleCompleted {
			continue
		}
		f, err := digestTable(r)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}

	plan := &models.MergePlan{JobID: jobID, CreatedAt: time.Now().UTC()}
	assigned := make(map[string]bool, len(facts))

	for i, a := range facts {
		if assigned[a.result.TableID] {
			continue
		}
		group := models.MergeGroup{
			GroupID:  fmt.Sprintf("MG-%d", len(plan.Groups)+1),
			TableIDs: []string{a.result.TableID},
			Category: a.result.Category,
		}
		assigned[a.result.TableID] = true

		bestLevel := 8
		reasoning := "no structural relationship to any other table"
		mergeType := models.MergeNone

		for _, b := range facts[i+1:] {
			if assigned[b.result.TableID] {
				continue
			}
			level, mt, why := relate(a, b)
			if level >= 8 {
				continue
			}
			group.TableIDs = append(group.TableIDs, b.result.TableID)
			assigned[b.result.TableID] = true
			if level < bestLevel {
				bestLevel = level
				mergeType = mt
				reasoning = why
			}
		}

		if len(group.TableIDs) == 1 {
			if soleInCategory(a, facts) {
				bestLevel = 1
				reasoning = fmt.Sprintf("only %s table in the document", a.result.Category)
			}
			mergeType = models.MergeNone
		}

		group.MergeType = mergeType
		group.DecisionLevel = bestLevel
		group.Confidence = levelConfidence[bestLevel]
		group.Reasoning = reasoning
		plan.Groups = append(plan.Groups, group)
	}
	return plan, nil
}

// relate applies decision levels 2-7 to a pair and returns the first that
// matches, or level 8.
func relate(a, b *tableFacts) (int, models.MergeType, string) {
	sameCategory := a.result.Category == b.result.Category

	if sameCategory && contiguous(a.result, b.result) && setsEqual(a.visitNames, b.visitNames) {
		return 2, models.MergeContinuation,
			fmt.Sprintf("%s continues %s across adjacent pages with identical visit headers",
				b.result.TableID, a.result.TableID)
	}
	if sameCategory && setsEqual(a.visitIDs, b.visitIDs) {
		return 3, models.MergeUnion, "identical visit sets"
	}
	if sameCategory && (isSubset(a.visitIDs, b.visitIDs) || isSubset(b.visitIDs, a.visitIDs)) {
		return 4, models.MergeSupplement, "one table's visits contain the other's"
	}
	if sameCategory && jaccard(a.visitIDs, b.visitIDs) >= 0.5 {
		return 5, models.MergeUnion,
			fmt.Sprintf("strong visit overlap (jaccard %.2f)", jaccard(a.visitIDs, b.visitIDs))
	}
	if sameCategory && !intersects(a.visitIDs, b.visitIDs) && setsEqual(a.activities, b.activities) {
		return 6, models.MergeUnion, "same activity rows split across disjoint study periods"
	}
	if !sameCategory && satelliteOfMain(a, b) && intersects(a.visitIDs, b.visitIDs) {
		return 7, models.MergeSupplement, "satellite schedule shares visits with the main schedule"
	}
	return 8, models.MergeNone, ""
}

func digestTable(r *models.TableResult) (*tableFacts, error) {
	payload, err := tablePayload(r)
	if err != nil {
		return nil, err
	}
	f := &tableFacts{
		result:     r,
		visitIDs:   map[string]bool{},
		visitNames: map[string]bool{},
		activities: map[string]bool{},
	}
	if visits, ok := payload["visits"].([]any); ok {
		for _, v := range visits {
			obj, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := obj["id"].(string); ok && id != "" {
				f.visitIDs[id] = true
			}
			if name, ok := obj["name"].(string); ok && name != "" {
				f.visitNames[normalizeLabel(name)] = true
			}
		}
	}
	if activities, ok := payload["activities"].([]any); ok {
		for _, v := range activities {
			obj, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if name, ok := obj["name"].(string); ok && name != "" {
				f.activities[normalizeLabel(name)] = true
			}
		}
	}
	return f, nil
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func contiguous(a, b *models.TableResult) bool {
	return b.PageStart == a.PageEnd || b.PageStart == a.PageEnd+1 ||
		a.PageStart == b.PageEnd || a.PageStart == b.PageEnd+1
}

func soleInCategory(a *tableFacts, all []*tableFacts) bool {
	for _, other := range all {
		if other != a && other.result.Category == a.result.Category {
			return false
		}
	}
	return true
}

func satelliteOfMain(a, b *tableFacts) bool {
	isMain := func(f *tableFacts) bool { return f.result.Category == models.TableMainSOA }
	return isMain(a) != isMain(b)
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func isSubset(a, b map[string]bool) bool {
	if len(a) == 0 || len(a) > len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func intersects(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// MergeGroupDocument unions the payloads of a confirmed group into the
// single document the interpretation pipeline consumes. Entities are
// deduplicated by id (visits, activities, instances) or marker (footnotes),
// first occurrence wins, ordered by table id then original position.
func MergeGroupDocument(group models.MergeGroup, tables []*models.TableResult) (map[string]any, error) {
	byID := make(map[string]*models.TableResult, len(tables))
	for _, r := range tables {
		byID[r.TableID] = r
	}

	ordered := append([]string(nil), group.TableIDs...)
	sort.Strings(ordered)

	doc := map[string]any{
		"groupId":  group.GroupID,
		"category": string(group.Category),
		"tableIds": ordered,
	}
	appendUnique := func(key, idKey string, items []any, seen map[string]bool) {
		existing, _ := doc[key].([]any)
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, _ := obj[idKey].(string)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			existing = append(existing, obj)
		}
		doc[key] = existing
	}

	seenVisits := map[string]bool{}
	seenActivities := map[string]bool{}
	seenInstances := map[string]bool{}
	seenFootnotes := map[string]bool{}
	for _, tableID := range ordered {
		r, ok := byID[tableID]
		if !ok {
			return nil, fmt.Errorf("merge group %s references unknown table %s", group.GroupID, tableID)
		}
		payload, err := tablePayload(r)
		if err != nil {
			return nil, err
		}
		visits, _ := payload["visits"].([]any)
		activities, _ := payload["activities"].([]any)
		instances, _ := payload["instances"].([]any)
		footnotes, _ := payload["footnotes"].([]any)
		appendUnique("visits", "id", visits, seenVisits)
		appendUnique("activities", "id", activities, seenActivities)
		appendUnique("instances", "id", instances, seenInstances)
		appendUnique("footnotes", "marker", footnotes, seenFootnotes)
	}
	return doc, nil
}
