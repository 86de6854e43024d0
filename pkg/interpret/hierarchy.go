package interpret

import (
	"context"
	"strings"
)

// runHierarchy is stage 3: derive parent/child edges between activities.
// Two deterministic sources: components created by stage 2, and name
// prefixes within the same domain ("Hematology" is the parent of
// "Hematology with differential").
func (p *Pipeline) runHierarchy(ctx context.Context, doc map[string]any) (map[string]any, error) {
	activities := objects(doc, "activities")

	type edge struct {
		parent string
		child  string
		domain string
		kind   string
	}
	var edges []edge

	for _, act := range activities {
		actID := str(act, "id")
		domain := str(act, "cdashDomain")
		for _, comp := range objects(act, "components") {
			edges = append(edges, edge{
				parent: actID, child: str(comp, "id"),
				domain: domain, kind: "component",
			})
		}
	}

	byDomain := map[string][]map[string]any{}
	for _, act := range activities {
		domain := str(act, "cdashDomain")
		if domain != "" {
			byDomain[domain] = append(byDomain[domain], act)
		}
	}
	for domain, group := range byDomain {
		for i, parent := range group {
			parentName := normalizeTerm(str(parent, "name"))
			if parentName == "" {
				continue
			}
			for j, child := range group {
				if i == j {
					continue
				}
				childName := normalizeTerm(str(child, "name"))
				if childName != parentName && strings.HasPrefix(childName, parentName+" ") {
					edges = append(edges, edge{
						parent: str(parent, "id"), child: str(child, "id"),
						domain: domain, kind: "refinement",
					})
				}
			}
		}
	}

	out := make([]any, 0, len(edges))
	for _, e := range edges {
		out = append(out, map[string]any{
			"parentId": e.parent,
			"childId":  e.child,
			"domain":   e.domain,
			"kind":     e.kind,
		})
	}
	doc["activityHierarchy"] = out

	return map[string]any{"edges": len(edges)}, nil
}
