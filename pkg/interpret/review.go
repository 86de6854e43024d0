package interpret

import (
	"context"
)

// runReviewAssembly is stage 10: sweep every section for items earlier
// stages flagged and assemble the single review package presented to a
// human.
func (p *Pipeline) runReviewAssembly(ctx context.Context, doc map[string]any) (map[string]any, error) {
	var items []any
	collect := func(kind string, objs []map[string]any) {
		for _, obj := range objs {
			if !isMarkedReview(obj) {
				continue
			}
			items = append(items, map[string]any{
				"targetId": str(obj, "id"),
				"kind":     kind,
				"reason":   str(obj, "_reviewReason"),
			})
		}
	}

	collect("visit", objects(doc, "visits"))
	collect("instance", objects(doc, "instances"))
	activities := objects(doc, "activities")
	collect("activity", activities)
	for _, act := range activities {
		collect("component", objects(act, "components"))
	}
	collect("alternative", objects(doc, "alternatives"))

	doc["reviewPackage"] = map[string]any{
		"items": items,
		"count": len(items),
	}
	return map[string]any{"reviewItems": len(items)}, nil
}
