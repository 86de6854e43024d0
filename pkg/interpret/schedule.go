package interpret

import (
	"context"
)

// runSchedule is stage 11: apply confirmed human decisions, then assemble
// the final schedule structure from the accumulated sections.
//
// Decisions arrive on the document under "confirmedDecisions" (written from
// the merge-confirmation payload): {"targetId": ..., "action": "accept" |
// "reject", "overrides": {...}}. Accept clears the review flag; reject
// removes the item; overrides replace fields in place. Items still flagged
// after application remain visible in the review package but do not block
// the schedule.
func (p *Pipeline) runSchedule(ctx context.Context, doc map[string]any) (map[string]any, error) {
	decisions := objects(doc, "confirmedDecisions")
	accepted, rejected := applyDecisions(doc, decisions)

	visits := objects(doc, "visits")
	activities := objects(doc, "activities")
	instances := objects(doc, "instances")

	encounters := make([]any, 0, len(visits))
	for _, v := range visits {
		encounters = append(encounters, map[string]any{
			"id":           str(v, "id"),
			"instanceType": "Encounter",
			"name":         str(v, "name"),
			"timing":       str(v, "timing"),
			"window":       str(v, "window"),
			"setting":      str(v, "setting"),
		})
	}

	scheduled := make([]any, 0, len(instances))
	for _, inst := range instances {
		entry := map[string]any{
			"id":           str(inst, "id"),
			"instanceType": "ScheduledActivityInstance",
			"encounterId":  str(inst, "visitId"),
			"activityId":   str(inst, "activityId"),
		}
		if timing := str(inst, "timing"); timing != "" {
			entry["timing"] = timing
		}
		if markers := strList(inst, "footnoteMarkers"); len(markers) > 0 {
			entry["footnoteMarkers"] = markers
		}
		if sidecar, ok := inst["_timingExpansion"]; ok {
			entry["_timingExpansion"] = sidecar
		}
		if sidecar, ok := inst["_cycleExpansion"]; ok {
			entry["_cycleExpansion"] = sidecar
		}
		scheduled = append(scheduled, entry)
	}

	doc["schedule"] = map[string]any{
		"instanceType":               "ScheduleTimeline",
		"encounters":                 encounters,
		"scheduledActivityInstances": scheduled,
		"conditions":                 doc["conditions"],
		"conditionAssignments":       doc["conditionAssignments"],
		"activityCount":              len(activities),
	}

	return map[string]any{
		"encounters":         len(encounters),
		"scheduledInstances": len(scheduled),
		"decisionsAccepted":  accepted,
		"decisionsRejected":  rejected,
	}, nil
}

// applyDecisions mutates the document per the confirmed decisions and
// returns (accepted, rejected) counts.
func applyDecisions(doc map[string]any, decisions []map[string]any) (int, int) {
	if len(decisions) == 0 {
		return 0, 0
	}
	byTarget := make(map[string]map[string]any, len(decisions))
	for _, d := range decisions {
		byTarget[str(d, "targetId")] = d
	}

	accepted, rejected := 0, 0
	for _, key := range []string{"visits", "activities", "instances"} {
		items := objects(doc, key)
		var kept []map[string]any
		for _, obj := range items {
			d, ok := byTarget[str(obj, "id")]
			if !ok {
				kept = append(kept, obj)
				continue
			}
			switch str(d, "action") {
			case "reject":
				rejected++
				continue
			case "accept":
				accepted++
				delete(obj, "_review")
				delete(obj, "_reviewReason")
				if overrides, ok := d["overrides"].(map[string]any); ok {
					for k, v := range overrides {
						obj[k] = v
					}
				}
			}
			kept = append(kept, obj)
		}
		setObjects(doc, key, kept)
	}
	return accepted, rejected
}
