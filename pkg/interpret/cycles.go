package interpret

import (
	"context"
	"fmt"
)

// Recurrence types on a visit's "recurrence" sub-object.
const (
	recurPerCycle      = "PER_CYCLE"
	recurFixedInterval = "FIXED_INTERVAL"
	recurAtEvent       = "AT_EVENT"
)

// runCycles is stage 8: materialize recurring encounters into one explicit
// encounter per cycle, duplicating every instance that references them.
// Event-driven recurrence cannot be expanded mechanically and is flagged
// for review instead.
func (p *Pipeline) runCycles(ctx context.Context, doc map[string]any) (map[string]any, error) {
	visits := objects(doc, "visits")
	instances := objects(doc, "instances")

	maxCycles := p.cfg.MaxCyclesExpansion
	if maxCycles <= 0 {
		maxCycles = 12
	}

	var outVisits []map[string]any
	expandedCycles := map[string]int{} // original visit id -> cycle count
	flagged := 0
	for _, visit := range visits {
		rec, ok := visit["recurrence"].(map[string]any)
		if !ok {
			outVisits = append(outVisits, visit)
			continue
		}
		recType := str(rec, "type")
		switch recType {
		case recurPerCycle, recurFixedInterval:
			cycles := cycleCount(rec)
			if cycles < 1 {
				outVisits = append(outVisits, visit)
				continue
			}
			if cycles > maxCycles {
				cycles = maxCycles
			}
			origID := str(visit, "id")
			expandedCycles[origID] = cycles
			for c := 1; c <= cycles; c++ {
				dup := cloneObject(visit)
				dup["id"] = fmt.Sprintf("%s-cycle-%d", origID, c)
				dup["name"] = fmt.Sprintf("%s (Cycle %d)", str(visit, "name"), c)
				dup["cycle"] = c
				delete(dup, "recurrence")
				dup["_cycleExpansion"] = map[string]any{
					"originalId":     origID,
					"cycle":          c,
					"totalCycles":    cycles,
					"recurrenceType": recType,
				}
				outVisits = append(outVisits, dup)
			}
		case recurAtEvent:
			markReview(visit, "event-driven recurrence requires manual scheduling")
			flagged++
			outVisits = append(outVisits, visit)
		default:
			outVisits = append(outVisits, visit)
		}
	}

	var outInstances []map[string]any
	for _, inst := range instances {
		visitID := str(inst, "visitId")
		cycles, ok := expandedCycles[visitID]
		if !ok {
			outInstances = append(outInstances, inst)
			continue
		}
		origID := str(inst, "id")
		for c := 1; c <= cycles; c++ {
			dup := cloneObject(inst)
			dup["id"] = fmt.Sprintf("%s-cycle-%d", origID, c)
			dup["visitId"] = fmt.Sprintf("%s-cycle-%d", visitID, c)
			dup["_cycleExpansion"] = map[string]any{
				"originalId": origID,
				"cycle":      c,
			}
			outInstances = append(outInstances, dup)
		}
	}

	setObjects(doc, "visits", outVisits)
	setObjects(doc, "instances", outInstances)

	return map[string]any{
		"expandedVisits": len(expandedCycles),
		"flaggedAtEvent": flagged,
		"totalVisits":    len(outVisits),
	}, nil
}

// cycleCount reads the declared cycle count, accepting either maxCycles or
// maxOccurrences.
func cycleCount(rec map[string]any) int {
	if n, ok := num(rec, "maxCycles"); ok {
		return int(n)
	}
	if n, ok := num(rec, "maxOccurrences"); ok {
		return int(n)
	}
	return 0
}
