package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/railtms/core/shared/railway"
)

// junctionConflicts implements 4.C.4: for sections whose kind is
// junction, sort predictions by arrival; for each prediction, collect
// every later prediction whose window overlaps it. If the group's
// cardinality exceeds the junction's capacity, emit one
// junction_conflict naming every train in the group.
func (d *Detector) junctionConflicts(bySection map[int][]railway.TrainPrediction) []railway.DetectedConflict {
	var out []railway.DetectedConflict

	for sectionID, preds := range bySection {
		sec, ok := d.cache.Section(sectionID)
		if !ok || sec.Kind != railway.SectionJunction {
			continue
		}

		ordered := append([]railway.TrainPrediction(nil), preds...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].ArrivalTime.Before(ordered[j].ArrivalTime)
		})

		seen := make(map[string]bool)
		for i, p := range ordered {
			group := []railway.TrainPrediction{p}
			for j := i + 1; j < len(ordered); j++ {
				if overlaps(p, ordered[j]) {
					group = append(group, ordered[j])
				}
			}
			if len(group) <= sec.Capacity {
				continue
			}
			key := collisionKey(group)
			if seen[key] {
				continue
			}
			seen[key] = true

			out = append(out, railway.DetectedConflict{
				ConflictType:        railway.JunctionConflict,
				TrainsInvolved:      trainsOf(group...),
				SectionsInvolved:    []int{sectionID},
				TimeToImpact:        time.Until(p.ArrivalTime).Minutes(),
				PredictedImpactTime: p.ArrivalTime,
				Description: fmt.Sprintf("%d trains overlap at junction %d (capacity %d)",
					len(group), sectionID, sec.Capacity),
				ResolutionSuggestions: []string{
					"sequence junction entry by priority",
					"hold lowest-priority train at the approach signal",
				},
				Metadata: map[string]interface{}{
					"overflow": len(group) - sec.Capacity,
					"capacity": sec.Capacity,
				},
			})
		}
	}
	return out
}
