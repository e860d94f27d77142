package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/railtms/core/shared/railway"
)

// priorityConflicts implements 4.C.3: within a section, sort
// predictions by arrival; for each adjacent pair where the earlier
// train is freight and the later is an express train with strictly
// higher priority, emit a priority_conflict.
func (d *Detector) priorityConflicts(bySection map[int][]railway.TrainPrediction) []railway.DetectedConflict {
	var out []railway.DetectedConflict

	for sectionID, preds := range bySection {
		ordered := append([]railway.TrainPrediction(nil), preds...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].ArrivalTime.Before(ordered[j].ArrivalTime)
		})

		for i := 0; i+1 < len(ordered); i++ {
			prev, next := ordered[i], ordered[i+1]
			prevTrain, ok := d.cache.Train(prev.TrainID)
			if !ok || prevTrain.Kind != railway.TrainFreight {
				continue
			}
			nextTrain, ok := d.cache.Train(next.TrainID)
			if !ok || nextTrain.Kind != railway.TrainExpress {
				continue
			}
			if nextTrain.Priority <= prevTrain.Priority {
				continue
			}

			out = append(out, railway.DetectedConflict{
				ConflictType:        railway.PriorityConflict,
				TrainsInvolved:      trainsOf(prev, next),
				SectionsInvolved:    []int{sectionID},
				TimeToImpact:        time.Until(next.ArrivalTime).Minutes(),
				PredictedImpactTime: next.ArrivalTime,
				Description: fmt.Sprintf("freight train %d (priority %d) blocks express train %d (priority %d) in section %d",
					prev.TrainID, prevTrain.Priority, next.TrainID, nextTrain.Priority, sectionID),
				ResolutionSuggestions: []string{
					fmt.Sprintf("hold freight train %d at the prior section", prev.TrainID),
					fmt.Sprintf("reroute express train %d via an alternate section", next.TrainID),
				},
				Metadata: map[string]interface{}{
					"freight_priority":     prevTrain.Priority,
					"express_priority":     nextTrain.Priority,
					"speed_differential":   nextTrain.MaxSpeed - prevTrain.MaxSpeed,
				},
			})
		}
	}
	return out
}
