package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/railtms/core/shared/railway"
)

// temporalConflicts implements 4.C.2: within a section, sort
// predictions by arrival; for each adjacent pair whose gap falls in
// (0, safety_buffer), emit a temporal_conflict.
func (d *Detector) temporalConflicts(bySection map[int][]railway.TrainPrediction) []railway.DetectedConflict {
	var out []railway.DetectedConflict

	for sectionID, preds := range bySection {
		ordered := append([]railway.TrainPrediction(nil), preds...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].ArrivalTime.Before(ordered[j].ArrivalTime)
		})

		for i := 0; i+1 < len(ordered); i++ {
			prev, next := ordered[i], ordered[i+1]
			gap := next.ArrivalTime.Sub(prev.ExitTime)
			if gap <= 0 || gap >= d.cfg.SafetyBuffer {
				continue
			}

			requiredDelay := d.cfg.SafetyBuffer - gap + 30*time.Second
			out = append(out, railway.DetectedConflict{
				ConflictType:        railway.TemporalConflict,
				TrainsInvolved:      trainsOf(prev, next),
				SectionsInvolved:    []int{sectionID},
				TimeToImpact:        time.Until(next.ArrivalTime).Minutes(),
				PredictedImpactTime: next.ArrivalTime,
				Description: fmt.Sprintf("train %d follows train %d into section %d with only %.1fs clearance",
					next.TrainID, prev.TrainID, sectionID, gap.Seconds()),
				ResolutionSuggestions: []string{
					fmt.Sprintf("delay train %d by %.1f minutes", next.TrainID, requiredDelay.Minutes()),
				},
				Metadata: map[string]interface{}{
					"gap_seconds":            gap.Seconds(),
					"required_delay_minutes": requiredDelay.Minutes(),
				},
			})
		}
	}
	return out
}
