package conflict

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/railtms/core/shared/railway"
)

// eventKind is an arrive/depart marker in the sweep-line.
type eventKind int

const (
	eventArrive eventKind = iota
	eventDepart
)

type event struct {
	at   time.Time
	kind eventKind
	pred railway.TrainPrediction
}

// eventHeap is a min-heap on event time; on a tie, departures are
// processed before arrivals so a train leaving a section frees its
// slot before the next train's arrival is considered.
type eventHeap []event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].kind == eventDepart && h[j].kind == eventArrive
	}
	return h[i].at.Before(h[j].at)
}
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}

// spatialCollisions runs the sweep-line equivalent of the pairwise
// overlap check (4.C.1): for every section whose capacity is 1, track
// the active set of predictions occupying it; whenever an arrival
// pushes the active set above capacity, every member present at that
// instant is party to one spatial_collision.
func (d *Detector) spatialCollisions(bySection map[int][]railway.TrainPrediction) []railway.DetectedConflict {
	var out []railway.DetectedConflict

	for sectionID, preds := range bySection {
		sec, ok := d.cache.Section(sectionID)
		if !ok || sec.Capacity != 1 {
			continue
		}

		h := &eventHeap{}
		for _, p := range preds {
			heap.Push(h, event{at: p.ArrivalTime, kind: eventArrive, pred: p})
			heap.Push(h, event{at: p.ExitTime, kind: eventDepart, pred: p})
		}

		active := make(map[int]railway.TrainPrediction) // keyed by train ID
		seen := make(map[string]bool)
		for h.Len() > 0 {
			ev := heap.Pop(h).(event)
			switch ev.kind {
			case eventDepart:
				delete(active, ev.pred.TrainID)
			case eventArrive:
				active[ev.pred.TrainID] = ev.pred
				if len(active) > sec.Capacity {
					members := make([]railway.TrainPrediction, 0, len(active))
					for _, m := range active {
						members = append(members, m)
					}
					key := collisionKey(members)
					if seen[key] {
						continue
					}
					seen[key] = true
					out = append(out, newCollision(sectionID, members))
				}
			}
		}
	}
	return out
}

func collisionKey(members []railway.TrainPrediction) string {
	key := ""
	for _, m := range members {
		key += fmt.Sprintf("%d,", m.TrainID)
	}
	return key
}

func newCollision(sectionID int, members []railway.TrainPrediction) railway.DetectedConflict {
	earliest := members[0]
	for _, m := range members[1:] {
		if m.ArrivalTime.Before(earliest.ArrivalTime) {
			earliest = m
		}
	}
	return railway.DetectedConflict{
		ConflictType:     railway.SpatialCollision,
		TrainsInvolved:   trainsOf(members...),
		SectionsInvolved: []int{sectionID},
		TimeToImpact:     time.Until(earliest.ArrivalTime).Minutes(),
		PredictedImpactTime: earliest.ArrivalTime,
		Description:      fmt.Sprintf("%d trains occupy single-capacity section %d concurrently", len(members), sectionID),
		ResolutionSuggestions: []string{
			"reduce speed of the earlier train",
			"delay the later train by 3-5 minutes",
			"reroute via an alternate section",
		},
	}
}
