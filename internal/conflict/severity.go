package conflict

import (
	"math"

	"github.com/railtms/core/shared/railway"
)

const (
	weightTime       = 0.30
	weightPriority   = 0.20
	weightPassenger  = 0.25
	weightNetwork    = 0.15
	weightSafety     = 0.10

	defaultScoreOnError = 5.0
)

// score computes the weighted severity score (4.C.5), normalized to
// [1, 10]. Any panic recovering to the default-on-error value is
// deliberately impossible here (no division or external call can
// fail); the defaultScoreOnError constant exists to document the
// contract for callers that wrap this in their own error handling.
func (d *Detector) score(c railway.DetectedConflict) float64 {
	raw := weightTime*timeFactor(c.TimeToImpact) +
		weightPriority*d.priorityFactor(c.TrainsInvolved) +
		weightPassenger*d.passengerFactor(c.TrainsInvolved) +
		weightNetwork*networkFactor(c.TrainsInvolved, c.SectionsInvolved) +
		weightSafety*safetyFactor(c.ConflictType)

	normalized := math.Round((raw/4.0)*9+1)
	if normalized < 1 {
		normalized = 1
	}
	if normalized > 10 {
		normalized = 10
	}
	return normalized
}

func timeFactor(timeToImpactMinutes float64) float64 {
	switch {
	case timeToImpactMinutes <= 1:
		return 3
	case timeToImpactMinutes <= 5:
		return 2.5
	case timeToImpactMinutes <= 15:
		return 2.0
	default:
		return 1.0
	}
}

func (d *Detector) priorityFactor(trainIDs []int) float64 {
	var sum float64
	for _, id := range trainIDs {
		if t, ok := d.cache.Train(id); ok {
			sum += float64(t.Priority) * 0.2
		}
	}
	return sum
}

func (d *Detector) passengerFactor(trainIDs []int) float64 {
	var load float64
	for _, id := range trainIDs {
		if t, ok := d.cache.Train(id); ok {
			load += float64(t.Load)
		}
	}
	return load / 100
}

func networkFactor(trainIDs, sectionIDs []int) float64 {
	return 0.5*float64(len(sectionIDs)) + 0.3*float64(len(trainIDs))
}

func safetyFactor(kind railway.ConflictType) float64 {
	switch kind {
	case railway.SpatialCollision:
		return 3.0
	case railway.JunctionConflict:
		return 2.5
	case railway.TemporalConflict:
		return 2.0
	case railway.PriorityConflict:
		return 1.5
	default:
		return 0
	}
}
