// Package railway defines the domain types shared across the topology
// cache, prediction engine, conflict detector, scheduler, and fan-out
// hub: trains, sections, position samples, schedules, predictions, and
// detected/persisted conflicts.
package railway

import (
	"time"

	"github.com/google/uuid"
)

// TrainKind is a closed set of train classes.
type TrainKind string

const (
	TrainExpress     TrainKind = "express"
	TrainLocal       TrainKind = "local"
	TrainFreight     TrainKind = "freight"
	TrainMaintenance TrainKind = "maintenance"
)

// TrainStatus is a train's operational status. Only TrainActive trains
// enter prediction.
type TrainStatus string

const (
	TrainActive        TrainStatus = "active"
	TrainInMaintenance TrainStatus = "maintenance"
	TrainOutOfService  TrainStatus = "out_of_service"
	TrainEmergency     TrainStatus = "emergency"
)

// SectionKind is a closed set of track element kinds.
type SectionKind string

const (
	SectionTrack     SectionKind = "track"
	SectionStation   SectionKind = "station"
	SectionJunction  SectionKind = "junction"
	SectionYard      SectionKind = "yard"
)

// ConflictType is a closed set of detectable conflict classes.
type ConflictType string

const (
	SpatialCollision ConflictType = "spatial_collision"
	TemporalConflict ConflictType = "temporal_conflict"
	PriorityConflict ConflictType = "priority_conflict"
	JunctionConflict ConflictType = "junction_conflict"
)

// SeverityBucket buckets a numeric 1..10 severity score.
type SeverityBucket string

const (
	SeverityLow      SeverityBucket = "low"
	SeverityMedium   SeverityBucket = "medium"
	SeverityHigh     SeverityBucket = "high"
	SeverityCritical SeverityBucket = "critical"
)

// BucketForScore maps a severity score to its bucket per the glossary:
// low < 4, medium < 6, high < 8, critical >= 8.
func BucketForScore(score float64) SeverityBucket {
	switch {
	case score < 4:
		return SeverityLow
	case score < 6:
		return SeverityMedium
	case score < 8:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// SubscriptionScope is a closed set of hub subscription kinds.
type SubscriptionScope string

const (
	ScopeTrain       SubscriptionScope = "train"
	ScopeSection     SubscriptionScope = "section"
	ScopeAll         SubscriptionScope = "all"
	ScopeAI          SubscriptionScope = "ai"
	ScopeAITraining  SubscriptionScope = "ai_training"
)

// Train is an entity referenced by stable integer ID, never by pointer.
type Train struct {
	ID         int
	Number     string
	Kind       TrainKind
	Priority   int // 1..10, higher is more important
	MaxSpeed   float64
	Length     float64
	Weight     float64
	CurrentSec *int // nullable current section ID
	Speed      float64
	Load       int
	Status     TrainStatus
}

// IsActive reports whether the train participates in prediction.
func (t Train) IsActive() bool { return t.Status == TrainActive }

// Section is a track element referenced by stable integer ID.
type Section struct {
	ID        int
	Code      string
	Kind      SectionKind
	Length    float64 // meters
	MaxSpeed  float64 // km/h
	Capacity  int     // max concurrent trains
	Neighbors []int
	Active    bool
}

// Position is an append-only sample of where a train was, at a point
// in time. The core only ever reads the latest sample per train.
type Position struct {
	TrainID          int
	Timestamp        time.Time
	SectionID        int
	Speed            float64
	DistanceFromStart *float64
	Lat              *float64
	Lon              *float64
	Alt              *float64
}

// TrainSchedule is the ordered list of sections a train will traverse.
type TrainSchedule struct {
	TrainID      int
	RouteSections []int
}

// TrainPrediction is an ephemeral, per-cycle occupancy prediction.
// Invariant: ArrivalTime <= ExitTime.
type TrainPrediction struct {
	TrainID     int
	SectionID   int
	ArrivalTime time.Time
	ExitTime    time.Time
	Speed       float64
	Confidence  float64 // in [0,1]
}

// DetectedConflict is an ephemeral, per-cycle conflict record, later
// persisted via the storage port.
type DetectedConflict struct {
	ConflictType          ConflictType
	SeverityScore         float64 // in [1,10]
	TrainsInvolved        []int
	SectionsInvolved      []int
	TimeToImpact          float64 // minutes from now; may be negative
	PredictedImpactTime   time.Time
	Description           string
	ResolutionSuggestions []string
	Metadata              map[string]interface{}
}

// Key returns the deduplication/upsert key: sorted trains, sorted
// sections, and conflict type.
func (c DetectedConflict) Key() ConflictKey {
	return NewConflictKey(c.TrainsInvolved, c.SectionsInvolved, c.ConflictType)
}

// ConflictKey is the dedup/upsert identity of a conflict: the sorted
// set of trains and sections involved, plus its type.
type ConflictKey struct {
	Trains  string
	Sections string
	Type    ConflictType
}

// NewConflictKey builds a stable key from (possibly unsorted) train and
// section ID slices.
func NewConflictKey(trains, sections []int, kind ConflictType) ConflictKey {
	return ConflictKey{
		Trains:   joinSortedInts(trains),
		Sections: joinSortedInts(sections),
		Type:     kind,
	}
}

// PersistedConflict is the storage view of an unresolved conflict.
type PersistedConflict struct {
	ID              int64
	ConflictType    ConflictType
	Severity        SeverityBucket
	SeverityScore   float64
	TrainsInvolved  []int
	SectionsInvolved []int
	Description     string
	DetectionTime   time.Time
	UpdatedAt       time.Time
	ResolutionTime  *time.Time
	AutoResolved    bool
}

// ConnectionID identifies a client session at the fan-out hub.
type ConnectionID string

// NewConnectionID mints a fresh opaque connection identifier.
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}

// Envelope is the wire format every hub message is sent as.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}
