// Package solver defines the external AI solver port: an opaque
// request/reply collaborator that takes a conflict description and
// returns ranked resolution suggestions. Its internals are never
// inspected here.
package solver

import (
	"context"

	"github.com/railtms/core/shared/railway"
)

// Request describes one conflict for the solver to rank suggestions
// for.
type Request struct {
	ConflictType     railway.ConflictType `json:"conflict_type"`
	TrainsInvolved   []int                `json:"trains_involved"`
	SectionsInvolved []int                `json:"sections_involved"`
	SeverityScore    float64              `json:"severity_score"`
	TimeToImpact     float64              `json:"time_to_impact"`
}

// Response is the solver's ranked reply.
type Response struct {
	RankedSuggestions []string `json:"ranked_suggestions"`
}

// Solver is the port the scheduler may consult when enriching a
// conflict's resolution suggestions beyond the detector's own
// heuristics.
type Solver interface {
	Solve(ctx context.Context, req Request) (Response, error)
}
