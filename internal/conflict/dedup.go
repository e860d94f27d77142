package conflict

import "github.com/railtms/core/shared/railway"

// dedup implements 4.C.6: key each conflict by (sorted trains, sorted
// sections, type) and keep only the first occurrence per key within
// the cycle.
func dedup(conflicts []railway.DetectedConflict) []railway.DetectedConflict {
	seen := make(map[railway.ConflictKey]bool, len(conflicts))
	out := make([]railway.DetectedConflict, 0, len(conflicts))
	for _, c := range conflicts {
		key := c.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
