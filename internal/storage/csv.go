package storage

import (
	"strconv"
	"strings"
)

// intCSV and parseIntCSV round-trip an []int through the comma-joined
// text columns (trains_involved, sections_involved) the conflicts
// table uses instead of a Postgres array type, matching the teacher's
// preference for plain scalar columns over array/jsonb columns.
func intCSV(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func parseIntCSV(csv string) []int {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
