package railway

import (
	"sort"
	"strconv"
	"strings"
)

func joinSortedInts(ids []int) string {
	cp := make([]int, len(ids))
	copy(cp, ids)
	sort.Ints(cp)

	parts := make([]string, len(cp))
	for i, id := range cp {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
