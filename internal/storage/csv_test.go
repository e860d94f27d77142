package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntCSVRoundTrip(t *testing.T) {
	ids := []int{7, 12, 3}
	assert.Equal(t, []int{7, 12, 3}, parseIntCSV(intCSV(ids)))
}

func TestParseIntCSVEmptyString(t *testing.T) {
	assert.Nil(t, parseIntCSV(""))
}

func TestIntCSVSingleValue(t *testing.T) {
	assert.Equal(t, "42", intCSV([]int{42}))
	assert.Equal(t, []int{42}, parseIntCSV("42"))
}

func TestParseIntCSVSkipsMalformedEntries(t *testing.T) {
	assert.Equal(t, []int{1, 2}, parseIntCSV("1, x ,2"))
}
