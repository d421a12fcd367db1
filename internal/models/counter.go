package models

import (
	"strconv"
	"strings"
)

// CounterLabel names a statistics counter in the PostCounters table.
type CounterLabel string

const (
	CounterPosts    CounterLabel = "Posts"
	CounterApproved CounterLabel = "Approved"
	CounterSettled  CounterLabel = "Settled"
	CounterSearch   CounterLabel = "Search"
)

// PostCounter is one row of the PostCounters table.
type PostCounter struct {
	CounterType CounterLabel `dynamodbav:"CounterType"`
	Count       int64        `dynamodbav:"Count"`
}

// SearchMetrics is the public statistics summary shown next to search.
type SearchMetrics struct {
	TotalSearches      string `json:"total_searches"`
	TotalPosts         string `json:"total_posts"`
	TotalApprovedPosts string `json:"total_approved_posts"`
	TotalSettledPosts  string `json:"total_settled_posts"`
}

// FormatCount renders a count in short form: 950, 1.5K, 2M, 3.2B.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	units := []struct {
		div    float64
		suffix string
	}{
		{1e9, "B"},
		{1e6, "M"},
		{1e3, "K"},
	}
	for _, u := range units {
		if float64(n) >= u.div {
			s := strconv.FormatFloat(float64(n)/u.div, 'f', 1, 64)
			return strings.TrimSuffix(s, ".0") + u.suffix
		}
	}
	return strconv.FormatInt(n, 10)
}
