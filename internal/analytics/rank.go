package analytics

import "sort"

// Count is one entry of a ranked histogram.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// rank orders a histogram by count descending, then key ascending.
func rank(counts map[string]int) []Count {
	out := make([]Count, 0, len(counts))
	for k, c := range counts {
		out = append(out, Count{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// truncate returns at most n leading elements of s. n <= 0 keeps everything.
func truncate[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

// tally increments counts[key] when key is non-empty.
func tally(counts map[string]int, key string) {
	if key == "" {
		return
	}
	counts[key]++
}

// sortStableBy sorts s in place with less, keeping the order of equal elements.
func sortStableBy[T any](s []T, less func(a, b T) bool) {
	sort.SliceStable(s, func(i, j int) bool {
		return less(s[i], s[j])
	})
}
