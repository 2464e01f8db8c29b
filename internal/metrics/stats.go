package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// Stats maps a metric name to its value for one batch or an aggregate of batches.
type Stats map[string]float64

// Merge adds every value of batch into total and returns total.
// Keys missing from total count as zero. A nil total is allocated.
func Merge(total, batch Stats) Stats {
	if total == nil {
		total = make(Stats, len(batch))
	}
	for k, v := range batch {
		total[k] += v
	}
	return total
}

// Scale divides every value in total by divisor and returns total.
// A non-positive divisor leaves total unchanged.
func Scale(total Stats, divisor int) Stats {
	if divisor <= 0 {
		return total
	}
	d := float64(divisor)
	for k, v := range total {
		total[k] = v / d
	}
	return total
}

// Format renders stats as space separated key=value pairs with keys sorted.
// Each key is prefixed with prefix.
func Format(stats Stats, prefix string) string {
	keys := stats.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s%s=%.4f", prefix, k, stats[k]))
	}
	return strings.Join(parts, " ")
}

// Keys returns the metric names in sorted order.
func (s Stats) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy of s.
func (s Stats) Clone() Stats {
	out := make(Stats, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
