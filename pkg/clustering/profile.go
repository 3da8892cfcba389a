package clustering

import (
	"fmt"
	"sort"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

// MergeStrategy selects how member values combine into a cluster profile field.
type MergeStrategy string

const (
	MergeStrategyFirst          MergeStrategy = "first"            // Value of the canonical record, else the first member that has one
	MergeStrategyMostCommon     MergeStrategy = "most_common"      // Most frequent value, ties to the earliest member
	MergeStrategyLongestValue   MergeStrategy = "longest"          // Longest string value
	MergeStrategyShortestValue  MergeStrategy = "shortest"         // Shortest non-empty string value
	MergeStrategyMax            MergeStrategy = "max"              // Maximum numeric value
	MergeStrategyMin            MergeStrategy = "min"              // Minimum numeric value
	MergeStrategySum            MergeStrategy = "sum"              // Sum of numeric values
	MergeStrategyAverage        MergeStrategy = "average"          // Mean of numeric values
	MergeStrategyCollectAll     MergeStrategy = "collect_all"      // Distinct values as a list
	MergeStrategyPreferNonEmpty MergeStrategy = "prefer_non_empty" // First non-empty value
)

// FieldStrategy configures one profile field.
type FieldStrategy struct {
	Field    string        `yaml:"field" json:"field" validate:"required"`
	Strategy MergeStrategy `yaml:"strategy" json:"strategy" validate:"required,oneof=first most_common longest shortest max min sum average collect_all prefer_non_empty"`
	MaxItems int           `yaml:"max_items" json:"max_items,omitempty"`
}

// Profile summarizes a cluster for display: its canonical id, size and merged fields.
type Profile struct {
	CanonicalID string         `json:"canonical_id"`
	Size        int            `json:"size"`
	Fields      map[string]any `json:"fields"`
}

// BuildProfile merges member fields with the given strategies. Members missing
// from the collection are counted but contribute no values.
func BuildProfile(cluster models.EntityCluster, records *models.Collection, strategies []FieldStrategy) Profile {
	members := make([]models.Record, 0, len(cluster.Members))
	for _, id := range cluster.MemberIDs() {
		if r, ok := records.Get(id); ok {
			members = append(members, r)
		}
	}

	fields := make(map[string]any, len(strategies))
	for _, s := range strategies {
		var values []any
		for _, r := range members {
			if v, ok := r.Value(s.Field); ok {
				values = append(values, v)
			}
		}
		fields[s.Field] = mergeField(values, s)
	}

	return Profile{CanonicalID: cluster.CanonicalID, Size: len(cluster.Members), Fields: fields}
}

func mergeField(values []any, s FieldStrategy) any {
	if len(values) == 0 {
		return nil
	}

	switch s.Strategy {
	case MergeStrategyFirst:
		return values[0]
	case MergeStrategyMostCommon:
		return mostCommon(values)
	case MergeStrategyLongestValue:
		return longest(values)
	case MergeStrategyShortestValue:
		return shortest(values)
	case MergeStrategyMax:
		return extreme(values, func(a, b float64) bool { return a > b })
	case MergeStrategyMin:
		return extreme(values, func(a, b float64) bool { return a < b })
	case MergeStrategySum:
		return sum(values)
	case MergeStrategyAverage:
		return average(values)
	case MergeStrategyCollectAll:
		return collectAll(values, s.MaxItems)
	default:
		return preferNonEmpty(values)
	}
}

func mostCommon(values []any) any {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[fmt.Sprintf("%v", v)]++
	}
	var best any
	bestCount := 0
	for _, v := range values {
		if n := counts[fmt.Sprintf("%v", v)]; n > bestCount {
			best, bestCount = v, n
		}
	}
	return best
}

func longest(values []any) any {
	var result any
	maxLen := -1
	for _, v := range values {
		if n := len(fmt.Sprintf("%v", v)); n > maxLen {
			maxLen, result = n, v
		}
	}
	return result
}

func shortest(values []any) any {
	var result any
	minLen := int(^uint(0) >> 1)
	for _, v := range values {
		if n := len(fmt.Sprintf("%v", v)); n > 0 && n < minLen {
			minLen, result = n, v
		}
	}
	return result
}

func extreme(values []any, better func(a, b float64) bool) any {
	var best float64
	found := false
	for _, v := range values {
		num, ok := toNumber(v)
		if !ok {
			continue
		}
		if !found || better(num, best) {
			best, found = num, true
		}
	}
	if !found {
		return nil
	}
	return best
}

func sum(values []any) any {
	var total float64
	for _, v := range values {
		if num, ok := toNumber(v); ok {
			total += num
		}
	}
	return total
}

func average(values []any) any {
	var total float64
	count := 0
	for _, v := range values {
		if num, ok := toNumber(v); ok {
			total += num
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return total / float64(count)
}

func collectAll(values []any, maxItems int) any {
	seen := make(map[string]bool, len(values))
	result := make([]any, 0, len(values))
	for _, v := range values {
		key := fmt.Sprintf("%v", v)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, v)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return fmt.Sprintf("%v", result[i]) < fmt.Sprintf("%v", result[j])
	})
	if maxItems > 0 && len(result) > maxItems {
		result = result[:maxItems]
	}
	return result
}

func preferNonEmpty(values []any) any {
	for _, v := range values {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return v
	}
	return values[0]
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
