package feature

import "sort"

// Dummies one-hot encodes a categorical column. Column names are cat_<column>_<value> in
// sorted value order and rows[i] holds the indicators of values[i].
func Dummies(column string, values []string) ([]string, [][]float64) {
	uniq := make(map[string]struct{})
	for _, v := range values {
		uniq[v] = struct{}{}
	}
	levels := make([]string, 0, len(uniq))
	for v := range uniq {
		levels = append(levels, v)
	}
	sort.Strings(levels)

	pos := make(map[string]int, len(levels))
	names := make([]string, len(levels))
	for i, level := range levels {
		pos[level] = i
		names[i] = PrefixCategorical + Sanitize(column) + "_" + Sanitize(level)
	}

	rows := make([][]float64, len(values))
	for i, v := range values {
		row := make([]float64, len(levels))
		row[pos[v]] = 1.0
		rows[i] = row
	}
	return names, rows
}
