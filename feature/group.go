// Package feature derives covariate columns from panel timestamps and groups feature columns
// so they can be added to a model one group at a time.
package feature

import (
	"strings"
)

const (
	ColWeekend    = "is_weekend"
	ColMonth      = "month"
	ColQuarter    = "quarter"
	ColWeekOfYear = "week_of_year"
	ColDayOfWeek  = "day_of_week"
	ColDayOfMonth = "day_of_month"

	PrefixHoliday     = "holiday_"
	PrefixCategorical = "cat_"
	PrefixSeasonality = "seas_"
)

// Group is a named set of feature columns, matched either exactly or by prefix
type Group struct {
	Name     string   `json:"name" yaml:"name"`
	Columns  []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Prefixes []string `json:"prefixes,omitempty" yaml:"prefixes,omitempty"`
}

var (
	Weekend = Group{
		Name:    "weekend",
		Columns: []string{ColWeekend},
	}
	Calendar = Group{
		Name:    "calendar",
		Columns: []string{ColMonth, ColQuarter, ColWeekOfYear, ColDayOfWeek, ColDayOfMonth},
	}
	Holiday = Group{
		Name:     "holiday",
		Prefixes: []string{PrefixHoliday},
	}
	Categorical = Group{
		Name:     "categorical",
		Prefixes: []string{PrefixCategorical},
	}
	Fourier = Group{
		Name:     "fourier",
		Prefixes: []string{PrefixSeasonality},
	}
)

// DefaultGroups is the order feature groups are added during ablation
func DefaultGroups() []Group {
	return []Group{Weekend, Calendar, Holiday, Categorical}
}

// GroupByName returns one of the predefined groups
func GroupByName(name string) (Group, bool) {
	for _, g := range []Group{Weekend, Calendar, Holiday, Categorical, Fourier} {
		if g.Name == strings.ToLower(name) {
			return g, true
		}
	}
	return Group{}, false
}

// Match reports whether a column belongs to the group
func (g Group) Match(col string) bool {
	for _, c := range g.Columns {
		if c == col {
			return true
		}
	}
	for _, prefix := range g.Prefixes {
		if strings.HasPrefix(col, prefix) {
			return true
		}
	}
	return false
}

// Present returns the columns of names that belong to the group, keeping their order
func (g Group) Present(names []string) []string {
	var cols []string
	for _, name := range names {
		if g.Match(name) {
			cols = append(cols, name)
		}
	}
	return cols
}

// Sanitize converts a free form label into a lower snake case column fragment
func Sanitize(label string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && sb.Len() > 0 {
				sb.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}
