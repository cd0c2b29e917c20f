// Package backtest runs model specs over cross validation folds and collects the out of
// sample predictions into deterministic result tables
package backtest

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/panel"
)

// ForecastFold marks results predicted past the end of the panel
const ForecastFold = -1

var (
	ErrRowCountMismatch = failure.New(failure.ErrValidation, "result table does not have the expected number of rows")
	ErrDuplicateResult  = failure.New(failure.ErrValidation, "duplicate result row")
)

// Result is one prediction of a model for an entity at a timestamp. Quantile is zero for
// point forecasts.
type Result struct {
	Entity   int
	Time     time.Time
	Model    string
	Fold     int
	Quantile float64
	Value    float64
}

func (r Result) Key() panel.Key {
	return panel.KeyOf(r.Entity, r.Time)
}

// Table is an immutable, sorted set of results
type Table struct {
	rows []Result
}

// Rows returns the results ordered by model, quantile, entity and time
func (t *Table) Rows() []Result {
	if t == nil {
		return nil
	}
	return t.rows
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Values indexes result values by entity and time. Tables holding more than one model or
// quantile should be split with Filter first.
func (t *Table) Values() map[panel.Key]float64 {
	m := make(map[panel.Key]float64, t.Len())
	for _, r := range t.Rows() {
		m[r.Key()] = r.Value
	}
	return m
}

// Filter returns the results that satisfy keep
func (t *Table) Filter(keep func(Result) bool) *Table {
	out := &Table{}
	for _, r := range t.Rows() {
		if keep(r) {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

// Models lists the distinct model tags in table order
func (t *Table) Models() []string {
	var models []string
	seen := make(map[string]struct{})
	for _, r := range t.Rows() {
		if _, exists := seen[r.Model]; exists {
			continue
		}
		seen[r.Model] = struct{}{}
		models = append(models, r.Model)
	}
	return models
}

// Concat merges tables into a single sorted table, rejecting duplicate rows
func Concat(tables ...*Table) (*Table, error) {
	var n int
	for _, t := range tables {
		n += t.Len()
	}
	b := NewBuilder(n)
	for _, t := range tables {
		b.Add(t.Rows()...)
	}
	return b.Build()
}

// Builder accumulates results and checks the row count and key uniqueness on Build
type Builder struct {
	expected int
	rows     []Result
}

// NewBuilder expects exactly expected rows. A negative count disables the check.
func NewBuilder(expected int) *Builder {
	capacity := max(expected, 0)
	return &Builder{
		expected: expected,
		rows:     make([]Result, 0, capacity),
	}
}

func (b *Builder) Add(rows ...Result) *Builder {
	b.rows = append(b.rows, rows...)
	return b
}

func (b *Builder) Build() (*Table, error) {
	if b.expected >= 0 && len(b.rows) != b.expected {
		return nil, fmt.Errorf("got %d rows, expected %d, %w", len(b.rows), b.expected, ErrRowCountMismatch)
	}
	rows := make([]Result, len(b.rows))
	copy(rows, b.rows)
	sortResults(rows)

	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		if prev.Model == cur.Model && prev.Quantile == cur.Quantile && prev.Entity == cur.Entity && prev.Time.Equal(cur.Time) {
			return nil, fmt.Errorf("model %s quantile %.2f entity %d at %s, %w", cur.Model, cur.Quantile, cur.Entity, cur.Time, ErrDuplicateResult)
		}
	}
	return &Table{rows: rows}, nil
}

func sortResults(rows []Result) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if a.Quantile != b.Quantile {
			return a.Quantile < b.Quantile
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Time.Before(b.Time)
	})
}

// Report renders a table with entity identifiers for artifacts
type Report struct {
	Table    *Table
	Entities *panel.Encoding
}

func (r Report) Header() []string {
	return []string{"entity", "time", "model", "fold", "quantile", "value"}
}

func (r Report) Records() [][]string {
	rows := r.Table.Rows()
	out := make([][]string, len(rows))
	for i, res := range rows {
		value := ""
		if !math.IsNaN(res.Value) {
			value = strconv.FormatFloat(res.Value, 'f', -1, 64)
		}
		out[i] = []string{
			r.Entities.Decode(res.Entity),
			res.Time.Format(time.DateOnly),
			res.Model,
			strconv.Itoa(res.Fold),
			strconv.FormatFloat(res.Quantile, 'f', -1, 64),
			value,
		}
	}
	return out
}
