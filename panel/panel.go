// Package panel holds the multi entity time series a run is fit against. A panel is an
// ordered sequence of rows keyed by (entity, timestamp) carrying the target, the manual or
// reference forecast for the same row and any numeric feature columns.
package panel

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
)

var (
	ErrNoRows          = failure.New(failure.ErrValidation, "panel has no rows")
	ErrDuplicateKey    = failure.New(failure.ErrValidation, "duplicate entity and timestamp")
	ErrUnsorted        = failure.New(failure.ErrValidation, "panel rows are not sorted by entity and timestamp")
	ErrSchemaMismatch  = failure.New(failure.ErrValidation, "feature columns differ between rows")
	ErrNonFiniteTarget = failure.New(failure.ErrValidation, "target value is not finite")
	ErrUnknownEntity   = failure.New(failure.ErrValidation, "entity index is not in the encoding")
)

// TargetType is the numeric type of the target column in the source data
type TargetType int

const (
	TargetFloat TargetType = iota
	TargetInteger
)

func (t TargetType) String() string {
	if t == TargetInteger {
		return "integer"
	}
	return "float"
}

// Key identifies a single observation
type Key struct {
	Entity int
	Time   int64
}

// KeyOf builds the key of an entity at a time
func KeyOf(entity int, t time.Time) Key {
	return Key{Entity: entity, Time: t.UnixNano()}
}

// Row is a single observation of an entity. Reference is NaN when there is no manual
// forecast for the row.
type Row struct {
	Entity    int
	Time      time.Time
	Target    float64
	Reference float64
	Features  []float64
}

// Key returns the row key
func (r Row) Key() Key {
	return KeyOf(r.Entity, r.Time)
}

// Group is the contiguous row range [Start, End) of one entity
type Group struct {
	Entity int
	Start  int
	End    int
}

// Panel is the set of rows for all entities sorted by entity then time
type Panel struct {
	Freq         Frequency
	Entities     *Encoding
	FeatureNames []string
	TargetType   TargetType
	Rows         []Row
}

// Validate checks the row ordering, key uniqueness and feature widths
func (p *Panel) Validate() error {
	if p == nil || len(p.Rows) == 0 {
		return ErrNoRows
	}
	if err := p.Freq.Valid(); err != nil {
		return err
	}
	for i, r := range p.Rows {
		if len(r.Features) != len(p.FeatureNames) {
			return fmt.Errorf("row %d has %d features instead of %d, %w", i, len(r.Features), len(p.FeatureNames), ErrSchemaMismatch)
		}
		if r.Entity < 0 || r.Entity >= p.Entities.Len() {
			return fmt.Errorf("row %d entity %d, %w", i, r.Entity, ErrUnknownEntity)
		}
		if math.IsNaN(r.Target) || math.IsInf(r.Target, 0) {
			return fmt.Errorf("row %d, %w", i, ErrNonFiniteTarget)
		}
		if i == 0 {
			continue
		}
		prev := p.Rows[i-1]
		if prev.Entity > r.Entity || (prev.Entity == r.Entity && prev.Time.After(r.Time)) {
			return fmt.Errorf("at row %d, %w", i, ErrUnsorted)
		}
		if prev.Entity == r.Entity && prev.Time.Equal(r.Time) {
			return fmt.Errorf("entity %q at %s, %w", p.Entities.Decode(r.Entity), r.Time, ErrDuplicateKey)
		}
	}
	return nil
}

// Len is the number of rows
func (p *Panel) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Rows)
}

// Times returns the sorted distinct timestamps across all entities
func (p *Panel) Times() []time.Time {
	if p == nil {
		return nil
	}
	seen := make(map[int64]time.Time)
	for _, r := range p.Rows {
		seen[r.Time.UnixNano()] = r.Time
	}
	t := make([]time.Time, 0, len(seen))
	for _, tPnt := range seen {
		t = append(t, tPnt)
	}
	sort.Slice(t, func(i, j int) bool { return t[i].Before(t[j]) })
	return t
}

// Groups returns the row range of every entity in entity order
func (p *Panel) Groups() []Group {
	if p == nil || len(p.Rows) == 0 {
		return nil
	}
	var groups []Group
	start := 0
	for i := 1; i <= len(p.Rows); i++ {
		if i == len(p.Rows) || p.Rows[i].Entity != p.Rows[start].Entity {
			groups = append(groups, Group{Entity: p.Rows[start].Entity, Start: start, End: i})
			start = i
		}
	}
	return groups
}

// Series returns the rows of a single entity
func (p *Panel) Series(entity int) []Row {
	if p == nil {
		return nil
	}
	start := sort.Search(len(p.Rows), func(i int) bool { return p.Rows[i].Entity >= entity })
	end := sort.Search(len(p.Rows), func(i int) bool { return p.Rows[i].Entity > entity })
	return p.Rows[start:end]
}

// Filter returns a new panel holding the rows that satisfy keep. Feature slices are shared.
func (p *Panel) Filter(keep func(Row) bool) *Panel {
	out := p.shallow()
	out.Rows = make([]Row, 0, len(p.Rows))
	for _, r := range p.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// FeatureIndex returns the column position of a feature
func (p *Panel) FeatureIndex(name string) (int, bool) {
	if p == nil {
		return -1, false
	}
	for i, n := range p.FeatureNames {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// HasFeature reports whether the panel carries the feature column
func (p *Panel) HasFeature(name string) bool {
	_, exists := p.FeatureIndex(name)
	return exists
}

// WithFeatures projects the panel down to the named feature columns in the given order.
// Names that are not present are dropped.
func (p *Panel) WithFeatures(names []string) *Panel {
	idx := make([]int, 0, len(names))
	kept := make([]string, 0, len(names))
	for _, name := range names {
		if i, exists := p.FeatureIndex(name); exists {
			idx = append(idx, i)
			kept = append(kept, name)
		}
	}

	out := p.shallow()
	out.FeatureNames = kept
	out.Rows = make([]Row, len(p.Rows))
	for i, r := range p.Rows {
		feat := make([]float64, len(idx))
		for j, col := range idx {
			feat[j] = r.Features[col]
		}
		r.Features = feat
		out.Rows[i] = r
	}
	return out
}

// AddFeatures returns a new panel with the named columns set. values[i] holds the values of
// row i in the same order as names. Existing columns with the same name are overwritten.
func (p *Panel) AddFeatures(names []string, values [][]float64) (*Panel, error) {
	if len(values) != len(p.Rows) {
		return nil, fmt.Errorf("got %d value rows for %d panel rows, %w", len(values), len(p.Rows), ErrSchemaMismatch)
	}

	featNames := make([]string, len(p.FeatureNames))
	copy(featNames, p.FeatureNames)
	pos := make([]int, len(names))
	for i, name := range names {
		if j, exists := p.FeatureIndex(name); exists {
			pos[i] = j
			continue
		}
		pos[i] = len(featNames)
		featNames = append(featNames, name)
	}

	out := p.shallow()
	out.FeatureNames = featNames
	out.Rows = make([]Row, len(p.Rows))
	for i, r := range p.Rows {
		if len(values[i]) != len(names) {
			return nil, fmt.Errorf("row %d has %d values for %d columns, %w", i, len(values[i]), len(names), ErrSchemaMismatch)
		}
		feat := make([]float64, len(featNames))
		copy(feat, r.Features)
		for j, v := range values[i] {
			feat[pos[j]] = v
		}
		r.Features = feat
		out.Rows[i] = r
	}
	return out, nil
}

// LastTime returns the latest timestamp in the panel
func (p *Panel) LastTime() time.Time {
	var last time.Time
	if p == nil {
		return last
	}
	for _, r := range p.Rows {
		if r.Time.After(last) {
			last = r.Time
		}
	}
	return last
}

// WithReferences returns a copy of the panel with the reference of every row found in refs
// replaced. Other rows keep their reference.
func (p *Panel) WithReferences(refs map[Key]float64) *Panel {
	out := p.shallow()
	out.Rows = make([]Row, len(p.Rows))
	for i, r := range p.Rows {
		if v, exists := refs[r.Key()]; exists {
			r.Reference = v
		}
		out.Rows[i] = r
	}
	return out
}

// CastTarget converts a predicted value back to the target's numeric type
func (p *Panel) CastTarget(v float64) float64 {
	if p == nil || p.TargetType != TargetInteger || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Round(v)
}

// Lookup indexes rows by key
func (p *Panel) Lookup() map[Key]Row {
	if p == nil {
		return nil
	}
	m := make(map[Key]Row, len(p.Rows))
	for _, r := range p.Rows {
		m[r.Key()] = r
	}
	return m
}

func (p *Panel) shallow() *Panel {
	return &Panel{
		Freq:         p.Freq,
		Entities:     p.Entities,
		FeatureNames: p.FeatureNames,
		TargetType:   p.TargetType,
	}
}
