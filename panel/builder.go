package panel

import (
	"fmt"
	"math"
	"sort"
	"time"
)

type rawRow struct {
	entity    string
	t         time.Time
	target    float64
	reference float64
	features  map[string]float64
}

// Builder accumulates rows keyed by entity identifier and produces a sorted, validated
// panel along with the run's entity encoding.
type Builder struct {
	freq       Frequency
	targetType *TargetType
	rows       []rawRow
}

// NewBuilder starts a panel of the input frequency
func NewBuilder(freq Frequency) *Builder {
	return &Builder{freq: freq}
}

// WithTargetType fixes the target type instead of inferring it from the values
func (b *Builder) WithTargetType(tt TargetType) *Builder {
	b.targetType = &tt
	return b
}

// Add appends an observation. Use math.NaN() for a missing reference.
func (b *Builder) Add(entityID string, t time.Time, target, reference float64, features map[string]float64) *Builder {
	b.rows = append(b.rows, rawRow{
		entity:    entityID,
		t:         t,
		target:    target,
		reference: reference,
		features:  features,
	})
	return b
}

// Len is the number of rows added so far
func (b *Builder) Len() int {
	return len(b.rows)
}

// Build sorts the rows, encodes entities and checks the panel invariants
func (b *Builder) Build() (*Panel, error) {
	if len(b.rows) == 0 {
		return nil, ErrNoRows
	}
	if err := b.freq.Valid(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(b.rows[0].features))
	for name := range b.rows[0].features {
		names = append(names, name)
	}
	sort.Strings(names)

	ids := make([]string, 0, len(b.rows))
	integral := true
	for i, r := range b.rows {
		if len(r.features) != len(names) {
			return nil, fmt.Errorf("row %d has %d features instead of %d, %w", i, len(r.features), len(names), ErrSchemaMismatch)
		}
		for _, name := range names {
			if _, exists := r.features[name]; !exists {
				return nil, fmt.Errorf("row %d missing feature %q, %w", i, name, ErrSchemaMismatch)
			}
		}
		if math.IsNaN(r.target) || math.IsInf(r.target, 0) {
			return nil, fmt.Errorf("entity %q at %s, %w", r.entity, r.t, ErrNonFiniteTarget)
		}
		if r.target != math.Trunc(r.target) {
			integral = false
		}
		ids = append(ids, r.entity)
	}

	enc := NewEncoding(ids)
	rows := make([]Row, len(b.rows))
	for i, r := range b.rows {
		idx, _ := enc.Lookup(r.entity)
		feat := make([]float64, len(names))
		for j, name := range names {
			feat[j] = r.features[name]
		}
		rows[i] = Row{
			Entity:    idx,
			Time:      r.t,
			Target:    r.target,
			Reference: r.reference,
			Features:  feat,
		}
	}

	tt := TargetFloat
	if b.targetType != nil {
		tt = *b.targetType
	} else if integral {
		tt = TargetInteger
	}

	return New(b.freq, enc, names, tt, rows)
}

// New sorts the input rows and validates them as a panel
func New(freq Frequency, enc *Encoding, featureNames []string, tt TargetType, rows []Row) (*Panel, error) {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	SortRows(sorted)

	p := &Panel{
		Freq:         freq,
		Entities:     enc,
		FeatureNames: featureNames,
		TargetType:   tt,
		Rows:         sorted,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// SortRows orders rows by entity then time
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Entity != rows[j].Entity {
			return rows[i].Entity < rows[j].Entity
		}
		return rows[i].Time.Before(rows[j].Time)
	})
}
