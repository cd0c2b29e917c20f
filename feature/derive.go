package feature

import (
	"fmt"
	"math"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/rickar/cal/v2"
)

var (
	ErrNegativeFourierOrder = failure.New(failure.ErrValidation, "fourier orders must be non-negative")
	ErrNonPositiveHorizon   = failure.New(failure.ErrValidation, "future horizon must be positive")
)

// Options selects which timestamp derived columns are added to a panel
type Options struct {
	Weekend       bool   `json:"weekend" yaml:"weekend"`
	Calendar      bool   `json:"calendar" yaml:"calendar"`
	Holidays      string `json:"holidays" yaml:"holidays"`
	FourierOrders int    `json:"fourier_orders" yaml:"fourier_orders"`
}

// NewDefaultOptions derives weekend, calendar and US holiday columns
func NewDefaultOptions() *Options {
	return &Options{
		Weekend:  true,
		Calendar: true,
		Holidays: "us",
	}
}

func (o *Options) Validate() error {
	if o == nil {
		return nil
	}
	if o.FourierOrders < 0 {
		return ErrNegativeFourierOrder
	}
	if _, err := HolidaySet(o.Holidays); err != nil {
		return err
	}
	return nil
}

// deriver computes derived columns for single timestamps
type deriver struct {
	freq     panel.Frequency
	opts     Options
	holidays []*cal.Holiday
	names    []string
}

func newDeriver(freq panel.Frequency, opts *Options) (*deriver, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	holidays, err := HolidaySet(opts.Holidays)
	if err != nil {
		return nil, err
	}
	d := &deriver{
		freq:     freq,
		opts:     *opts,
		holidays: holidays,
	}
	if opts.Weekend {
		d.names = append(d.names, ColWeekend)
	}
	if opts.Calendar {
		d.names = append(d.names, calendarColumns(freq)...)
	}
	seen := make(map[string]struct{})
	for _, hol := range holidays {
		col := HolidayColumn(hol)
		if _, exists := seen[col]; exists {
			continue
		}
		seen[col] = struct{}{}
		d.names = append(d.names, col)
	}
	d.names = append(d.names, fourierColumns(opts.FourierOrders)...)
	return d, nil
}

func (d *deriver) values(t time.Time) []float64 {
	vals := make([]float64, 0, len(d.names))
	if d.opts.Weekend {
		vals = append(vals, weekendShare(d.freq, t))
	}
	if d.opts.Calendar {
		for _, col := range calendarColumns(d.freq) {
			vals = append(vals, calendarValue(col, t))
		}
	}
	seen := make(map[string]struct{})
	for _, hol := range d.holidays {
		col := HolidayColumn(hol)
		if _, exists := seen[col]; exists {
			continue
		}
		seen[col] = struct{}{}
		var v float64
		if holidayInPeriod(hol, d.freq, t) {
			v = 1.0
		}
		vals = append(vals, v)
	}
	vals = append(vals, fourierValues(t, d.opts.FourierOrders)...)
	return vals
}

// Names returns the columns Derive would add for a frequency
func Names(freq panel.Frequency, opts *Options) ([]string, error) {
	d, err := newDeriver(freq, opts)
	if err != nil {
		return nil, err
	}
	return d.names, nil
}

// Derive returns a copy of the panel with the derived columns added. Existing columns of the
// same name are overwritten.
func Derive(p *panel.Panel, opts *Options) (*panel.Panel, error) {
	if p == nil {
		return nil, panel.ErrNoRows
	}
	d, err := newDeriver(p.Freq, opts)
	if err != nil {
		return nil, err
	}
	if len(d.names) == 0 {
		return p, nil
	}

	// timestamps repeat across entities so compute each once
	cache := make(map[int64][]float64)
	values := make([][]float64, len(p.Rows))
	for i, r := range p.Rows {
		key := r.Time.UnixNano()
		vals, exists := cache[key]
		if !exists {
			vals = d.values(r.Time)
			cache[key] = vals
		}
		values[i] = vals
	}
	return p.AddFeatures(d.names, values)
}

// Future builds the covariates of the n periods following last for every entity of the
// panel. Timestamps step from last so month end grids stay on the grid. Derived columns are
// recomputed for the future timestamps and any other column carries the last observed value
// of its entity forward. Targets are zero and references are missing.
func Future(p *panel.Panel, last time.Time, n int, opts *Options) (*panel.Panel, error) {
	if p == nil || p.Len() == 0 {
		return nil, panel.ErrNoRows
	}
	if n <= 0 {
		return nil, fmt.Errorf("%d, %w", n, ErrNonPositiveHorizon)
	}
	d, err := newDeriver(p.Freq, opts)
	if err != nil {
		return nil, err
	}
	derivedIdx := make(map[string]int, len(d.names))
	for i, name := range d.names {
		derivedIdx[name] = i
	}

	times := make([]time.Time, n)
	derived := make([][]float64, n)
	for i := 0; i < n; i++ {
		times[i] = p.Freq.Add(last, i+1)
		derived[i] = d.values(times[i])
	}

	groups := p.Groups()
	rows := make([]panel.Row, 0, len(groups)*n)
	for _, g := range groups {
		lastRow := p.Rows[g.End-1]
		for i, t := range times {
			feats := make([]float64, len(p.FeatureNames))
			for j, name := range p.FeatureNames {
				if k, exists := derivedIdx[name]; exists {
					feats[j] = derived[i][k]
					continue
				}
				feats[j] = lastRow.Features[j]
			}
			rows = append(rows, panel.Row{
				Entity:    g.Entity,
				Time:      t,
				Reference: math.NaN(),
				Features:  feats,
			})
		}
	}

	return panel.New(p.Freq, p.Entities, p.FeatureNames, p.TargetType, rows)
}
