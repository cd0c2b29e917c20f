// Package split partitions a panel into expanding window train/test folds
package split

import (
	"fmt"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/rs/zerolog/log"
)

const DefaultNumSplits = 3

var (
	ErrNoValidSplit     = failure.New(failure.ErrInsufficientHistory, "no split leaves enough training history")
	ErrInvalidNumSplits = failure.New(failure.ErrValidation, "number of splits must be positive")
	ErrInvalidWindow    = failure.New(failure.ErrValidation, "window lengths must be non-negative")
)

// Options controls the fold layout. Zero values take the defaults of the panel frequency.
type Options struct {
	NumSplits  int `json:"num_splits" yaml:"num_splits"`
	TestWindow int `json:"test_window" yaml:"test_window"`
	MinTrain   int `json:"min_train" yaml:"min_train"`
}

func NewDefaultOptions() *Options {
	return &Options{NumSplits: DefaultNumSplits}
}

// Validate fills frequency defaults and checks the window sizes
func (o *Options) Validate(freq panel.Frequency) (*Options, error) {
	if o == nil {
		o = NewDefaultOptions()
	}
	out := *o
	if out.NumSplits == 0 {
		out.NumSplits = DefaultNumSplits
	}
	if out.NumSplits < 0 {
		return nil, fmt.Errorf("%d, %w", out.NumSplits, ErrInvalidNumSplits)
	}
	if out.TestWindow < 0 || out.MinTrain < 0 {
		return nil, fmt.Errorf("test window %d min train %d, %w", out.TestWindow, out.MinTrain, ErrInvalidWindow)
	}
	if out.TestWindow == 0 {
		out.TestWindow = freq.DefaultTestWindow()
	}
	if out.MinTrain == 0 {
		out.MinTrain = freq.DefaultMinTrain()
	}
	return &out, nil
}

// Fold is one train/test partition. Every train timestamp precedes TestStart and the test
// panel holds the rows in [TestStart, TestEnd].
type Fold struct {
	Index     int
	Train     *panel.Panel
	Test      *panel.Panel
	TestStart time.Time
	TestEnd   time.Time
}

// Bounds are the timestamp positions of a fold over the panel's distinct timestamps
type Bounds struct {
	Index      int
	TestStart  int
	TestEnd    int
	TrainTimes int
}

// Layout computes the fold bounds over T distinct timestamps without materializing panels.
// Fold i tests the w timestamps ending (n-1-i)*w before the end. Folds with fewer than
// minTrain training timestamps are dropped, earliest first.
func Layout(numTimes int, opt *Options) ([]Bounds, error) {
	n, w := opt.NumSplits, opt.TestWindow
	bounds := make([]Bounds, 0, n)
	for i := 0; i < n; i++ {
		end := numTimes - (n-1-i)*w
		start := end - w
		if start <= 0 || start < opt.MinTrain {
			continue
		}
		bounds = append(bounds, Bounds{
			Index:      len(bounds),
			TestStart:  start,
			TestEnd:    end,
			TrainTimes: start,
		})
	}
	if len(bounds) == 0 {
		return nil, fmt.Errorf("%d timestamps, %d splits of %d with min train %d, %w", numTimes, n, w, opt.MinTrain, ErrNoValidSplit)
	}
	return bounds, nil
}

// Split partitions the panel into expanding window folds ordered from earliest to latest
func Split(p *panel.Panel, opt *Options) ([]Fold, error) {
	if p == nil || p.Len() == 0 {
		return nil, panel.ErrNoRows
	}
	opt, err := opt.Validate(p.Freq)
	if err != nil {
		return nil, err
	}

	times := p.Times()
	bounds, err := Layout(len(times), opt)
	if err != nil {
		return nil, err
	}
	if len(bounds) < opt.NumSplits {
		log.Warn().
			Int("requested", opt.NumSplits).
			Int("valid", len(bounds)).
			Int("min_train", opt.MinTrain).
			Msg("reduced number of splits to keep the minimum training history")
	}

	folds := make([]Fold, len(bounds))
	for k, b := range bounds {
		testStart := times[b.TestStart]
		testEnd := times[b.TestEnd-1]
		folds[k] = Fold{
			Index: b.Index,
			Train: p.Filter(func(r panel.Row) bool {
				return r.Time.Before(testStart)
			}),
			Test: p.Filter(func(r panel.Row) bool {
				return !r.Time.Before(testStart) && !r.Time.After(testEnd)
			}),
			TestStart: testStart,
			TestEnd:   testEnd,
		}
	}
	return folds, nil
}
