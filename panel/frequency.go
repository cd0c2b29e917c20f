package panel

import (
	"fmt"
	"strings"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
)

var ErrUnknownFrequency = failure.New(failure.ErrValidation, "unknown frequency")

// Frequency is the sampling interval of a panel. All period arithmetic goes through Add so
// month and quarter steps land on calendar boundaries rather than fixed durations.
type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
)

// ParseFrequency accepts the long names as well as single letter aliases
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "day", "d":
		return Daily, nil
	case "weekly", "week", "w":
		return Weekly, nil
	case "monthly", "month", "m", "ms":
		return Monthly, nil
	case "quarterly", "quarter", "q", "qs":
		return Quarterly, nil
	}
	return "", fmt.Errorf("%q, %w", s, ErrUnknownFrequency)
}

// Valid returns an error if the frequency is not one of the supported values
func (f Frequency) Valid() error {
	switch f {
	case Daily, Weekly, Monthly, Quarterly:
		return nil
	}
	return fmt.Errorf("%q, %w", string(f), ErrUnknownFrequency)
}

// Add moves t by n periods. Month based frequencies clamp the day of month so that
// 2024-01-31 plus one month is 2024-02-29. A timestamp on the last day of its month is a
// month-end anchor and always lands on the last day of the target month, so 2023-06-30
// plus one month is 2023-07-31.
func (f Frequency) Add(t time.Time, n int) time.Time {
	switch f {
	case Daily:
		return t.AddDate(0, 0, n)
	case Weekly:
		return t.AddDate(0, 0, 7*n)
	case Monthly:
		return addMonths(t, n)
	case Quarterly:
		return addMonths(t, 3*n)
	}
	return t
}

const maxSteps = 100000

// Steps counts the periods from one timestamp to a later one. False is returned when to is
// not reachable from from in whole periods.
func (f Frequency) Steps(from, to time.Time) (int, bool) {
	for k := 1; k <= maxSteps; k++ {
		t := f.Add(from, k)
		if t.Equal(to) {
			return k, true
		}
		if t.After(to) || !t.After(from) {
			return 0, false
		}
	}
	return 0, false
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := daysIn(first.Year(), first.Month())
	if d == daysIn(y, m) || d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SeasonalPeriod is the number of periods in one seasonal cycle
func (f Frequency) SeasonalPeriod() int {
	switch f {
	case Daily:
		return 7
	case Weekly:
		return 52
	case Monthly:
		return 12
	case Quarterly:
		return 4
	}
	return 1
}

// DefaultTestWindow is the backtest test window length in periods
func (f Frequency) DefaultTestWindow() int {
	switch f {
	case Daily:
		return 14
	case Weekly:
		return 4
	case Monthly:
		return 3
	case Quarterly:
		return 2
	}
	return 1
}

// DefaultMinTrain is the smallest train window, in distinct timestamps, a fold may have
func (f Frequency) DefaultMinTrain() int {
	switch f {
	case Daily:
		return 56
	case Weekly:
		return 26
	case Monthly:
		return 12
	case Quarterly:
		return 8
	}
	return 1
}

// DefaultHorizon is the number of future periods forecasted when none is configured
func (f Frequency) DefaultHorizon() int {
	switch f {
	case Daily:
		return 28
	case Weekly:
		return 13
	case Monthly:
		return 12
	case Quarterly:
		return 4
	}
	return 1
}
