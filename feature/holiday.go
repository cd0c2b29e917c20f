package feature

import (
	"fmt"
	"strings"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/us"
)

var ErrUnknownHolidaySet = failure.New(failure.ErrValidation, "unknown holiday set")

// HolidaySet resolves a named calendar to its holidays. An empty name disables holidays.
func HolidaySet(name string) ([]*cal.Holiday, error) {
	switch strings.ToLower(name) {
	case "":
		return nil, nil
	case "us":
		return us.Holidays, nil
	case "us_retail":
		return []*cal.Holiday{us.NewYear, us.MemorialDay, us.IndependenceDay, us.LaborDay, us.ThanksgivingDay, us.ChristmasDay}, nil
	}
	return nil, fmt.Errorf("%q, %w", name, ErrUnknownHolidaySet)
}

// HolidayColumn is the indicator column name of a holiday
func HolidayColumn(hol *cal.Holiday) string {
	return PrefixHoliday + Sanitize(hol.Name)
}

// holidayInPeriod reports whether the observed date of the holiday falls within the period
// starting at t. Observed dates are computed in UTC and compared as calendar dates in the
// location of t.
func holidayInPeriod(hol *cal.Holiday, freq panel.Frequency, t time.Time) bool {
	end := freq.Add(t, 1)
	for year := t.Year(); year <= end.Year(); year++ {
		_, observed := hol.Calc(year)
		if observed.IsZero() {
			continue
		}
		obsDay := time.Date(observed.Year(), observed.Month(), observed.Day(), 0, 0, 0, 0, t.Location())
		startDay := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		if (obsDay.After(startDay) || obsDay.Equal(startDay)) && obsDay.Before(end) {
			return true
		}
	}
	return false
}
