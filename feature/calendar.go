package feature

import (
	"math"
	"time"

	"github.com/aouyang1/go-ensembler/panel"
)

// calendarColumns lists the calendar attributes that vary at the panel frequency
func calendarColumns(freq panel.Frequency) []string {
	switch freq {
	case panel.Daily:
		return []string{ColMonth, ColQuarter, ColWeekOfYear, ColDayOfWeek, ColDayOfMonth}
	case panel.Weekly:
		return []string{ColMonth, ColQuarter, ColWeekOfYear}
	case panel.Monthly:
		return []string{ColMonth, ColQuarter}
	case panel.Quarterly:
		return []string{ColQuarter}
	}
	return nil
}

func calendarValue(col string, t time.Time) float64 {
	switch col {
	case ColMonth:
		return float64(t.Month())
	case ColQuarter:
		return float64((int(t.Month())-1)/3 + 1)
	case ColWeekOfYear:
		_, week := t.ISOWeek()
		return float64(week)
	case ColDayOfWeek:
		// monday is 0
		return float64((int(t.Weekday()) + 6) % 7)
	case ColDayOfMonth:
		return float64(t.Day())
	}
	return math.NaN()
}

func isWeekend(t time.Time) bool {
	wkday := t.Weekday()
	return wkday == time.Saturday || wkday == time.Sunday
}

// weekendShare is the fraction of days in the period starting at t that fall on a weekend.
// For daily panels this is the weekend indicator itself.
func weekendShare(freq panel.Frequency, t time.Time) float64 {
	end := freq.Add(t, 1)
	var days, weekend int
	for d := t; d.Before(end); d = d.AddDate(0, 0, 1) {
		days++
		if isWeekend(d) {
			weekend++
		}
	}
	if days == 0 {
		return 0
	}
	return float64(weekend) / float64(days)
}
