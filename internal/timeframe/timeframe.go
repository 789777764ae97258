// Package timeframe provides calendar-day windowing for analytics queries.
// All aggregation endpoints accept a trailing number of days; this package
// turns that into concrete day boundaries and zero-filled series.
package timeframe

import (
	"fmt"
	"time"
)

// DateStat is a single point in a time series: an ISO date and a count.
type DateStat struct {
	Date  string
	Count int
}

// TimeProvider abstracts the clock so tests can pin "today".
type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// Window is a trailing range of whole calendar days ending today.
// From is midnight at the start of the first day, To is the instant the
// window was built (end of the current, partial day).
type Window struct {
	From time.Time
	To   time.Time
	Days int
	Tz   *time.Location
}

// NewTrailingWindow builds a window covering the `days` calendar days ending
// at `now`, inclusive of today. Day boundaries follow the provided location.
func NewTrailingWindow(days int, now time.Time, tz *time.Location) (*Window, error) {
	if days < 1 {
		return nil, fmt.Errorf("window must cover at least one day, got %d", days)
	}
	if tz == nil {
		tz = time.UTC
	}
	local := now.In(tz)
	startOfToday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
	from := startOfToday.AddDate(0, 0, -(days - 1))
	return &Window{
		From: from,
		To:   local,
		Days: days,
		Tz:   tz,
	}, nil
}

// DayLabels returns the ISO date (YYYY-MM-DD) of every day in the window,
// oldest first. The slice always has exactly w.Days entries.
func (w *Window) DayLabels() []string {
	labels := make([]string, w.Days)
	for i := 0; i < w.Days; i++ {
		labels[i] = w.From.AddDate(0, 0, i).Format("2006-01-02")
	}
	return labels
}

// SQLiteDayExpr returns the SQLite expression that buckets the given
// timestamp column into ISO dates matching DayLabels.
func SQLiteDayExpr(column string) string {
	return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column)
}

// BuildDailySeries merges grouped query results into a contiguous series with
// one entry per day in the window. Days absent from the input get a zero
// count; input rows outside the window are dropped.
func (w *Window) BuildDailySeries(grouped []DateStat) []DateStat {
	counts := make(map[string]int, len(grouped))
	for _, g := range grouped {
		key := g.Date
		if len(key) > 10 {
			key = key[:10]
		}
		counts[key] = g.Count
	}

	labels := w.DayLabels()
	series := make([]DateStat, len(labels))
	for i, label := range labels {
		series[i] = DateStat{Date: label, Count: counts[label]}
	}
	return series
}

// CalculateTrend returns the least-squares slope of the series counts.
// Positive means traffic is growing across the window.
func CalculateTrend(points []DateStat) float64 {
	if len(points) < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(points))

	for i, point := range points {
		x := float64(i)
		y := float64(point.Count)

		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	return (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
}
