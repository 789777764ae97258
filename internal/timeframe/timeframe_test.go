package timeframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrailingWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

	t.Run("seven day window ends today", func(t *testing.T) {
		w, err := NewTrailingWindow(7, now, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), w.From)
		assert.Equal(t, now, w.To)
		assert.Equal(t, 7, w.Days)
	})

	t.Run("single day window starts at midnight today", func(t *testing.T) {
		w, err := NewTrailingWindow(1, now, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), w.From)
	})

	t.Run("rejects non-positive days", func(t *testing.T) {
		_, err := NewTrailingWindow(0, now, time.UTC)
		assert.Error(t, err)
	})

	t.Run("nil timezone falls back to UTC", func(t *testing.T) {
		w, err := NewTrailingWindow(3, now, nil)
		require.NoError(t, err)
		assert.Equal(t, time.UTC, w.Tz)
	})

	t.Run("day boundaries follow the given timezone", func(t *testing.T) {
		berlin, err := time.LoadLocation("Europe/Berlin")
		require.NoError(t, err)
		// 23:30 UTC on Mar 15 is already Mar 16 in Berlin.
		late := time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
		w, err := NewTrailingWindow(2, late, berlin)
		require.NoError(t, err)
		assert.Equal(t, "2026-03-15", w.From.Format("2006-01-02"))
		assert.Equal(t, []string{"2026-03-15", "2026-03-16"}, w.DayLabels())
	})
}

func TestDayLabels(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	w, err := NewTrailingWindow(7, now, time.UTC)
	require.NoError(t, err)

	labels := w.DayLabels()
	require.Len(t, labels, 7)
	assert.Equal(t, "2026-03-09", labels[0])
	assert.Equal(t, "2026-03-15", labels[6])

	t.Run("crosses month boundary", func(t *testing.T) {
		w, err := NewTrailingWindow(3, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), time.UTC)
		require.NoError(t, err)
		assert.Equal(t, []string{"2026-03-30", "2026-03-31", "2026-04-01"}, w.DayLabels())
	})
}

func TestBuildDailySeries(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	w, err := NewTrailingWindow(7, now, time.UTC)
	require.NoError(t, err)

	t.Run("zero-fills empty input to exactly days entries", func(t *testing.T) {
		series := w.BuildDailySeries(nil)
		require.Len(t, series, 7)
		for _, point := range series {
			assert.Equal(t, 0, point.Count)
		}
		assert.Equal(t, "2026-03-09", series[0].Date)
		assert.Equal(t, "2026-03-15", series[6].Date)
	})

	t.Run("merges sparse results into the right slots", func(t *testing.T) {
		series := w.BuildDailySeries([]DateStat{
			{Date: "2026-03-10", Count: 4},
			{Date: "2026-03-14", Count: 9},
		})
		require.Len(t, series, 7)
		assert.Equal(t, 4, series[1].Count)
		assert.Equal(t, 9, series[5].Count)
		assert.Equal(t, 0, series[0].Count)
		assert.Equal(t, 0, series[6].Count)
	})

	t.Run("drops results outside the window", func(t *testing.T) {
		series := w.BuildDailySeries([]DateStat{
			{Date: "2026-01-01", Count: 100},
		})
		for _, point := range series {
			assert.Equal(t, 0, point.Count)
		}
	})

	t.Run("truncates datetime keys to the day", func(t *testing.T) {
		series := w.BuildDailySeries([]DateStat{
			{Date: "2026-03-12 13:00:00", Count: 2},
		})
		assert.Equal(t, 2, series[3].Count)
	})
}

func TestSQLiteDayExpr(t *testing.T) {
	assert.Equal(t, "strftime('%Y-%m-%d', started_at)", SQLiteDayExpr("started_at"))
}

func TestCalculateTrend(t *testing.T) {
	t.Run("rising series has positive slope", func(t *testing.T) {
		slope := CalculateTrend([]DateStat{
			{Date: "2026-03-09", Count: 1},
			{Date: "2026-03-10", Count: 3},
			{Date: "2026-03-11", Count: 5},
		})
		assert.InDelta(t, 2.0, slope, 0.001)
	})

	t.Run("too few points yields zero", func(t *testing.T) {
		assert.Equal(t, 0.0, CalculateTrend([]DateStat{{Date: "2026-03-09", Count: 5}}))
	})
}

func TestParseDays(t *testing.T) {
	assert.Equal(t, DefaultDays, ParseDays(""))
	assert.Equal(t, DefaultDays, ParseDays("abc"))
	assert.Equal(t, 30, ParseDays("30"))
	assert.Equal(t, 1, ParseDays("0"))
	assert.Equal(t, 1, ParseDays("-5"))
	assert.Equal(t, MaxDays, ParseDays("9999"))
}
