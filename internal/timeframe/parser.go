package timeframe

import "strconv"

const (
	// DefaultDays is used when a request omits the days parameter.
	DefaultDays = 7
	// MaxDays caps the window so a single query cannot scan unbounded history.
	MaxDays = 365
)

// ParseDays interprets a raw `days` query parameter. Empty or malformed input
// falls back to the default; out-of-range values are clamped.
func ParseDays(raw string) int {
	if raw == "" {
		return DefaultDays
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultDays
	}
	if days < 1 {
		return 1
	}
	if days > MaxDays {
		return MaxDays
	}
	return days
}
