package classify

import (
	"net/url"
	"strings"
)

// UTMParams are the campaign-tracking fields extracted from a page URL's
// query string. Absent parameters stay empty.
type UTMParams struct {
	Source   string
	Medium   string
	Campaign string
}

// ExtractUTM pulls utm_source/utm_medium/utm_campaign out of a query string.
// Accepts the raw search string with or without the leading "?", or a full
// URL. Malformed input yields zero-value params.
func ExtractUTM(locationSearch string) UTMParams {
	raw := locationSearch
	if strings.Contains(raw, "?") {
		if idx := strings.Index(raw, "?"); idx >= 0 {
			raw = raw[idx+1:]
		}
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return UTMParams{}
	}

	return UTMParams{
		Source:   values.Get("utm_source"),
		Medium:   values.Get("utm_medium"),
		Campaign: values.Get("utm_campaign"),
	}
}
