package analytics

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"cherrycap/internal/pkg/referrers"
)

// deviceCaser turns stored device types into display labels.
var deviceCaser = cases.Title(language.AmericanEnglish)

// CategoryCount is one labeled bucket in a breakdown (referrer type, device).
// Zero-count categories are omitted from results.
type CategoryCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// GetTrafficSources breaks sessions down by referrer category, sorted
// descending by count. Returns (nil, nil) when the user does not own the site.
func GetTrafficSources(db *gorm.DB, userID uint, sitePublicID string, days int) ([]CategoryCount, error) {
	site, err := resolveOwnedSite(db, userID, sitePublicID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, nil
	}

	params, err := NewSiteScopedQueryParams(site, days)
	if err != nil {
		return nil, err
	}
	return sessionBreakdown(db, params, "referrer_type")
}

// GetDeviceBreakdown breaks sessions down by device type, sorted descending
// by count. Returns (nil, nil) when the user does not own the site.
func GetDeviceBreakdown(db *gorm.DB, userID uint, sitePublicID string, days int) ([]CategoryCount, error) {
	site, err := resolveOwnedSite(db, userID, sitePublicID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, nil
	}

	params, err := NewSiteScopedQueryParams(site, days)
	if err != nil {
		return nil, err
	}

	counts, err := sessionBreakdown(db, params, "device")
	if err != nil {
		return nil, err
	}
	for i := range counts {
		counts[i].Label = deviceCaser.String(counts[i].Label)
	}
	return counts, nil
}

// ReferrerCount is one referring source with its display name. Hostname
// holds the merged bucket's representative hostname.
type ReferrerCount struct {
	Hostname string `json:"hostname"`
	Label    string `json:"label"`
	Count    int64  `json:"count"`
}

// topReferrersLimit caps the referrer list the dashboard shows.
const topReferrersLimit = 10

// GetTopReferrers lists the top referring sources in the window. Raw
// referrer URLs are reduced to hostnames and merged under one friendly name,
// so google.de and www.google.com count as a single Google bucket. Returns
// (nil, nil) when the user does not own the site.
func GetTopReferrers(db *gorm.DB, userID uint, sitePublicID string, days int) ([]ReferrerCount, error) {
	site, err := resolveOwnedSite(db, userID, sitePublicID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, nil
	}

	params, err := NewSiteScopedQueryParams(site, days)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Referrer string
		Count    int64
	}
	err = db.Raw(`
        SELECT referrer, COUNT(*) AS count
        FROM sessions
        WHERE site_id = ? AND started_at >= ? AND started_at <= ? AND referrer != ''
        GROUP BY referrer
    `, params.Site.ID, params.Window.From, params.Window.To).Scan(&raw).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching top referrers: %w", err)
	}

	buckets := make(map[string]*ReferrerCount)
	for _, row := range raw {
		hostname := referrerHostname(row.Referrer)
		if hostname == "" {
			continue
		}
		label := referrers.FriendlyName(hostname)
		if bucket, exists := buckets[label]; exists {
			bucket.Count += row.Count
		} else {
			buckets[label] = &ReferrerCount{Hostname: hostname, Label: label, Count: row.Count}
		}
	}

	results := make([]ReferrerCount, 0, len(buckets))
	for _, bucket := range buckets {
		results = append(results, *bucket)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Label < results[j].Label
	})
	if len(results) > topReferrersLimit {
		results = results[:topReferrersLimit]
	}
	return results, nil
}

// referrerHostname extracts a lowercase hostname from a raw referrer value,
// which may be a full URL or a bare hostname.
func referrerHostname(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if parsed, err := url.Parse(raw); err == nil && parsed.Hostname() != "" {
		return strings.ToLower(parsed.Hostname())
	}
	host := strings.ToLower(raw)
	host = strings.TrimPrefix(host, "www.")
	if strings.ContainsAny(host, "/ ") {
		host = strings.FieldsFunc(host, func(r rune) bool { return r == '/' || r == ' ' })[0]
	}
	return host
}

// The column name is always one of our own identifiers, never user input.
func sessionBreakdown(db *gorm.DB, params SiteScopedQueryParams, column string) ([]CategoryCount, error) {
	var results []CategoryCount
	query := fmt.Sprintf(`
        SELECT %s AS label, COUNT(*) AS count
        FROM sessions
        WHERE site_id = ? AND started_at >= ? AND started_at <= ? AND %s != ''
        GROUP BY %s
        ORDER BY count DESC
    `, column, column, column)
	err := db.Raw(query, params.Site.ID, params.Window.From, params.Window.To).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching %s breakdown: %w", column, err)
	}
	return results, nil
}
