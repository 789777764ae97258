package analytics

import (
	"fmt"
	"math"

	"gorm.io/gorm"
)

// OverviewStats is the headline card block of the dashboard.
type OverviewStats struct {
	UniqueVisitors       int64   `json:"unique_visitors"`
	Sessions             int64   `json:"sessions"`
	PageViews            int64   `json:"page_views"`
	BounceRate           float64 `json:"bounce_rate"`
	AvgSessionDurationMs int64   `json:"avg_session_duration_ms"`
	PagesPerSession      float64 `json:"pages_per_session"`
}

// GetOverviewStats computes visitor/session/page-view totals plus bounce
// rate, average session duration and pages per session for the window.
// Returns (nil, nil) when the user does not own the site.
func GetOverviewStats(db *gorm.DB, userID uint, sitePublicID string, days int) (*OverviewStats, error) {
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
	return overviewForParams(db, params)
}

func overviewForParams(db *gorm.DB, params SiteScopedQueryParams) (*OverviewStats, error) {
	var row struct {
		UniqueVisitors int64
		Sessions       int64
		Bounces        int64
		TotalDuration  int64
	}
	err := db.Raw(`
        SELECT
            COUNT(DISTINCT visitor_id) AS unique_visitors,
            COUNT(*) AS sessions,
            COALESCE(SUM(CASE WHEN is_bounce THEN 1 ELSE 0 END), 0) AS bounces,
            COALESCE(SUM(duration_ms), 0) AS total_duration
        FROM sessions
        WHERE site_id = ? AND started_at >= ? AND started_at <= ?
    `, params.Site.ID, params.Window.From, params.Window.To).Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching session overview: %w", err)
	}

	var pageViews int64
	err = db.Raw(`
        SELECT COUNT(*) FROM page_views
        WHERE site_id = ? AND created_at >= ? AND created_at <= ?
    `, params.Site.ID, params.Window.From, params.Window.To).Scan(&pageViews).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching page view count: %w", err)
	}

	stats := &OverviewStats{
		UniqueVisitors: row.UniqueVisitors,
		Sessions:       row.Sessions,
		PageViews:      pageViews,
	}
	if row.Sessions > 0 {
		stats.BounceRate = roundTo1(float64(row.Bounces) / float64(row.Sessions) * 100)
		stats.AvgSessionDurationMs = int64(math.Round(float64(row.TotalDuration) / float64(row.Sessions)))
		stats.PagesPerSession = roundTo1(float64(pageViews) / float64(row.Sessions))
	}
	return stats, nil
}

func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}
