package analytics

import (
	"fmt"

	"gorm.io/gorm"
)

// PageCount is one row of the top-pages table.
type PageCount struct {
	Path     string `json:"path"`
	Views    int64  `json:"views"`
	Sessions int64  `json:"sessions"`
}

// EventCount is one row of the top-events table.
type EventCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// GetTopPages groups page views by path, counting views and distinct
// sessions, sorted descending by view count and truncated to limit.
// Returns (nil, nil) when the user does not own the site.
func GetTopPages(db *gorm.DB, userID uint, sitePublicID string, days, limit int) ([]PageCount, error) {
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
	if limit > 0 {
		params.Limit = limit
	}
	return topPagesForParams(db, params)
}

func topPagesForParams(db *gorm.DB, params SiteScopedQueryParams) ([]PageCount, error) {
	var results []PageCount
	err := db.Raw(`
        SELECT path, COUNT(*) AS views, COUNT(DISTINCT session_id) AS sessions
        FROM page_views
        WHERE site_id = ? AND created_at >= ? AND created_at <= ?
        GROUP BY path
        ORDER BY views DESC
        LIMIT ?
    `, params.Site.ID, params.Window.From, params.Window.To, params.Limit).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching top pages: %w", err)
	}
	return results, nil
}

// GetTopEvents groups event records by exact name, sorted descending by
// count and truncated to limit. Returns (nil, nil) when the user does not
// own the site.
func GetTopEvents(db *gorm.DB, userID uint, sitePublicID string, days, limit int) ([]EventCount, error) {
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
	if limit > 0 {
		params.Limit = limit
	}
	return topEventsForParams(db, params)
}

func topEventsForParams(db *gorm.DB, params SiteScopedQueryParams) ([]EventCount, error) {
	var results []EventCount
	err := db.Raw(`
        SELECT name, COUNT(*) AS count
        FROM event_records
        WHERE site_id = ? AND created_at >= ? AND created_at <= ?
        GROUP BY name
        ORDER BY count DESC
        LIMIT ?
    `, params.Site.ID, params.Window.From, params.Window.To, params.Limit).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching top events: %w", err)
	}
	return results, nil
}
