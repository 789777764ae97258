package analytics

import (
	"fmt"

	"gorm.io/gorm"

	"cherrycap/internal/timeframe"
)

// TrafficPoint is one calendar day of visitor and page-view counts.
type TrafficPoint struct {
	Date      string `json:"date"`
	Visitors  int    `json:"visitors"`
	PageViews int    `json:"page_views"`
}

// GetTrafficOverTime buckets visitors and page views by calendar day. The
// result always has exactly `days` contiguous entries: days with no traffic
// are pre-seeded with zeros. Returns (nil, nil) when the user does not own
// the site.
func GetTrafficOverTime(db *gorm.DB, userID uint, sitePublicID string, days int) ([]TrafficPoint, error) {
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
	return trafficForParams(db, params)
}

func trafficForParams(db *gorm.DB, params SiteScopedQueryParams) ([]TrafficPoint, error) {
	visitorStats, err := dailyCounts(db, params, fmt.Sprintf(`
        SELECT %s AS date, COUNT(DISTINCT visitor_id) AS count
        FROM sessions
        WHERE site_id = ? AND started_at >= ? AND started_at <= ?
        GROUP BY date ORDER BY date ASC
    `, timeframe.SQLiteDayExpr("started_at")))
	if err != nil {
		return nil, fmt.Errorf("error fetching daily visitors: %w", err)
	}

	pageViewStats, err := dailyCounts(db, params, fmt.Sprintf(`
        SELECT %s AS date, COUNT(*) AS count
        FROM page_views
        WHERE site_id = ? AND created_at >= ? AND created_at <= ?
        GROUP BY date ORDER BY date ASC
    `, timeframe.SQLiteDayExpr("created_at")))
	if err != nil {
		return nil, fmt.Errorf("error fetching daily page views: %w", err)
	}

	visitors := params.Window.BuildDailySeries(visitorStats)
	pageViews := params.Window.BuildDailySeries(pageViewStats)

	points := make([]TrafficPoint, len(visitors))
	for i := range visitors {
		points[i] = TrafficPoint{
			Date:      visitors[i].Date,
			Visitors:  visitors[i].Count,
			PageViews: pageViews[i].Count,
		}
	}
	return points, nil
}

func dailyCounts(db *gorm.DB, params SiteScopedQueryParams, query string) ([]timeframe.DateStat, error) {
	var results []timeframe.DateStat
	err := db.Raw(query, params.Site.ID, params.Window.From, params.Window.To).Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
