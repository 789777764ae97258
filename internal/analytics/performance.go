package analytics

import (
	"fmt"

	"gorm.io/gorm"

	"cherrycap/internal/timeframe"
)

// PerformancePoint is one calendar day of averaged timing metrics. Days with
// no samples carry zeros.
type PerformancePoint struct {
	Date        string  `json:"date"`
	AvgLoadTime float64 `json:"avg_load_time"`
	AvgTTFB     float64 `json:"avg_ttfb"`
	AvgFCP      float64 `json:"avg_fcp"`
}

// GetPerformanceMetrics returns per-day averages of loadTime/ttfb/fcp,
// zero-filled for days with no samples. Returns (nil, nil) when the user
// does not own the site.
func GetPerformanceMetrics(db *gorm.DB, userID uint, sitePublicID string, days int) ([]PerformancePoint, error) {
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
	return performanceForParams(db, params)
}

func performanceForParams(db *gorm.DB, params SiteScopedQueryParams) ([]PerformancePoint, error) {
	var rows []struct {
		Date        string
		AvgLoadTime float64
		AvgTTFB     float64
		AvgFCP      float64
	}
	query := fmt.Sprintf(`
        SELECT
            %s AS date,
            COALESCE(AVG(load_time_ms), 0) AS avg_load_time,
            COALESCE(AVG(ttfb_ms), 0) AS avg_ttfb,
            COALESCE(AVG(fcp_ms), 0) AS avg_fcp
        FROM performance_samples
        WHERE site_id = ? AND created_at >= ? AND created_at <= ?
        GROUP BY date ORDER BY date ASC
    `, timeframe.SQLiteDayExpr("created_at"))
	err := db.Raw(query, params.Site.ID, params.Window.From, params.Window.To).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching performance metrics: %w", err)
	}

	byDate := make(map[string]PerformancePoint, len(rows))
	for _, row := range rows {
		byDate[row.Date] = PerformancePoint{
			Date:        row.Date,
			AvgLoadTime: row.AvgLoadTime,
			AvgTTFB:     row.AvgTTFB,
			AvgFCP:      row.AvgFCP,
		}
	}

	labels := params.Window.DayLabels()
	points := make([]PerformancePoint, len(labels))
	for i, label := range labels {
		if point, ok := byDate[label]; ok {
			points[i] = point
		} else {
			points[i] = PerformancePoint{Date: label}
		}
	}
	return points, nil
}
