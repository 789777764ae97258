package analytics

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GetActiveVisitors counts sessions whose last activity falls inside the
// trailing window (5 minutes by default). This is a real-time approximation,
// not a concurrent-connection count. Returns (nil, nil) when the user does
// not own the site.
func GetActiveVisitors(db *gorm.DB, userID uint, sitePublicID string, window time.Duration) (*int64, error) {
	site, err := resolveOwnedSite(db, userID, sitePublicID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, nil
	}

	count, err := activeVisitorsForSite(db, site.ID, window)
	if err != nil {
		return nil, err
	}
	return &count, nil
}

func activeVisitorsForSite(db *gorm.DB, siteID uint, window time.Duration) (int64, error) {
	if window <= 0 {
		window = 5 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-window)

	var count int64
	err := db.Raw(`
        SELECT COUNT(*) FROM sessions
        WHERE site_id = ? AND last_activity >= ?
    `, siteID, cutoff).Scan(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error fetching active visitors: %w", err)
	}
	return count, nil
}
