// Package analytics is the read side of the pipeline: owner-scoped
// aggregation queries over sessions, page views, events and performance
// samples. Queries never mutate storage, and authorization failures fail
// closed with nil results rather than errors.
package analytics

import (
	"time"

	"gorm.io/gorm"

	"cherrycap/internal/sites"
	"cherrycap/internal/timeframe"
)

// DefaultTopPagesLimit bounds GetTopPages when the caller does not specify.
const DefaultTopPagesLimit = 10

// SiteScopedQueryParams carries what every aggregation query needs: the
// resolved site row and the day window to aggregate over.
type SiteScopedQueryParams struct {
	Site   *sites.Site
	Window *timeframe.Window
	Limit  int
}

// NewSiteScopedQueryParams builds params for a trailing day window ending now.
func NewSiteScopedQueryParams(site *sites.Site, days int) (SiteScopedQueryParams, error) {
	window, err := timeframe.NewTrailingWindow(days, time.Now().UTC(), time.UTC)
	if err != nil {
		return SiteScopedQueryParams{}, err
	}
	return SiteScopedQueryParams{
		Site:   site,
		Window: window,
		Limit:  DefaultTopPagesLimit,
	}, nil
}

// resolveOwnedSite is the access-control gate in front of every query.
// A site that does not exist and a site owned by someone else both resolve
// to nil; callers return a nil result in that case, never a permission error.
func resolveOwnedSite(db *gorm.DB, userID uint, sitePublicID string) (*sites.Site, error) {
	return sites.GetOwnedSite(db, userID, sitePublicID)
}
