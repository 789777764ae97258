// Package sites manages the registry of tracked sites. Every analytics row
// hangs off a site, and every read query is scoped to a site owner.
package sites

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// SiteNotFoundError represents an error when a site is not found
type SiteNotFoundError struct {
	PublicID string
}

func (e *SiteNotFoundError) Error() string {
	return fmt.Sprintf("site not found: %s", e.PublicID)
}

// NewSiteNotFoundError creates a new SiteNotFoundError
func NewSiteNotFoundError(publicID string) *SiteNotFoundError {
	return &SiteNotFoundError{PublicID: publicID}
}

// Site represents a tracked site. PublicID is the stable external key the
// tracking script sends as siteId; it is immutable once issued.
type Site struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	PublicID  string    `gorm:"uniqueIndex;not null" json:"site_id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Name      string    `gorm:"not null" json:"name"`
	Domain    string    `gorm:"index;not null" json:"domain"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateSite registers a new site for a user and issues its public id.
func CreateSite(logger *slog.Logger, db *gorm.DB, userID uint, name, domain string) (*Site, error) {
	name = strings.TrimSpace(name)
	domain = normalizeDomain(domain)
	if name == "" {
		return nil, errors.New("site name cannot be empty")
	}
	if domain == "" {
		return nil, errors.New("site domain cannot be empty")
	}

	site := &Site{
		PublicID: uuid.NewString(),
		UserID:   userID,
		Name:     name,
		Domain:   domain,
		IsActive: true,
	}

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(site).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create site: %w", err)
	}
	return site, nil
}

// GetSiteByPublicID resolves the external site key sent by the tracker. Used
// on the ingestion path, so it returns a typed not-found error the collector
// can map to a silent drop.
func GetSiteByPublicID(db *gorm.DB, publicID string) (*Site, error) {
	var site Site
	if err := db.Where("public_id = ?", publicID).First(&site).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewSiteNotFoundError(publicID)
		}
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// GetOwnedSite returns the site only when it belongs to the given user.
// Non-existent sites and sites owned by someone else look identical to the
// caller: (nil, nil). Aggregation reads fail closed on that nil instead of
// surfacing a permission error.
func GetOwnedSite(db *gorm.DB, userID uint, publicID string) (*Site, error) {
	var site Site
	err := db.Where("public_id = ? AND user_id = ?", publicID, userID).First(&site).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// GetSitesForUser lists all sites owned by a user, newest first.
func GetSitesForUser(db *gorm.DB, userID uint) ([]Site, error) {
	var result []Site
	if err := db.Where("user_id = ?", userID).Order("created_at DESC").Find(&result).Error; err != nil {
		return nil, fmt.Errorf("failed to get sites: %w", err)
	}
	return result, nil
}

// UpdateSite changes a site's mutable fields (name, domain, active flag).
// PublicID and ownership never change.
func UpdateSite(logger *slog.Logger, db *gorm.DB, userID uint, publicID, name, domain string, isActive bool) (*Site, error) {
	site, err := GetOwnedSite(db, userID, publicID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, nil
	}

	if name = strings.TrimSpace(name); name != "" {
		site.Name = name
	}
	if domain = normalizeDomain(domain); domain != "" {
		site.Domain = domain
	}
	site.IsActive = isActive

	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Save(site).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update site: %w", err)
	}
	return site, nil
}

// DeleteSite removes a site and all analytics rows that reference it. The
// cascade runs in one transaction so a partial delete never survives.
func DeleteSite(logger *slog.Logger, db *gorm.DB, userID uint, publicID string) error {
	site, err := GetOwnedSite(db, userID, publicID)
	if err != nil {
		return err
	}
	if site == nil {
		return NewSiteNotFoundError(publicID)
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		for _, table := range []string{"performance_samples", "event_records", "page_views", "sessions"} {
			if err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE site_id = ?", table), site.ID).Error; err != nil {
				return fmt.Errorf("failed to delete %s for site: %w", table, err)
			}
		}
		return tx.Delete(&Site{}, site.ID).Error
	})
}

// SiteWithStats is a site enriched with its recent page-view count, used by
// the dashboard site list.
type SiteWithStats struct {
	Site
	PageViewCount int64 `json:"page_view_count"`
}

// GetSitesWithStats lists a user's sites with their page-view counts over the
// trailing daysBack window.
func GetSitesWithStats(db *gorm.DB, userID uint, daysBack int) ([]SiteWithStats, error) {
	owned, err := GetSitesForUser(db, userID)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)
	result := make([]SiteWithStats, len(owned))
	for i, site := range owned {
		var count int64
		err := db.Table("page_views").
			Where("site_id = ? AND created_at >= ?", site.ID, cutoff).
			Count(&count).Error
		if err != nil {
			count = 0
		}
		result[i] = SiteWithStats{Site: site, PageViewCount: count}
	}
	return result, nil
}

// GetSiteByDomain finds an active site whose registered domain matches the
// given hostname. Subdomains of a registered domain match too, so a site
// registered as "example.com" accepts traffic from "shop.example.com".
func GetSiteByDomain(db *gorm.DB, host string) (*Site, error) {
	host = normalizeDomain(host)
	if host == "" {
		return nil, NewSiteNotFoundError(host)
	}

	var site Site
	err := db.Where("domain = ? AND is_active = ?", host, true).First(&site).Error
	if err == nil {
		return &site, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	base := BaseDomainForHost(host)
	if base != host {
		err = db.Where("domain = ? AND is_active = ?", base, true).First(&site).Error
		if err == nil {
			return &site, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, NewSiteNotFoundError(host)
}

// BaseDomainForHost reduces a hostname to its registrable base domain.
func BaseDomainForHost(host string) string {
	parts := strings.Split(strings.ToLower(host), ".")
	if len(parts) < 2 {
		return host
	}

	lastPart := parts[len(parts)-1]
	if lastPart == "localhost" {
		return "localhost"
	}

	// Two labels normally, three for common ccTLD second levels like co.uk.
	secondLast := parts[len(parts)-2]
	ccSecondLevels := map[string]bool{
		"co": true, "com": true, "org": true, "net": true, "gov": true, "ac": true, "edu": true,
	}
	if len(parts) >= 3 && len(lastPart) == 2 && ccSecondLevels[secondLast] {
		return strings.Join(parts[len(parts)-3:], ".")
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// normalizeDomain lowercases a domain and strips scheme, path and port so
// "https://Shop.Example.com/x" and "shop.example.com" store identically.
func normalizeDomain(domain string) string {
	domain = strings.TrimSpace(strings.ToLower(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	if idx := strings.IndexAny(domain, "/:"); idx >= 0 {
		domain = domain[:idx]
	}
	return domain
}
