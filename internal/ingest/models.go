// Package ingest is the write side of the pipeline: it decodes tracker
// payloads and persists sessions, page views, events and performance samples.
package ingest

import "time"

// Session represents one browsing visit, bounded by the inactivity timeout.
// It is the only mutable aggregate in the schema: LastActivity, DurationMs,
// PageViewCount and IsBounce are updated as later payloads for the same
// session arrive. Everything else is append-only.
type Session struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	SiteID        uint   `gorm:"index:idx_sessions_site_started;not null"`
	PublicID      string `gorm:"uniqueIndex;size:64;not null"`
	VisitorID     string `gorm:"index;size:64;not null"`
	StartedAt     time.Time `gorm:"index:idx_sessions_site_started;not null"`
	LastActivity  time.Time `gorm:"index;not null"`
	DurationMs    int64
	PageViewCount int
	IsBounce      bool
	Device        string `gorm:"size:16"`
	Browser       string `gorm:"size:64"`
	OS            string `gorm:"size:64"`
	Referrer      string
	ReferrerType  string `gorm:"size:16;index"`
	Country       string `gorm:"size:64"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PageView is one navigation, including SPA route changes.
type PageView struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SiteID      uint   `gorm:"index:idx_page_views_site_created;not null"`
	SessionID   uint   `gorm:"index;not null"`
	Path        string `gorm:"index;not null"`
	Title       string
	Referrer    string
	UTMSource   string    `gorm:"size:128"`
	UTMMedium   string    `gorm:"size:128"`
	UTMCampaign string    `gorm:"size:128"`
	CreatedAt   time.Time `gorm:"index:idx_page_views_site_created"`
}

// EventRecord is a free-form interaction event. Name cardinality is
// unbounded; consumers aggregate by exact string match. Properties is the
// raw JSON object the tracker sent.
type EventRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SiteID     uint   `gorm:"index:idx_event_records_site_created;not null"`
	SessionID  uint   `gorm:"index;not null"`
	Name       string `gorm:"index;not null"`
	Properties string `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index:idx_event_records_site_created"`
}

// PerformanceSample holds page timing metrics. At most one sample is
// expected per page view; LCP can lag the rest by several seconds and is
// nullable because the tracker emits without it on timeout.
type PerformanceSample struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SiteID     uint   `gorm:"index:idx_perf_samples_site_created;not null"`
	Path       string `gorm:"index;not null"`
	LoadTimeMs *float64
	TTFBMs     *float64
	FCPMs      *float64
	LCPMs      *float64
	CreatedAt  time.Time `gorm:"index:idx_perf_samples_site_created"`
}

// TableName keeps the table name short; gorm would otherwise pluralize the
// struct name into performance_samples anyway, this makes it explicit.
func (PerformanceSample) TableName() string {
	return "performance_samples"
}
