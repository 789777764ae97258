// Package seeder fills a database with plausible demo traffic so dashboards
// have something to show during development and demos.
package seeder

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"cherrycap/internal/ingest"
	"cherrycap/internal/sites"
	"cherrycap/internal/users"
)

const (
	demoEmail    = "demo@example.com"
	demoPassword = "password"

	// sessions are spread over this many past days so every dashboard
	// window has data.
	historyDays = 30

	writeBatchSize = 200
)

// Seeder generates demo analytics data.
type Seeder struct {
	DBManager    cartridge.DBManager
	Logger       *slog.Logger
	SessionCount int
}

// NewSeeder creates a seeder that generates sessionCount sessions per site.
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, sessionCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if sessionCount <= 0 {
		sessionCount = 500
	}
	return &Seeder{
		DBManager:    dbManager,
		Logger:       logger,
		SessionCount: sessionCount,
	}
}

// Run seeds the demo user, two demo sites and traffic for each.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Seeding demo data", slog.Int("sessions_per_site", s.SessionCount))

	user, err := s.seedUser()
	if err != nil {
		return fmt.Errorf("failed to seed user: %w", err)
	}

	demoSites, err := s.seedSites(user.ID)
	if err != nil {
		return fmt.Errorf("failed to seed sites: %w", err)
	}

	for _, site := range demoSites {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.seedTraffic(ctx, site); err != nil {
			return fmt.Errorf("failed to seed traffic for %s: %w", site.Domain, err)
		}
	}

	s.Logger.Info("Seeding completed",
		slog.Duration("elapsed", time.Since(start)),
		slog.String("login", demoEmail))
	return nil
}

func (s *Seeder) seedUser() (*users.User, error) {
	db := s.DBManager.GetConnection()

	var user users.User
	if err := db.Where("email = ?", demoEmail).First(&user).Error; err == nil {
		return &user, nil
	}

	created, err := users.CreateUser(s.Logger, db, demoEmail, demoPassword)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Created demo user", slog.String("email", demoEmail))
	return created, nil
}

func (s *Seeder) seedSites(userID uint) ([]*sites.Site, error) {
	db := s.DBManager.GetConnection()
	domains := []string{"demo.example.com", "shop.example.org"}

	out := make([]*sites.Site, 0, len(domains))
	for _, domain := range domains {
		var existing sites.Site
		if err := db.Where("domain = ? AND user_id = ?", domain, userID).First(&existing).Error; err == nil {
			out = append(out, &existing)
			continue
		}

		site, err := sites.CreateSite(s.Logger, db, userID, domain, domain)
		if err != nil {
			return nil, err
		}
		s.Logger.Info("Created demo site", slog.String("domain", domain))
		out = append(out, site)
	}
	return out, nil
}

// journeys are path sequences a seeded visitor walks through.
var journeys = [][]string{
	{"/"},
	{"/", "/about"},
	{"/", "/pricing"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/launch-week"},
	{"/pricing", "/features", "/signup"},
	{"/", "/docs", "/docs/getting-started"},
	{"/blog/launch-week", "/pricing"},
	{"/login", "/dashboard", "/settings"},
}

var seedReferrers = []struct {
	url          string
	referrerType string
}{
	{"", "direct"},
	{"", "direct"},
	{"https://www.google.com/", "search"},
	{"https://www.google.com/", "search"},
	{"https://duckduckgo.com/", "search"},
	{"https://news.ycombinator.com/", "other"},
	{"https://x.com/", "social"},
	{"https://www.linkedin.com/feed/", "social"},
	{"https://mail.google.com/", "email"},
}

var seedDevices = []struct {
	device  string
	browser string
	os      string
}{
	{"desktop", "Chrome", "Windows"},
	{"desktop", "Chrome", "macOS"},
	{"desktop", "Firefox", "Linux"},
	{"desktop", "Safari", "macOS"},
	{"mobile", "Mobile Safari", "iOS"},
	{"mobile", "Chrome", "Android"},
	{"tablet", "Safari", "iOS"},
}

var seedCountries = []string{"US", "DE", "GB", "FR", "ES", "NL", "CA", "BR", "JP", ""}

var seedEvents = []struct {
	name       string
	properties map[string]any
}{
	{"cta_click", map[string]any{"button": "hero"}},
	{"newsletter_signup", map[string]any{"source": "footer"}},
	{"signup_completed", map[string]any{"plan": "free"}},
	{"download_started", map[string]any{"file": "whitepaper.pdf"}},
	{"section_view", map[string]any{"section": "pricing-table"}},
	{"scroll_depth", map[string]any{"depth": 75}},
}

// seedTraffic writes sessions with their page views, events and performance
// samples, backdated over the history window. Bounce flags are computed here
// the same way the finalizer job settles them.
func (s *Seeder) seedTraffic(ctx context.Context, site *sites.Site) error {
	db := s.DBManager.GetConnection()
	now := time.Now().UTC()
	created := 0

	for created < s.SessionCount {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := writeBatchSize
		if remaining := s.SessionCount - created; remaining < batch {
			batch = remaining
		}

		err := sqlite.PerformWrite(s.Logger, db, func(tx *gorm.DB) error {
			for i := 0; i < batch; i++ {
				if err := s.seedSession(tx, site, now); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		created += batch
	}

	s.Logger.Info("Seeded site traffic",
		slog.String("domain", site.Domain),
		slog.Int("sessions", created))
	return nil
}

func (s *Seeder) seedSession(tx *gorm.DB, site *sites.Site, now time.Time) error {
	// Recent days get more weight so the dashboard's short windows look alive.
	daysAgo := int(float64(historyDays) * rand.Float64() * rand.Float64())
	startedAt := now.AddDate(0, 0, -daysAgo).
		Add(-time.Duration(rand.IntN(20*3600)) * time.Second)

	journey := journeys[rand.IntN(len(journeys))]
	referrer := seedReferrers[rand.IntN(len(seedReferrers))]
	device := seedDevices[rand.IntN(len(seedDevices))]

	lastActivity := startedAt
	session := &ingest.Session{
		SiteID:       site.ID,
		PublicID:     uuid.NewString(),
		VisitorID:    uuid.NewString(),
		StartedAt:    startedAt,
		LastActivity: startedAt,
		Device:       device.device,
		Browser:      device.browser,
		OS:           device.os,
		Referrer:     referrer.url,
		ReferrerType: referrer.referrerType,
		Country:      seedCountries[rand.IntN(len(seedCountries))],
		CreatedAt:    startedAt,
		UpdatedAt:    startedAt,
	}
	if err := tx.Create(session).Error; err != nil {
		return err
	}

	for _, path := range journey {
		lastActivity = lastActivity.Add(time.Duration(10+rand.IntN(120)) * time.Second)
		pageView := &ingest.PageView{
			SiteID:    site.ID,
			SessionID: session.ID,
			Path:      path,
			Title:     path,
			CreatedAt: lastActivity,
		}
		if err := tx.Create(pageView).Error; err != nil {
			return err
		}

		if rand.IntN(3) == 0 {
			if err := s.seedPerformanceSample(tx, site.ID, path, lastActivity); err != nil {
				return err
			}
		}
	}

	eventCount := 0
	if len(journey) > 1 {
		eventCount = rand.IntN(3)
	}
	for i := 0; i < eventCount; i++ {
		event := seedEvents[rand.IntN(len(seedEvents))]
		properties, err := json.Marshal(event.properties)
		if err != nil {
			return err
		}
		lastActivity = lastActivity.Add(time.Duration(5+rand.IntN(60)) * time.Second)
		record := &ingest.EventRecord{
			SiteID:     site.ID,
			SessionID:  session.ID,
			Name:       event.name,
			Properties: string(properties),
			CreatedAt:  lastActivity,
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
	}

	isBounce := len(journey) == 1 && eventCount == 0
	return tx.Model(session).Updates(map[string]any{
		"last_activity":   lastActivity,
		"duration_ms":     lastActivity.Sub(startedAt).Milliseconds(),
		"page_view_count": len(journey),
		"is_bounce":       isBounce,
		"updated_at":      lastActivity,
	}).Error
}

func (s *Seeder) seedPerformanceSample(tx *gorm.DB, siteID uint, path string, at time.Time) error {
	loadTime := 400 + rand.Float64()*2200
	ttfb := 50 + rand.Float64()*350
	fcp := ttfb + 100 + rand.Float64()*800

	sample := &ingest.PerformanceSample{
		SiteID:     siteID,
		Path:       path,
		LoadTimeMs: &loadTime,
		TTFBMs:     &ttfb,
		FCPMs:      &fcp,
		CreatedAt:  at,
	}
	// The tracker gives up waiting for LCP sometimes; mirror that.
	if rand.IntN(10) != 0 {
		lcp := fcp + 200 + rand.Float64()*1800
		sample.LCPMs = &lcp
	}
	return tx.Create(sample).Error
}
