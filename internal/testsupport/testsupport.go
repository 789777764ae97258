// Package testsupport holds shared fixtures for package tests: an in-memory
// SQLite database with the full schema migrated, plus seeding helpers for
// sites, users, sessions and page views.
package testsupport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cherrycap/internal"
	"cherrycap/internal/annotations"
	"cherrycap/internal/config"
	"cherrycap/internal/ingest"
	"cherrycap/internal/settings"
	"cherrycap/internal/sites"
	"cherrycap/internal/users"
)

// SessionCookieName matches the pattern used in routes.go: cfg.AppName + "_session"
const SessionCookieName = "cherrycap_session"

// testDBCache caches test databases by root test name so setup helpers
// called from subtests share one database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// allModels returns every model for migration.
func allModels() []any {
	return []any{
		&cache.CacheRecord{},
		&users.User{},
		&sites.Site{},
		&ingest.Session{},
		&ingest.PageView{},
		&ingest.EventRecord{},
		&ingest.PerformanceSample{},
		&settings.Setting{},
		&annotations.Annotation{},
	}
}

// SetupTestDB creates a test database with all models migrated. Uses a named
// in-memory database with cache=shared so multiple connections within a test
// see the same data.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager and logger.
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// GetLogger returns a test logger that only surfaces errors.
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CleanAllTables clears all non-system tables in the database.
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CreateTestUser creates a user with a bcrypt-hashed password.
func CreateTestUser(t *testing.T, db *gorm.DB, email, password string) *users.User {
	t.Helper()

	var user users.User
	if db.Where("email = ?", email).First(&user).Error == nil {
		return &user
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)

	user = users.User{
		Email:             email,
		EncryptedPassword: string(hashedPassword),
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

// CreateTestSite creates a site owned by the given user.
func CreateTestSite(t *testing.T, db *gorm.DB, userID uint, domain string) *sites.Site {
	t.Helper()

	var site sites.Site
	if db.Where("domain = ? AND user_id = ?", domain, userID).First(&site).Error == nil {
		return &site
	}

	site = sites.Site{
		PublicID:  uuid.NewString(),
		UserID:    userID,
		Name:      domain,
		Domain:    domain,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&site).Error)
	return &site
}

// SessionSeed configures CreateTestSession.
type SessionSeed struct {
	VisitorID    string
	StartedAt    time.Time
	LastActivity time.Time
	PageViews    int
	IsBounce     bool
	Device       string
	Browser      string
	OS           string
	ReferrerType string
	Referrer     string
}

// CreateTestSession inserts a session row with sane defaults for anything
// the seed leaves zero.
func CreateTestSession(t *testing.T, db *gorm.DB, siteID uint, seed SessionSeed) *ingest.Session {
	t.Helper()

	if seed.VisitorID == "" {
		seed.VisitorID = uuid.NewString()
	}
	if seed.StartedAt.IsZero() {
		seed.StartedAt = time.Now().UTC().Add(-10 * time.Minute)
	}
	if seed.LastActivity.IsZero() {
		seed.LastActivity = seed.StartedAt
	}
	if seed.Device == "" {
		seed.Device = "desktop"
	}
	if seed.Browser == "" {
		seed.Browser = "Chrome"
	}
	if seed.OS == "" {
		seed.OS = "Windows"
	}
	if seed.ReferrerType == "" {
		seed.ReferrerType = "direct"
	}

	session := &ingest.Session{
		SiteID:        siteID,
		PublicID:      uuid.NewString(),
		VisitorID:     seed.VisitorID,
		StartedAt:     seed.StartedAt,
		LastActivity:  seed.LastActivity,
		DurationMs:    seed.LastActivity.Sub(seed.StartedAt).Milliseconds(),
		PageViewCount: seed.PageViews,
		IsBounce:      seed.IsBounce,
		Device:        seed.Device,
		Browser:       seed.Browser,
		OS:            seed.OS,
		Referrer:      seed.Referrer,
		ReferrerType:  seed.ReferrerType,
		CreatedAt:     seed.StartedAt,
		UpdatedAt:     seed.LastActivity,
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

// CreateTestPageView inserts a page view for a session.
func CreateTestPageView(t *testing.T, db *gorm.DB, siteID, sessionID uint, path string, at time.Time) *ingest.PageView {
	t.Helper()

	pageView := &ingest.PageView{
		SiteID:    siteID,
		SessionID: sessionID,
		Path:      path,
		CreatedAt: at,
	}
	require.NoError(t, db.Create(pageView).Error)
	return pageView
}

// CreateTestEvent inserts an event record for a session.
func CreateTestEvent(t *testing.T, db *gorm.DB, siteID, sessionID uint, name string, at time.Time) *ingest.EventRecord {
	t.Helper()

	record := &ingest.EventRecord{
		SiteID:     siteID,
		SessionID:  sessionID,
		Name:       name,
		Properties: "{}",
		CreatedAt:  at,
	}
	require.NoError(t, db.Create(record).Error)
	return record
}

// CreateTestPerformanceSample inserts a performance sample.
func CreateTestPerformanceSample(t *testing.T, db *gorm.DB, siteID uint, path string, loadTime, ttfb, fcp float64, at time.Time) *ingest.PerformanceSample {
	t.Helper()

	sample := &ingest.PerformanceSample{
		SiteID:     siteID,
		Path:       path,
		LoadTimeMs: &loadTime,
		TTFBMs:     &ttfb,
		FCPMs:      &fcp,
		CreatedAt:  at,
	}
	require.NoError(t, db.Create(sample).Error)
	return sample
}

// CreateMinimalTestApp creates a test Fiber app with all routes mounted.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	// Match production: block server-to-server requests without the
	// Sec-Fetch-Site header browsers always send.
	cfg.EnableSecFetchSite = true
	cfg.SecFetchSiteAllowedValues = []string{"cross-site", "same-site", "same-origin"}

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}

// LoginTestUser logs a user in through the JSON API and returns the session
// cookie header value.
func LoginTestUser(t *testing.T, app *fiber.App, email, password string) string {
	t.Helper()

	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 Test Browser")
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookieName {
			return fmt.Sprintf("%s=%s", cookie.Name, cookie.Value)
		}
	}
	t.Fatalf("no session cookie set for %s", email)
	return ""
}

// CollectPayload runs a wire payload through the ingestion write path.
func CollectPayload(t *testing.T, dbManager cartridge.DBManager, logger *slog.Logger, payloadType string, data map[string]any) error {
	t.Helper()

	body, err := json.Marshal(map[string]any{"type": payloadType, "data": data})
	require.NoError(t, err)

	_, err = ingest.Collect(dbManager, logger, &ingest.CollectInput{
		Body:      body,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		IPAddress: "203.0.113.10",
	})
	return err
}
