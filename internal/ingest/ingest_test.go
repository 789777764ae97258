package ingest_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cherrycap/internal/ingest"
	"cherrycap/internal/testsupport"
)

func TestParsePayloadType(t *testing.T) {
	tests := []struct {
		tag  string
		want ingest.PayloadType
	}{
		{"session", ingest.PayloadTypeSession},
		{"pageview", ingest.PayloadTypePageView},
		{"event", ingest.PayloadTypeEvent},
		{"performance", ingest.PayloadTypePerformance},
		{"end", ingest.PayloadTypeEnd},
		{" Session ", ingest.PayloadTypeSession},
	}
	for _, tt := range tests {
		got, err := ingest.ParsePayloadType(tt.tag)
		require.NoError(t, err, tt.tag)
		assert.Equal(t, tt.want, got)
	}

	t.Run("unknown tag is a typed error", func(t *testing.T) {
		_, err := ingest.ParsePayloadType("telemetry")
		require.Error(t, err)
		var typeErr *ingest.UnknownPayloadTypeError
		require.ErrorAs(t, err, &typeErr)
		assert.Equal(t, "telemetry", typeErr.Tag)
	})
}

func TestCollectSession(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password")
	site := testsupport.CreateTestSite(t, db, user.ID, "shop.example.com")

	t.Run("creates a session row", func(t *testing.T) {
		sessionID := uuid.NewString()
		err := testsupport.CollectPayload(t, dbManager, logger, "session", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": sessionID,
			"visitorId": "visitor-1",
			"referrer":  "https://www.google.com/search?q=x",
			"hostname":  "shop.example.com",
		})
		require.NoError(t, err)

		var session ingest.Session
		require.NoError(t, db.Where("public_id = ?", sessionID).First(&session).Error)
		assert.Equal(t, site.ID, session.SiteID)
		assert.Equal(t, "visitor-1", session.VisitorID)
		assert.Equal(t, "organic", session.ReferrerType)
		assert.Equal(t, "desktop", session.Device)
		assert.Equal(t, "Chrome", session.Browser)
		assert.False(t, session.LastActivity.Before(session.StartedAt))
	})

	t.Run("duplicate session payload touches instead of erroring", func(t *testing.T) {
		sessionID := uuid.NewString()
		payload := map[string]any{
			"siteId":    site.PublicID,
			"sessionId": sessionID,
			"visitorId": "visitor-2",
		}
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "session", payload))
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "session", payload))

		var count int64
		db.Model(&ingest.Session{}).Where("public_id = ?", sessionID).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("internal referrer suppresses session creation", func(t *testing.T) {
		sessionID := uuid.NewString()
		err := testsupport.CollectPayload(t, dbManager, logger, "session", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": sessionID,
			"visitorId": "visitor-3",
			"referrer":  "https://shop.example.com/other",
			"hostname":  "shop.example.com",
		})
		require.NoError(t, err)

		var count int64
		db.Model(&ingest.Session{}).Where("public_id = ?", sessionID).Count(&count)
		assert.Equal(t, int64(0), count)
	})

	t.Run("unknown site is an error", func(t *testing.T) {
		err := testsupport.CollectPayload(t, dbManager, logger, "session", map[string]any{
			"siteId":    uuid.NewString(),
			"sessionId": uuid.NewString(),
			"visitorId": "visitor-4",
		})
		assert.Error(t, err)
	})

	t.Run("missing visitorId is an error", func(t *testing.T) {
		err := testsupport.CollectPayload(t, dbManager, logger, "session", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": uuid.NewString(),
		})
		assert.Error(t, err)
	})
}

func TestCollectPageViewBounceBoundary(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password")
	site := testsupport.CreateTestSite(t, db, user.ID, "shop.example.com")

	startSession := func(t *testing.T) string {
		sessionID := uuid.NewString()
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "session", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": sessionID,
			"visitorId": uuid.NewString(),
		}))
		return sessionID
	}

	pageView := func(t *testing.T, sessionID, path string) {
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "pageview", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": sessionID,
			"path":      path,
		}))
	}

	getSession := func(t *testing.T, sessionID string) ingest.Session {
		var session ingest.Session
		require.NoError(t, db.Where("public_id = ?", sessionID).First(&session).Error)
		return session
	}

	t.Run("one page view and nothing else is a bounce", func(t *testing.T) {
		sessionID := startSession(t)
		pageView(t, sessionID, "/landing")

		session := getSession(t, sessionID)
		assert.Equal(t, 1, session.PageViewCount)
		assert.True(t, session.IsBounce)
	})

	t.Run("second page view clears the bounce", func(t *testing.T) {
		sessionID := startSession(t)
		pageView(t, sessionID, "/landing")
		pageView(t, sessionID, "/product")

		session := getSession(t, sessionID)
		assert.Equal(t, 2, session.PageViewCount)
		assert.False(t, session.IsBounce)
	})

	t.Run("an event after a single page view clears the bounce", func(t *testing.T) {
		sessionID := startSession(t)
		pageView(t, sessionID, "/landing")
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "event", map[string]any{
			"siteId":     site.PublicID,
			"sessionId":  sessionID,
			"name":       "cta_click",
			"properties": map[string]any{"button": "signup"},
		}))

		session := getSession(t, sessionID)
		assert.Equal(t, 1, session.PageViewCount)
		assert.False(t, session.IsBounce)
	})

	t.Run("page view before its session payload creates an implicit session", func(t *testing.T) {
		sessionID := uuid.NewString()
		pageView(t, sessionID, "/landing")

		session := getSession(t, sessionID)
		assert.Equal(t, 1, session.PageViewCount)
		assert.True(t, session.IsBounce)
	})

	t.Run("event delivered before the first page view still clears the bounce", func(t *testing.T) {
		sessionID := startSession(t)
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "event", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": sessionID,
			"name":      "cta_click",
		}))
		pageView(t, sessionID, "/landing")

		session := getSession(t, sessionID)
		assert.Equal(t, 1, session.PageViewCount)
		assert.False(t, session.IsBounce)
	})
}

func TestCollectPageViewUTMDerivation(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password")
	site := testsupport.CreateTestSite(t, db, user.ID, "shop.example.com")

	t.Run("campaign fields come out of the path's query string", func(t *testing.T) {
		sessionID := uuid.NewString()
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "pageview", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": sessionID,
			"path":      "/landing?utm_source=newsletter&utm_medium=email&utm_campaign=spring",
		}))

		var pv ingest.PageView
		require.NoError(t, db.Where("session_id = (SELECT id FROM sessions WHERE public_id = ?)", sessionID).First(&pv).Error)
		assert.Equal(t, "/landing", pv.Path, "query string is stripped from the stored path")
		assert.Equal(t, "newsletter", pv.UTMSource)
		assert.Equal(t, "email", pv.UTMMedium)
		assert.Equal(t, "spring", pv.UTMCampaign)
	})

	t.Run("explicit payload fields win over the query string", func(t *testing.T) {
		sessionID := uuid.NewString()
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "pageview", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": sessionID,
			"path":      "/landing?utm_source=other",
			"utmSource": "newsletter",
		}))

		var pv ingest.PageView
		require.NoError(t, db.Where("session_id = (SELECT id FROM sessions WHERE public_id = ?)", sessionID).First(&pv).Error)
		assert.Equal(t, "newsletter", pv.UTMSource)
	})
}

func TestCollectEvent(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password")
	site := testsupport.CreateTestSite(t, db, user.ID, "shop.example.com")

	sessionID := uuid.NewString()
	require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "session", map[string]any{
		"siteId":    site.PublicID,
		"sessionId": sessionID,
		"visitorId": "visitor-1",
	}))

	t.Run("stores name and raw properties", func(t *testing.T) {
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "event", map[string]any{
			"siteId":     site.PublicID,
			"sessionId":  sessionID,
			"name":       "video_play",
			"properties": map[string]any{"src": "/intro.mp4", "position": 12},
		}))

		var record ingest.EventRecord
		require.NoError(t, db.Where("name = ?", "video_play").First(&record).Error)
		assert.Equal(t, site.ID, record.SiteID)
		assert.Contains(t, record.Properties, "intro.mp4")
	})

	t.Run("missing name is an error", func(t *testing.T) {
		err := testsupport.CollectPayload(t, dbManager, logger, "event", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": sessionID,
		})
		assert.Error(t, err)
	})
}

func TestCollectPerformance(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password")
	site := testsupport.CreateTestSite(t, db, user.ID, "shop.example.com")

	t.Run("stores a sample with all metrics", func(t *testing.T) {
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "performance", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": uuid.NewString(),
			"path":      "/landing",
			"loadTime":  812.0,
			"ttfb":      120.5,
			"fcp":       430.0,
			"lcp":       900.0,
		}))

		var sample ingest.PerformanceSample
		require.NoError(t, db.Where("path = ?", "/landing").First(&sample).Error)
		require.NotNil(t, sample.LCPMs)
		assert.InDelta(t, 900.0, *sample.LCPMs, 0.01)
	})

	t.Run("lcp may be absent", func(t *testing.T) {
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "performance", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": uuid.NewString(),
			"path":      "/no-lcp",
			"loadTime":  500.0,
			"ttfb":      100.0,
			"fcp":       300.0,
		}))

		var sample ingest.PerformanceSample
		require.NoError(t, db.Where("path = ?", "/no-lcp").First(&sample).Error)
		assert.Nil(t, sample.LCPMs)
		require.NotNil(t, sample.LoadTimeMs)
		assert.InDelta(t, 500.0, *sample.LoadTimeMs, 0.01)
	})
}

func TestCollectEnd(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password")
	site := testsupport.CreateTestSite(t, db, user.ID, "shop.example.com")

	t.Run("finalizes the session and records scroll depth", func(t *testing.T) {
		sessionID := uuid.NewString()
		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "session", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": sessionID,
			"visitorId": "visitor-1",
		}))

		require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "end", map[string]any{
			"siteId":         site.PublicID,
			"sessionId":      sessionID,
			"maxScrollDepth": 75,
		}))

		var record ingest.EventRecord
		require.NoError(t, db.Where("name = ?", ingest.SessionEndEventName).First(&record).Error)
		assert.Contains(t, record.Properties, "75")

		var session ingest.Session
		require.NoError(t, db.Where("public_id = ?", sessionID).First(&session).Error)
		assert.GreaterOrEqual(t, session.DurationMs, int64(0))
	})

	t.Run("end for unknown session is ignored", func(t *testing.T) {
		err := testsupport.CollectPayload(t, dbManager, logger, "end", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": uuid.NewString(),
		})
		assert.NoError(t, err)
	})
}

func TestCollectRejectsGarbage(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)

	t.Run("malformed body", func(t *testing.T) {
		_, err := ingest.Collect(dbManager, logger, &ingest.CollectInput{Body: []byte("{not json")})
		assert.Error(t, err)
	})

	t.Run("unknown type tag", func(t *testing.T) {
		_, err := ingest.Collect(dbManager, logger, &ingest.CollectInput{
			Body: []byte(`{"type":"telemetry","data":{"siteId":"x"}}`),
		})
		var typeErr *ingest.UnknownPayloadTypeError
		assert.ErrorAs(t, err, &typeErr)
	})

	t.Run("missing siteId", func(t *testing.T) {
		_, err := ingest.Collect(dbManager, logger, &ingest.CollectInput{
			Body: []byte(`{"type":"pageview","data":{"sessionId":"s1"}}`),
		})
		assert.Error(t, err)
	})
}

func TestInactiveSiteIsDropped(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password")
	site := testsupport.CreateTestSite(t, db, user.ID, "shop.example.com")
	require.NoError(t, db.Model(site).Update("is_active", false).Error)

	err := testsupport.CollectPayload(t, dbManager, logger, "session", map[string]any{
		"siteId":    site.PublicID,
		"sessionId": uuid.NewString(),
		"visitorId": "visitor-1",
	})
	assert.ErrorIs(t, err, ingest.ErrInactiveSite)

	var count int64
	db.Model(&ingest.Session{}).Where("site_id = ?", site.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestSessionLastActivityNeverPrecedesStart(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	user := testsupport.CreateTestUser(t, db, "owner@example.com", "password")
	site := testsupport.CreateTestSite(t, db, user.ID, "shop.example.com")

	sessionID := uuid.NewString()
	require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "session", map[string]any{
		"siteId":    site.PublicID,
		"sessionId": sessionID,
		"visitorId": "visitor-1",
	}))

	// Force a future start to simulate clock skew, then deliver another payload.
	future := time.Now().UTC().Add(1 * time.Hour)
	require.NoError(t, db.Model(&ingest.Session{}).Where("public_id = ?", sessionID).
		Updates(map[string]any{"started_at": future, "last_activity": future}).Error)

	require.NoError(t, testsupport.CollectPayload(t, dbManager, logger, "pageview", map[string]any{
		"siteId":    site.PublicID,
		"sessionId": sessionID,
		"path":      "/late",
	}))

	var session ingest.Session
	require.NoError(t, db.Where("public_id = ?", sessionID).First(&session).Error)
	assert.False(t, session.LastActivity.Before(session.StartedAt))
	assert.GreaterOrEqual(t, session.DurationMs, int64(0))
}
