package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cherrycap/internal/settings"
	"cherrycap/internal/testsupport"
)

func jsonRequest(t *testing.T, method, path, cookie string, payload any) *http.Request {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 Test Browser")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestLoginAndLogout(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CreateTestUser(t, db, "owner@example.com", "correct-horse-9")
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("rejects wrong password", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", "/login", "", map[string]string{
			"email":    "owner@example.com",
			"password": "wrong",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects unknown email with the same error", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", "/login", "", map[string]string{
			"email":    "nobody@example.com",
			"password": "whatever",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "Invalid email or password", body["error"])
	})

	t.Run("sets a session cookie on success", func(t *testing.T) {
		cookie := testsupport.LoginTestUser(t, app, "owner@example.com", "correct-horse-9")
		assert.NotEmpty(t, cookie)

		resp, err := app.Test(jsonRequest(t, "POST", "/logout", cookie, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestSitesCRUD(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CreateTestUser(t, db, "crud@example.com", "correct-horse-9")
	app := testsupport.CreateMinimalTestApp(t, db)
	cookie := testsupport.LoginTestUser(t, app, "crud@example.com", "correct-horse-9")

	t.Run("requires authentication", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/sites", "", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	var publicID string

	t.Run("creates a site", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", "/admin/api/sites", cookie, map[string]string{
			"name":   "Shop",
			"domain": "https://Shop.Example.org/checkout",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		body := decodeBody(t, resp)
		publicID = body["id"].(string)
		assert.NotEmpty(t, publicID)
		assert.Equal(t, "shop.example.org", body["domain"])
	})

	t.Run("lists owned sites", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/sites", cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		sites := body["sites"].([]any)
		require.Len(t, sites, 1)
	})

	t.Run("updates a site", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", "/admin/api/sites/"+publicID, cookie, map[string]any{
			"name":     "Shop Renamed",
			"isActive": false,
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "Shop Renamed", body["name"])
		assert.Equal(t, false, body["isActive"])
	})

	t.Run("hides other owners' sites", func(t *testing.T) {
		testsupport.CreateTestUser(t, db, "other@example.com", "correct-horse-9")
		otherCookie := testsupport.LoginTestUser(t, app, "other@example.com", "correct-horse-9")

		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/sites/"+publicID, otherCookie, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("deletes a site", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "DELETE", "/admin/api/sites/"+publicID, cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = app.Test(jsonRequest(t, "GET", "/admin/api/sites/"+publicID, cookie, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAnalyticsEndpoints(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	user := testsupport.CreateTestUser(t, db, "stats@example.com", "correct-horse-9")
	site := testsupport.CreateTestSite(t, db, user.ID, "stats.example.com")
	app := testsupport.CreateMinimalTestApp(t, db)
	cookie := testsupport.LoginTestUser(t, app, "stats@example.com", "correct-horse-9")

	now := time.Now().UTC()
	sess := testsupport.CreateTestSession(t, db, site.ID, testsupport.SessionSeed{
		StartedAt:    now.Add(-30 * time.Minute),
		LastActivity: now.Add(-2 * time.Minute),
		PageViews:    2,
	})
	testsupport.CreateTestPageView(t, db, site.ID, sess.ID, "/", now.Add(-30*time.Minute))
	testsupport.CreateTestPageView(t, db, site.ID, sess.ID, "/pricing", now.Add(-20*time.Minute))

	t.Run("overview", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/sites/"+site.PublicID+"/overview?days=7", cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, float64(1), body["sessions"])
		assert.Equal(t, float64(2), body["page_views"])
	})

	t.Run("traffic series has one entry per day", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/sites/"+site.PublicID+"/traffic?days=7", cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		points := body["traffic"].([]any)
		assert.Len(t, points, 7)
	})

	t.Run("referrers list is present even when empty", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/sites/"+site.PublicID+"/referrers?days=7", cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		referrers := body["referrers"].([]any)
		assert.Empty(t, referrers)
	})

	t.Run("active visitors", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/sites/"+site.PublicID+"/active", cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, float64(1), body["active"])
	})

	t.Run("summary covers the site", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/summary?site="+site.PublicID, cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		sites := body["sites"].([]any)
		require.Len(t, sites, 1)
	})

	t.Run("unknown site is a 404", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/sites/nope/overview", cookie, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unauthenticated is a 401", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/sites/"+site.PublicID+"/overview", "", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestAnnotationEndpoints(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	user := testsupport.CreateTestUser(t, db, "marks@example.com", "correct-horse-9")
	site := testsupport.CreateTestSite(t, db, user.ID, "marks.example.com")
	app := testsupport.CreateMinimalTestApp(t, db)
	cookie := testsupport.LoginTestUser(t, app, "marks@example.com", "correct-horse-9")

	base := "/admin/api/sites/" + site.PublicID + "/annotations"
	var createdID float64

	t.Run("create pins a marker", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", base, cookie, map[string]string{
			"title": "v2 deploy",
			"type":  "deployment",
			"date":  "2026-02-10",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "v2 deploy", body["title"])
		assert.Equal(t, "deployment", body["annotation_type"])
		createdID = body["id"].(float64)
	})

	t.Run("create without a title is a 400", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", base, cookie, map[string]string{
			"date": "2026-02-10",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("list returns the marker", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", base, cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		listed := body["annotations"].([]any)
		require.Len(t, listed, 1)
	})

	t.Run("update renames the marker", func(t *testing.T) {
		path := fmt.Sprintf("%s/%.0f", base, createdID)
		resp, err := app.Test(jsonRequest(t, "POST", path, cookie, map[string]string{
			"title": "v2.1 deploy",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "v2.1 deploy", body["title"])
	})

	t.Run("delete removes it", func(t *testing.T) {
		path := fmt.Sprintf("%s/%.0f", base, createdID)
		resp, err := app.Test(jsonRequest(t, "DELETE", path, cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = app.Test(jsonRequest(t, "DELETE", path, cookie, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown site is a 404", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/sites/nope/annotations", cookie, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestSystemSettingsEndpoints(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CreateTestUser(t, db, "knobs@example.com", "correct-horse-9")
	require.NoError(t, settings.SetupDefaults(testsupport.GetLogger(), db))
	app := testsupport.CreateMinimalTestApp(t, db)
	cookie := testsupport.LoginTestUser(t, app, "knobs@example.com", "correct-horse-9")

	t.Run("lists the seeded settings", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/system/settings", cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		listed := body["settings"].([]any)
		assert.GreaterOrEqual(t, len(listed), 2)
	})

	t.Run("updates a known key", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", "/admin/api/system/settings", cookie, map[string]string{
			"key":   settings.KeyRetentionDays,
			"value": "90",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		value, err := settings.Get(db, settings.KeyRetentionDays)
		require.NoError(t, err)
		assert.Equal(t, "90", value)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", "/admin/api/system/settings", cookie, map[string]string{
			"key":   "private_key",
			"value": "oops",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAgentEndpoints(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	user := testsupport.CreateTestUser(t, db, "agent@example.com", "correct-horse-9")
	site := testsupport.CreateTestSite(t, db, user.ID, "agent.example.com")
	testsupport.CreateTestSession(t, db, site.ID, testsupport.SessionSeed{PageViews: 1})
	app := testsupport.CreateMinimalTestApp(t, db)
	cookie := testsupport.LoginTestUser(t, app, "agent@example.com", "correct-horse-9")

	t.Run("schema describes the analytics tables", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/agent/schema", cookie, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Contains(t, body["schema"], "sessions")
	})

	t.Run("runs a SELECT", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", "/admin/api/agent/sql", cookie, map[string]string{
			"sql": "SELECT COUNT(*) AS sessions FROM sessions",
		}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, float64(1), body["row_count"])
	})

	t.Run("rejects writes", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", "/admin/api/agent/sql", cookie, map[string]string{
			"sql": "DELETE FROM sessions",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("requires authentication", func(t *testing.T) {
		resp, err := app.Test(jsonRequest(t, "POST", "/admin/api/agent/sql", "", map[string]string{
			"sql": "SELECT 1",
		}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestSystemHealth(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CreateTestUser(t, db, "sys@example.com", "correct-horse-9")
	app := testsupport.CreateMinimalTestApp(t, db)
	cookie := testsupport.LoginTestUser(t, app, "sys@example.com", "correct-horse-9")

	resp, err := app.Test(jsonRequest(t, "GET", "/admin/api/system/health", cookie, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["healthy"])
	_, hasDrops := body["drops"]
	assert.True(t, hasDrops)
}

func TestPublicHealthEndpoint(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest("GET", "/_health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db_status"])
}
