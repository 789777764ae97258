package v1_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "cherrycap/api/v1"
	"cherrycap/internal/ingest"
	"cherrycap/internal/testsupport"
)

func postCollect(t *testing.T, path, origin string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0")
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func envelope(t *testing.T, payloadType string, data map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{"type": payloadType, "data": data})
	require.NoError(t, err)
	return body
}

func TestCollectAPIHandler(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	user := testsupport.CreateTestUser(t, db, "collector@example.com", "password-123")
	site := testsupport.CreateTestSite(t, db, user.ID, "example.com")
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("accepts a pageview from a registered origin", func(t *testing.T) {
		body := envelope(t, "pageview", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": "11111111-1111-4111-8111-111111111111",
			"path":      "/pricing",
			"title":     "Pricing",
		})

		resp, err := app.Test(postCollect(t, "/x/api/v1/collect", "https://example.com", body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		respBody, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(respBody), "Payload accepted")

		var count int64
		db.Model(&ingest.PageView{}).Where("site_id = ?", site.ID).Count(&count)
		assert.GreaterOrEqual(t, count, int64(1))
	})

	t.Run("accepts subdomain origins of a registered domain", func(t *testing.T) {
		body := envelope(t, "pageview", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": "11111111-1111-4111-8111-111111111112",
			"path":      "/docs",
		})

		resp, err := app.Test(postCollect(t, "/x/api/v1/collect", "https://docs.example.com", body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("rejects unknown payload types", func(t *testing.T) {
		body := envelope(t, "telemetry", map[string]any{"siteId": site.PublicID})

		resp, err := app.Test(postCollect(t, "/x/api/v1/collect", "https://example.com", body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		respBody, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(respBody), "UNKNOWN_PAYLOAD_TYPE")
	})

	t.Run("rejects unregistered origins", func(t *testing.T) {
		body := envelope(t, "pageview", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": "11111111-1111-4111-8111-111111111113",
			"path":      "/",
		})

		resp, err := app.Test(postCollect(t, "/x/api/v1/collect", "https://evil.test", body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("rejects requests without origin or referer", func(t *testing.T) {
		body := envelope(t, "pageview", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": "11111111-1111-4111-8111-111111111114",
			"path":      "/",
		})

		resp, err := app.Test(postCollect(t, "/x/api/v1/collect", "", body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("rejects unknown site ids", func(t *testing.T) {
		body := envelope(t, "pageview", map[string]any{
			"siteId":    "99999999-9999-4999-8999-999999999999",
			"sessionId": "11111111-1111-4111-8111-111111111115",
			"path":      "/",
		})

		resp, err := app.Test(postCollect(t, "/x/api/v1/collect", "https://example.com", body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		respBody, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(respBody), "SITE_NOT_FOUND")
	})
}

func TestCollectBeaconHandler(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	user := testsupport.CreateTestUser(t, db, "beacon@example.com", "password-123")
	site := testsupport.CreateTestSite(t, db, user.ID, "beacon.example.com")
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("returns 202 for a valid end payload", func(t *testing.T) {
		sess := testsupport.CreateTestSession(t, db, site.ID, testsupport.SessionSeed{})
		body := envelope(t, "end", map[string]any{
			"siteId":         site.PublicID,
			"sessionId":      sess.PublicID,
			"maxScrollDepth": 75,
		})

		resp, err := app.Test(postCollect(t, "/x/api/v1/collect/beacon", "https://beacon.example.com", body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		var count int64
		db.Model(&ingest.EventRecord{}).
			Where("session_id = ? AND name = ?", sess.ID, ingest.SessionEndEventName).
			Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("returns 202 and counts the drop for garbage", func(t *testing.T) {
		v1.ResetDropCounts()

		resp, err := app.Test(postCollect(t, "/x/api/v1/collect/beacon", "https://beacon.example.com", []byte("not json at all")))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, int64(1), v1.DroppedTotal())
	})

	t.Run("returns 202 and counts the drop for bad origin", func(t *testing.T) {
		v1.ResetDropCounts()
		body := envelope(t, "pageview", map[string]any{
			"siteId":    site.PublicID,
			"sessionId": "11111111-1111-4111-8111-111111111116",
			"path":      "/",
		})

		resp, err := app.Test(postCollect(t, "/x/api/v1/collect/beacon", "https://stranger.test", body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		counts := v1.DropCounts()
		assert.Equal(t, int64(1), counts["origin"])
	})
}

func TestGetTrackerAction(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest("GET", "/x/api/v1/tracker.js", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	content := string(body)
	assert.Contains(t, content, "/x/api/v1/collect")
	assert.False(t, strings.Contains(content, "{{"), "template placeholders should be rendered")

	t.Run("carries the embed interface", func(t *testing.T) {
		assert.Contains(t, content, "data-site-id", "auto-init attribute")
		assert.Contains(t, content, "data-no-performance")
		assert.Contains(t, content, "data-no-elements")
		assert.Contains(t, content, "data-no-scroll")
		assert.Contains(t, content, "window.CherryCap", "manual init namespace")
		assert.Contains(t, content, "window.cherrycap = { push:", "command queue")
		assert.Contains(t, content, "data-cc-track", "element markers")
		assert.Contains(t, content, "gallery_item_click")
		assert.Contains(t, content, "form_submit")
		assert.Contains(t, content, "trackVideo")
		assert.Contains(t, content, "doNotTrack", "DNT respected")
	})

	t.Run("revalidates with If-None-Match", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/x/api/v1/tracker.js", nil)
		req.Header.Set("If-None-Match", etag)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotModified, resp.StatusCode)
	})
}
