package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"github.com/pariz/gountries"
	"gorm.io/gorm"

	"cherrycap/internal/classify"
	"cherrycap/internal/config"
	"cherrycap/internal/pkg/geoip"
	"cherrycap/internal/sites"
	"cherrycap/internal/visitors"
)

// ErrInactiveSite is returned when a payload references a site whose tracking
// has been switched off. The collector drops these silently.
var ErrInactiveSite = errors.New("site is not active")

// SessionEndEventName is the reserved event name written when an end payload
// carries a scroll depth.
const SessionEndEventName = "session_end"

var countryQuery = gountries.New()

// CollectInput is everything the HTTP layer hands to the write path.
type CollectInput struct {
	Body      []byte
	UserAgent string
	IPAddress string
}

// Collect decodes one wire payload and applies it to storage in a single
// write transaction. It returns the decoded payload type so the handler can
// log and count per kind. Duplicate deliveries are tolerated: replaying a
// session payload touches the existing row instead of erroring.
func Collect(dbManager cartridge.DBManager, logger *slog.Logger, input *CollectInput) (PayloadType, error) {
	env, payloadType, err := DecodeEnvelope(input.Body)
	if err != nil {
		return 0, err
	}

	var base BasePayload
	if err := json.Unmarshal(env.Data, &base); err != nil {
		return payloadType, fmt.Errorf("malformed payload data: %w", err)
	}
	if base.SiteID == "" {
		return payloadType, errors.New("payload has no siteId")
	}

	db := dbManager.GetConnection()
	site, err := sites.GetSiteByPublicID(db, base.SiteID)
	if err != nil {
		return payloadType, err
	}
	if !site.IsActive {
		return payloadType, ErrInactiveSite
	}

	now := time.Now().UTC()

	switch payloadType {
	case PayloadTypeSession:
		var payload SessionPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return payloadType, fmt.Errorf("malformed session payload: %w", err)
		}
		return payloadType, collectSession(logger, db, site, &payload, input, now)
	case PayloadTypePageView:
		var payload PageViewPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return payloadType, fmt.Errorf("malformed pageview payload: %w", err)
		}
		return payloadType, collectPageView(logger, db, site, &payload, input, now)
	case PayloadTypeEvent:
		var payload EventPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return payloadType, fmt.Errorf("malformed event payload: %w", err)
		}
		return payloadType, collectEvent(logger, db, site, &payload, input, now)
	case PayloadTypePerformance:
		var payload PerformancePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return payloadType, fmt.Errorf("malformed performance payload: %w", err)
		}
		return payloadType, collectPerformance(logger, db, site, &payload, now)
	case PayloadTypeEnd:
		var payload EndPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return payloadType, fmt.Errorf("malformed end payload: %w", err)
		}
		return payloadType, collectEnd(logger, db, site, &payload, now)
	}

	// Unreachable: DecodeEnvelope rejects unknown tags.
	return payloadType, &UnknownPayloadTypeError{Tag: env.Type}
}

// collectSession starts a new session or continues an existing one. An
// internal referrer classification suppresses the session start: same-site
// navigation must not inflate session counts, so the payload only touches an
// already-known session and creates nothing.
func collectSession(logger *slog.Logger, db *gorm.DB, site *sites.Site, payload *SessionPayload, input *CollectInput, now time.Time) error {
	if payload.SessionID == "" || payload.VisitorID == "" {
		return errors.New("session payload missing sessionId or visitorId")
	}

	referrerType := payload.ReferrerType
	if !isValidReferrerType(referrerType) {
		hostname := payload.Hostname
		if hostname == "" {
			hostname = site.Domain
		}
		referrerType = string(classify.DetectReferrerType(payload.Referrer, hostname))
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		var existing Session
		err := tx.Where("public_id = ?", payload.SessionID).First(&existing).Error
		switch {
		case err == nil:
			return touchSession(tx, &existing, now)
		case errors.Is(err, gorm.ErrRecordNotFound):
			if referrerType == string(classify.ReferrerInternal) {
				return nil
			}
			session := newSessionFromPayload(site, payload, input, referrerType, now)
			return tx.Create(session).Error
		default:
			return fmt.Errorf("failed to look up session: %w", err)
		}
	})
}

func collectPageView(logger *slog.Logger, db *gorm.DB, site *sites.Site, payload *PageViewPayload, input *CollectInput, now time.Time) error {
	if payload.SessionID == "" {
		return errors.New("pageview payload missing sessionId")
	}
	path := payload.Path
	if path == "" {
		path = "/"
	}

	// Hosts that send the full location get their campaign fields derived
	// server-side; the query string never reaches storage so identical paths
	// aggregate together.
	utmSource, utmMedium, utmCampaign := payload.UTMSource, payload.UTMMedium, payload.UTMCampaign
	if utmSource == "" && utmMedium == "" && utmCampaign == "" {
		utm := classify.ExtractUTM(path)
		utmSource, utmMedium, utmCampaign = utm.Source, utm.Medium, utm.Campaign
	}
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
		if path == "" {
			path = "/"
		}
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		session, err := findOrCreateSession(tx, site, payload.SessionID, payload.Referrer, input, now)
		if err != nil {
			return err
		}

		pageView := &PageView{
			SiteID:      site.ID,
			SessionID:   session.ID,
			Path:        path,
			Title:       payload.Title,
			Referrer:    payload.Referrer,
			UTMSource:   utmSource,
			UTMMedium:   utmMedium,
			UTMCampaign: utmCampaign,
			CreatedAt:   now,
		}
		if err := tx.Create(pageView).Error; err != nil {
			return fmt.Errorf("failed to create page view: %w", err)
		}

		session.PageViewCount++
		// A bounce is exactly one page view with no further interaction. The
		// interaction may have been delivered out of order, before this first
		// page view, so the recorded events decide.
		if session.PageViewCount == 1 {
			interacted, err := hasInteractionEvents(tx, session.ID)
			if err != nil {
				return err
			}
			session.IsBounce = !interacted
		} else {
			session.IsBounce = false
		}
		return touchSession(tx, session, now)
	})
}

// hasInteractionEvents reports whether the session recorded any event other
// than the session-end marker.
func hasInteractionEvents(tx *gorm.DB, sessionID uint) (bool, error) {
	var count int64
	err := tx.Model(&EventRecord{}).
		Where("session_id = ? AND name != ?", sessionID, SessionEndEventName).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count session events: %w", err)
	}
	return count > 0, nil
}

func collectEvent(logger *slog.Logger, db *gorm.DB, site *sites.Site, payload *EventPayload, input *CollectInput, now time.Time) error {
	if payload.SessionID == "" {
		return errors.New("event payload missing sessionId")
	}
	if payload.Name == "" {
		return errors.New("event payload missing name")
	}

	properties := "{}"
	if len(payload.Properties) > 0 && json.Valid(payload.Properties) {
		properties = string(payload.Properties)
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		session, err := findOrCreateSession(tx, site, payload.SessionID, "", input, now)
		if err != nil {
			return err
		}

		record := &EventRecord{
			SiteID:     site.ID,
			SessionID:  session.ID,
			Name:       payload.Name,
			Properties: properties,
			CreatedAt:  now,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create event record: %w", err)
		}

		// Any interaction beyond the landing page view disqualifies a bounce.
		session.IsBounce = false
		return touchSession(tx, session, now)
	})
}

func collectPerformance(logger *slog.Logger, db *gorm.DB, site *sites.Site, payload *PerformancePayload, now time.Time) error {
	path := payload.Path
	if path == "" {
		path = "/"
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		sample := &PerformanceSample{
			SiteID:     site.ID,
			Path:       path,
			LoadTimeMs: payload.LoadTimeMs,
			TTFBMs:     payload.TTFBMs,
			FCPMs:      payload.FCPMs,
			LCPMs:      payload.LCPMs,
			CreatedAt:  now,
		}
		return tx.Create(sample).Error
	})
}

// collectEnd closes out a session. Unknown sessions are ignored: end payloads
// are best-effort beacons and can outlive their session row (e.g. after a
// retention sweep).
func collectEnd(logger *slog.Logger, db *gorm.DB, site *sites.Site, payload *EndPayload, now time.Time) error {
	if payload.SessionID == "" {
		return errors.New("end payload missing sessionId")
	}

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		var session Session
		err := tx.Where("public_id = ? AND site_id = ?", payload.SessionID, site.ID).First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up session: %w", err)
		}

		if payload.MaxScrollDepth != nil {
			properties, _ := json.Marshal(map[string]int{"maxScrollDepth": *payload.MaxScrollDepth})
			record := &EventRecord{
				SiteID:     site.ID,
				SessionID:  session.ID,
				Name:       SessionEndEventName,
				Properties: string(properties),
				CreatedAt:  now,
			}
			if err := tx.Create(record).Error; err != nil {
				return fmt.Errorf("failed to create end record: %w", err)
			}
		}

		return touchSession(tx, &session, now)
	})
}

// findOrCreateSession resolves a session row for a payload, creating a
// minimal one when out-of-order delivery brought a pageview or event before
// its session payload.
func findOrCreateSession(tx *gorm.DB, site *sites.Site, sessionPublicID, referrer string, input *CollectInput, now time.Time) (*Session, error) {
	var session Session
	err := tx.Where("public_id = ? AND site_id = ?", sessionPublicID, site.ID).First(&session).Error
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	implicit := newSessionFromPayload(site, &SessionPayload{
		BasePayload: BasePayload{SiteID: site.PublicID, SessionID: sessionPublicID},
		Referrer:    referrer,
	}, input, string(classify.DetectReferrerType(referrer, site.Domain)), now)
	if err := tx.Create(implicit).Error; err != nil {
		return nil, fmt.Errorf("failed to create implicit session: %w", err)
	}
	return implicit, nil
}

func newSessionFromPayload(site *sites.Site, payload *SessionPayload, input *CollectInput, referrerType string, now time.Time) *Session {
	device := payload.Device
	if !classify.IsValidDeviceType(device) {
		device = string(classify.DetectDevice(input.UserAgent))
	}
	browser := payload.Browser
	if browser == "" {
		browser = classify.DetectBrowser(input.UserAgent)
	}
	os := payload.OS
	if os == "" {
		os = classify.DetectOS(input.UserAgent)
	}

	visitorID := payload.VisitorID
	if visitorID == "" {
		// Implicit sessions carry no client identity; derive a daily-rotating
		// one so unique visitor counts stay meaningful.
		visitorID = visitors.BuildFallbackVisitorID(site.Domain, input.IPAddress, input.UserAgent, config.GetConfig().PrivateKey)
	}

	return &Session{
		SiteID:       site.ID,
		PublicID:     payload.SessionID,
		VisitorID:    visitorID,
		StartedAt:    now,
		LastActivity: now,
		IsBounce:     false,
		Device:       device,
		Browser:      browser,
		OS:           os,
		Referrer:     payload.Referrer,
		ReferrerType: referrerType,
		Country:      countryForIP(input.IPAddress),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// touchSession advances the mutable session fields. LastActivity never moves
// backwards, so duplicate or delayed payloads cannot shrink a session.
func touchSession(tx *gorm.DB, session *Session, now time.Time) error {
	if now.After(session.LastActivity) {
		session.LastActivity = now
	}
	if session.LastActivity.Before(session.StartedAt) {
		session.LastActivity = session.StartedAt
	}
	session.DurationMs = session.LastActivity.Sub(session.StartedAt).Milliseconds()
	session.UpdatedAt = now
	if err := tx.Save(session).Error; err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func isValidReferrerType(s string) bool {
	for _, t := range classify.ReferrerTypes() {
		if s == string(t) {
			return true
		}
	}
	return false
}

// countryForIP resolves an IP to a country name via the optional GeoLite2
// database, falling back to the raw ISO code when gountries cannot name it.
func countryForIP(ipAddress string) string {
	code := geoip.CountryCode(ipAddress)
	if code == "" {
		return ""
	}
	country, err := countryQuery.FindCountryByAlpha(code)
	if err != nil {
		return code
	}
	return country.Name.Common
}
