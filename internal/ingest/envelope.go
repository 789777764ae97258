package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PayloadType is the closed set of wire payload kinds the collector accepts.
// Dispatch on it is exhaustive: adding a kind means touching the switch in
// Collect, not falling through a default branch.
type PayloadType int

const (
	PayloadTypeSession PayloadType = iota + 1
	PayloadTypePageView
	PayloadTypeEvent
	PayloadTypePerformance
	PayloadTypeEnd
)

// ErrUnknownPayloadType wraps the rejected type tag so the handler can count
// the drop without parsing error strings.
type UnknownPayloadTypeError struct {
	Tag string
}

func (e *UnknownPayloadTypeError) Error() string {
	return fmt.Sprintf("unknown payload type: %q", e.Tag)
}

// ParsePayloadType maps a wire type tag onto the closed enum.
func ParsePayloadType(tag string) (PayloadType, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "session":
		return PayloadTypeSession, nil
	case "pageview":
		return PayloadTypePageView, nil
	case "event":
		return PayloadTypeEvent, nil
	case "performance":
		return PayloadTypePerformance, nil
	case "end":
		return PayloadTypeEnd, nil
	default:
		return 0, &UnknownPayloadTypeError{Tag: tag}
	}
}

func (t PayloadType) String() string {
	switch t {
	case PayloadTypeSession:
		return "session"
	case PayloadTypePageView:
		return "pageview"
	case PayloadTypeEvent:
		return "event"
	case PayloadTypePerformance:
		return "performance"
	case PayloadTypeEnd:
		return "end"
	}
	return "unknown"
}

// Envelope is the outer wire shape: { "type": ..., "data": {...} }. Data is
// decoded a second time into the payload struct matching the type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// BasePayload carries the fields every payload kind shares.
type BasePayload struct {
	SiteID    string `json:"siteId"`
	SessionID string `json:"sessionId"`
}

// SessionPayload starts (or continues) a session. The classifier outputs are
// computed client-side; the collector re-derives them from the User-Agent
// header when they are missing.
type SessionPayload struct {
	BasePayload
	VisitorID    string `json:"visitorId"`
	Device       string `json:"device"`
	Browser      string `json:"browser"`
	OS           string `json:"os"`
	Referrer     string `json:"referrer"`
	ReferrerType string `json:"referrerType"`
	Hostname     string `json:"hostname"`
}

// PageViewPayload records one navigation.
type PageViewPayload struct {
	BasePayload
	Path        string `json:"path"`
	Title       string `json:"title"`
	Referrer    string `json:"referrer"`
	UTMSource   string `json:"utmSource"`
	UTMMedium   string `json:"utmMedium"`
	UTMCampaign string `json:"utmCampaign"`
}

// EventPayload records a named interaction with free-form properties.
type EventPayload struct {
	BasePayload
	Name       string          `json:"name"`
	Properties json.RawMessage `json:"properties"`
}

// PerformancePayload carries page timing metrics. All metrics are nullable;
// LCP in particular may be absent when its observer timed out client-side.
type PerformancePayload struct {
	BasePayload
	Path       string   `json:"path"`
	LoadTimeMs *float64 `json:"loadTime"`
	TTFBMs     *float64 `json:"ttfb"`
	FCPMs      *float64 `json:"fcp"`
	LCPMs      *float64 `json:"lcp"`
}

// EndPayload closes a session, carrying the deepest scroll milestone reached.
type EndPayload struct {
	BasePayload
	MaxScrollDepth *int `json:"maxScrollDepth"`
}

// DecodeEnvelope parses the outer wire shape and validates the type tag.
func DecodeEnvelope(body []byte) (*Envelope, PayloadType, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, fmt.Errorf("malformed envelope: %w", err)
	}
	payloadType, err := ParsePayloadType(env.Type)
	if err != nil {
		return nil, 0, err
	}
	if len(env.Data) == 0 {
		return nil, 0, fmt.Errorf("envelope has no data")
	}
	return &env, payloadType, nil
}
