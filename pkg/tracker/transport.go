package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Beacon delivers one envelope to the collector. Implementations must be
// safe for concurrent use.
type Beacon interface {
	Send(envelope Envelope) error
}

// HTTPBeacon posts envelopes to the collection endpoint. The collector
// answers 202 for everything it accepts, including payloads it then drops,
// so any 2xx counts as delivered.
type HTTPBeacon struct {
	endpoint string
	origin   string
	client   *http.Client
	timeout  time.Duration
}

// NewHTTPBeacon creates a beacon for the given collector base URL, e.g.
// "https://analytics.example.com". The origin is sent as the Origin header
// and must match a registered site domain.
func NewHTTPBeacon(baseURL, origin string, client *http.Client) *HTTPBeacon {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPBeacon{
		endpoint: baseURL + "/x/api/v1/collect/beacon",
		origin:   origin,
		client:   client,
		timeout:  10 * time.Second,
	}
}

func (b *HTTPBeacon) Send(envelope Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("tracker: failed to encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", b.origin)
	req.Header.Set("Sec-Fetch-Site", "cross-site")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tracker: collector answered %d", resp.StatusCode)
	}
	return nil
}
