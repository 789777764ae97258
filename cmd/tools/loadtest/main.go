// main.go - Load testing tool for the collection endpoint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	vegeta "github.com/tsenart/vegeta/v12/lib"
)

var paths = []string{"/", "/pricing", "/docs", "/blog", "/about", "/signup"}

type envelope struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the collector")
	origin := flag.String("origin", "https://example.com", "Origin header, must match a registered site")
	siteID := flag.String("site", "", "Public site id to attribute payloads to")
	rate := flag.Int("rate", 50, "Requests per second")
	duration := flag.Duration("d", 30*time.Second, "Test duration")
	flag.Parse()

	if *siteID == "" {
		log.Fatal("missing -site: pass the public id of a registered site")
	}

	endpoint := *baseURL + "/x/api/v1/collect"
	header := http.Header{
		"Content-Type":   []string{"application/json"},
		"Origin":         []string{*origin},
		"Sec-Fetch-Site": []string{"cross-site"},
		"User-Agent":     []string{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0"},
	}

	// Every iteration plays a short visit: session, a couple of page views,
	// sometimes an event, then the end beacon.
	targeter := func(tgt *vegeta.Target) error {
		sessionID := uuid.NewString()
		payload := randomPayload(*siteID, sessionID)
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		tgt.Method = http.MethodPost
		tgt.URL = endpoint
		tgt.Body = body
		tgt.Header = header
		return nil
	}

	attacker := vegeta.NewAttacker()
	pacer := vegeta.Rate{Freq: *rate, Per: time.Second}

	var metrics vegeta.Metrics
	for res := range attacker.Attack(targeter, pacer, *duration, "collect") {
		metrics.Add(res)
	}
	metrics.Close()

	fmt.Printf("Requests:    %d\n", metrics.Requests)
	fmt.Printf("Success:     %.2f%%\n", metrics.Success*100)
	fmt.Printf("Mean:        %s\n", metrics.Latencies.Mean)
	fmt.Printf("P95:         %s\n", metrics.Latencies.P95)
	fmt.Printf("P99:         %s\n", metrics.Latencies.P99)
	fmt.Printf("Max:         %s\n", metrics.Latencies.Max)
	fmt.Printf("Status codes: %v\n", metrics.StatusCodes)
	if len(metrics.Errors) > 0 {
		fmt.Printf("Errors:      %v\n", metrics.Errors)
	}
}

func randomPayload(siteID, sessionID string) envelope {
	base := map[string]any{
		"siteId":    siteID,
		"sessionId": sessionID,
	}

	switch rand.Intn(5) {
	case 0:
		data := cloneWith(base, map[string]any{
			"visitorId": uuid.NewString(),
			"device":    "desktop",
			"referrer":  "https://www.google.com/",
		})
		return envelope{Type: "session", Data: data}
	case 1, 2:
		data := cloneWith(base, map[string]any{
			"path":  paths[rand.Intn(len(paths))],
			"title": "Load Test",
		})
		return envelope{Type: "pageview", Data: data}
	case 3:
		data := cloneWith(base, map[string]any{
			"name":       "cta_click",
			"properties": map[string]any{"variant": rand.Intn(3)},
		})
		return envelope{Type: "event", Data: data}
	default:
		data := cloneWith(base, map[string]any{
			"maxScrollDepth": []int{25, 50, 75, 90, 100}[rand.Intn(5)],
		})
		return envelope{Type: "end", Data: data}
	}
}

func cloneWith(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
