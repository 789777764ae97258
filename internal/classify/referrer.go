package classify

import (
	"embed"
	"net/url"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ReferrerType is the closed set of traffic-origin categories.
type ReferrerType string

const (
	ReferrerDirect   ReferrerType = "direct"
	ReferrerOrganic  ReferrerType = "organic"
	ReferrerSocial   ReferrerType = "social"
	ReferrerReferral ReferrerType = "referral"
	ReferrerInternal ReferrerType = "internal"
	ReferrerEmail    ReferrerType = "email"
)

//go:embed rules.yml
var rulesFile embed.FS

type referrerRules struct {
	Search []string `yaml:"search"`
	Social []string `yaml:"social"`
	Email  []string `yaml:"email"`
}

var (
	rules     referrerRules
	rulesOnce sync.Once
)

func getRules() *referrerRules {
	rulesOnce.Do(func() {
		data, err := rulesFile.ReadFile("rules.yml")
		if err != nil {
			return
		}
		// A broken embedded file leaves the lists empty; classification then
		// degrades to direct/internal/referral only.
		_ = yaml.Unmarshal(data, &rules)
	})
	return &rules
}

// DetectReferrerType classifies where a visit came from.
//
// Empty referrers are direct traffic. Malformed referrer URLs are also
// treated as direct: the parse failure is swallowed so a garbage Referer
// header can never fail ingestion. A referrer on the same hostname as the
// tracked page is internal navigation and must not start a new session.
func DetectReferrerType(referrerURL, currentHostname string) ReferrerType {
	if strings.TrimSpace(referrerURL) == "" {
		return ReferrerDirect
	}

	parsed, err := url.Parse(referrerURL)
	if err != nil || parsed.Hostname() == "" {
		return ReferrerDirect
	}
	host := strings.ToLower(parsed.Hostname())

	if currentHostname != "" && host == strings.ToLower(currentHostname) {
		return ReferrerInternal
	}

	r := getRules()
	for _, token := range r.Search {
		if strings.Contains(host, token) {
			return ReferrerOrganic
		}
	}
	for _, token := range r.Social {
		if strings.Contains(host, token) {
			return ReferrerSocial
		}
	}
	for _, token := range r.Email {
		if strings.Contains(host, token) {
			return ReferrerEmail
		}
	}

	return ReferrerReferral
}

// ReferrerTypes returns every valid referrer category, in display order.
func ReferrerTypes() []ReferrerType {
	return []ReferrerType{
		ReferrerDirect,
		ReferrerOrganic,
		ReferrerSocial,
		ReferrerReferral,
		ReferrerInternal,
		ReferrerEmail,
	}
}
