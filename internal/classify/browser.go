package classify

import "strings"

// browserRules are ordered substring checks; first match wins. Order matters:
// Edge and Opera embed "Chrome" in their user agents, and Chrome embeds
// "Safari", so the more specific tokens come first.
var browserRules = []struct {
	token string
	name  string
}{
	{"edg/", "Edge"},
	{"edge/", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"samsungbrowser", "Samsung Internet"},
	{"firefox", "Firefox"},
	{"fxios", "Firefox"},
	{"crios", "Chrome"},
	{"chrome", "Chrome"},
	{"safari", "Safari"},
	{"msie", "Internet Explorer"},
	{"trident", "Internet Explorer"},
}

// DetectBrowser names the browser from a user agent string, falling back to
// "Other" when nothing matches.
func DetectBrowser(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, rule := range browserRules {
		if strings.Contains(ua, rule.token) {
			return rule.name
		}
	}
	return "Other"
}

// osRules are ordered substring checks for operating systems. iOS tokens come
// before the Mac token because iPad agents can claim "like Mac OS X".
var osRules = []struct {
	token string
	name  string
}{
	{"windows phone", "Windows Phone"},
	{"windows", "Windows"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"ipod", "iOS"},
	{"android", "Android"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"cros", "ChromeOS"},
	{"linux", "Linux"},
}

// DetectOS names the operating system from a user agent string, falling back
// to "Other" when nothing matches.
func DetectOS(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, rule := range osRules {
		if strings.Contains(ua, rule.token) {
			return rule.name
		}
	}
	return "Other"
}
