// Package classify contains the pure context classifiers used at ingestion
// time: device type, browser, operating system, referrer category and UTM
// campaign parameters. Every function here is deterministic and side-effect
// free so the ingestion path can call them on every payload.
package classify

import (
	"strings"

	"go.elara.ws/pcre"
)

// DeviceType is the closed set of device categories a session can carry.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// Tablet detection needs a negative lookahead (Android tablets report
// "Android" without "Mobile"), which the stdlib regexp engine cannot express.
var (
	tabletRegex = pcre.MustCompile(`(?i)(ipad|tablet|android(?!.*mobile)|kindle|silk|playbook)`)
	mobileRegex = pcre.MustCompile(`(?i)(mobile|iphone|ipod|android|blackberry|iemobile|opera mini|windows phone)`)
)

// DetectDevice classifies a user agent string into a device type. The tablet
// pattern is checked before the mobile pattern: iPad-class agents match both,
// and tablet wins the tie.
func DetectDevice(userAgent string) DeviceType {
	if userAgent == "" {
		return DeviceDesktop
	}
	if tabletRegex.MatchString(userAgent) {
		return DeviceTablet
	}
	if mobileRegex.MatchString(userAgent) {
		return DeviceMobile
	}
	return DeviceDesktop
}

// DeviceTypes returns every valid device label, in display order.
func DeviceTypes() []DeviceType {
	return []DeviceType{DeviceDesktop, DeviceMobile, DeviceTablet}
}

// IsValidDeviceType reports whether a raw string names a known device type.
func IsValidDeviceType(s string) bool {
	switch DeviceType(strings.ToLower(s)) {
	case DeviceDesktop, DeviceMobile, DeviceTablet:
		return true
	}
	return false
}
