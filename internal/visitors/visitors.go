// Package visitors derives privacy-first visitor identifiers for payloads
// that arrive without one.
package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// BuildFallbackVisitorID hashes site, IP and User-Agent into a visitor
// signature. The signature rotates daily at midnight UTC so visitors cannot
// be tracked across days, and the IP address is never stored, only hashed.
func BuildFallbackVisitorID(siteDomain, ipAddress, userAgent, salt string) string {
	today := time.Now().UTC().Format("2006-01-02")
	dailySalt := fmt.Sprintf("%s-%s", today, salt)
	data := fmt.Sprintf("%s.%s.%s.%s", dailySalt, siteDomain, ipAddress, userAgent)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
