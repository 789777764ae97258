// Package settings is the runtime key/value store for operator-tunable
// knobs that should not require a restart: excluded IPs and the retention
// override. Everything else stays in the environment config.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Setting is one configuration row.
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

const (
	// KeyExcludedIPs is a comma-separated list of client IPs whose payloads
	// are not collected. Typically the operator's own addresses.
	KeyExcludedIPs = "excluded_ips"

	// KeyRetentionDays overrides the configured analytics retention window
	// when set to a positive integer.
	KeyRetentionDays = "retention_days"
)

var excludedIPsCache *cache.Cache[string, []string]

// SetupDefaults seeds the known settings rows and primes the excluded IPs
// cache. Existing values are left untouched.
func SetupDefaults(logger *slog.Logger, dbConn *gorm.DB) error {
	defaults := []Setting{
		{Key: KeyExcludedIPs, Value: ""},
		{Key: KeyRetentionDays, Value: ""},
	}
	err := sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		for _, setting := range defaults {
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, setting.Key, setting.Value, time.Now().UTC(), time.Now().UTC()).Error
			if err != nil {
				return fmt.Errorf("failed to seed setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	loadExcludedIPsCache(dbConn, logger)
	return nil
}

// Get retrieves one setting value.
func Get(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	if err := dbConn.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

// Update upserts one setting value. The excluded IPs cache is invalidated so
// the collect path sees the change within one fetch.
func Update(logger *slog.Logger, dbConn *gorm.DB, key, value string) error {
	err := sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		result := tx.Model(&Setting{}).Where("key = ?", key).Update("value", value)
		if result.Error != nil {
			return fmt.Errorf("failed to update setting %s: %w", key, result.Error)
		}
		if result.RowsAffected == 0 {
			return tx.Create(&Setting{Key: key, Value: value}).Error
		}
		return nil
	})
	if err != nil {
		return err
	}

	if excludedIPsCache != nil {
		excludedIPsCache.Clear()
	}
	return nil
}

// IsIPExcluded reports whether the client IP is on the excluded list.
// Returns false before SetupDefaults has run; exclusion is best effort and
// never blocks collection.
func IsIPExcluded(ip string) (bool, error) {
	if excludedIPsCache == nil || ip == "" {
		return false, nil
	}

	excludedIPs, err := excludedIPsCache.Get(KeyExcludedIPs)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}

	for _, excludedIP := range excludedIPs {
		if excludedIP == ip {
			return true, nil
		}
	}
	return false, nil
}

// RetentionDays returns the runtime retention override, or fallback when the
// setting is unset, empty or not a positive integer.
func RetentionDays(dbConn *gorm.DB, fallback int) int {
	value, err := Get(dbConn, KeyRetentionDays)
	if err != nil {
		return fallback
	}
	days, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || days <= 0 {
		return fallback
	}
	return days
}

// SettingResponse is one key/value pair in API responses.
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ListAll returns every setting row for the admin API.
func ListAll(dbConn *gorm.DB) ([]SettingResponse, error) {
	var rows []Setting
	if err := dbConn.Order("key ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch settings: %w", err)
	}

	result := make([]SettingResponse, 0, len(rows))
	for _, row := range rows {
		result = append(result, SettingResponse{Key: row.Key, Value: row.Value})
	}
	return result, nil
}

// KnownKeys returns the settings keys the admin API accepts writes for.
func KnownKeys() []string {
	return []string{KeyExcludedIPs, KeyRetentionDays}
}

// IsKnownKey reports whether the key is one the admin API may write.
func IsKnownKey(key string) bool {
	for _, known := range KnownKeys() {
		if key == known {
			return true
		}
	}
	return false
}

func loadExcludedIPsCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) ([]string, error) {
		var value string
		err := dbConn.Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value).Error
		if err != nil {
			return nil, err
		}
		var ips []string
		for _, ip := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(ip); trimmed != "" {
				ips = append(ips, trimmed)
			}
		}
		return ips, nil
	}
	excludedIPsCache = cache.NewCache[string, []string](logger, 5*time.Minute, fetchFunc)
}
