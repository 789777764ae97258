package jobs

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"cherrycap/internal/config"
	"cherrycap/internal/ingest"
	"cherrycap/internal/settings"
)

// CleanupJob deletes analytics rows older than the retention period.
// Sessions, page views, events and performance samples all age out on the
// same clock; sites and users are never touched.
type CleanupJob struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run removes analytics rows past retention, in batches so the sweep never
// holds a long write lock.
func (j *CleanupJob) Run() error {
	db := j.dbManager.GetConnection()
	// The runtime setting wins over the configured default so operators can
	// shorten retention without a restart.
	retentionDays := settings.RetentionDays(db, j.cfg.AnalyticsRetentionDays)
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting retention cleanup",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff", cutoff))

	batchSize := 1000
	targets := []struct {
		model  any
		column string
		name   string
	}{
		{&ingest.PageView{}, "created_at", "page_views"},
		{&ingest.EventRecord{}, "created_at", "event_records"},
		{&ingest.PerformanceSample{}, "created_at", "performance_samples"},
		{&ingest.Session{}, "last_activity", "sessions"},
	}

	for _, target := range targets {
		totalDeleted := int64(0)
		for {
			result := db.Where(target.column+" < ?", cutoff).
				Limit(batchSize).
				Delete(target.model)
			if result.Error != nil {
				j.logger.Error("Failed to delete old rows",
					slog.String("table", target.name),
					slog.Any("error", result.Error),
					slog.Int64("deleted_so_far", totalDeleted))
				return result.Error
			}

			totalDeleted += result.RowsAffected
			if result.RowsAffected < int64(batchSize) {
				break
			}

			// Small delay between batches to prevent lock contention.
			time.Sleep(100 * time.Millisecond)
		}

		if totalDeleted > 0 {
			j.logger.Info("Cleaned up old rows",
				slog.String("table", target.name),
				slog.Int64("deleted_count", totalDeleted))
		}
	}

	return nil
}
