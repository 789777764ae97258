// Package jobs contains the background workers: the session finalizer that
// reconciles timed-out sessions and the retention cleanup sweep.
package jobs

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"cherrycap/internal/config"
)

// SessionFinalizerJob reconciles sessions that passed the inactivity timeout.
// The write path keeps duration and the bounce flag current on every payload,
// but a browser that dies without delivering its end beacon can leave a
// session in a state the single-payload updates never corrected. This job is
// the repair pass: once a session can no longer receive payloads, the bounce
// flag is settled from what was actually recorded.
type SessionFinalizerJob struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewSessionFinalizerJob(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) *SessionFinalizerJob {
	return &SessionFinalizerJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run settles the bounce flag for every timed-out session. A session is a
// bounce iff it recorded exactly one page view and no interaction events
// besides the session-end marker.
func (j *SessionFinalizerJob) Run() error {
	db := j.dbManager.GetConnection()
	timeout := time.Duration(j.cfg.SessionTimeoutSeconds) * time.Second
	cutoff := time.Now().UTC().Add(-timeout)

	return sqlite.PerformWrite(j.logger, db, func(tx *gorm.DB) error {
		// Settle bounces: single page view, no real events.
		if err := tx.Exec(`
            UPDATE sessions SET is_bounce = 1, updated_at = ?
            WHERE last_activity < ?
              AND page_view_count = 1
              AND is_bounce = 0
              AND NOT EXISTS (
                  SELECT 1 FROM event_records
                  WHERE event_records.session_id = sessions.id
                    AND event_records.name != 'session_end'
              )
        `, time.Now().UTC(), cutoff).Error; err != nil {
			return err
		}

		// Clear bounces that no longer qualify.
		result := tx.Exec(`
            UPDATE sessions SET is_bounce = 0, updated_at = ?
            WHERE last_activity < ?
              AND is_bounce = 1
              AND page_view_count != 1
        `, time.Now().UTC(), cutoff)
		if result.Error != nil {
			return result.Error
		}

		j.logger.Debug("Session finalizer pass completed",
			slog.Time("cutoff", cutoff))
		return nil
	})
}
