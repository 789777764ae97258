package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"cherrycap/internal/config"
	"cherrycap/internal/pkg/async"
	"cherrycap/internal/sites"
)

// Sub-query names used as task keys in the per-site fan-out.
const (
	taskOverview7  = "overview_7d"
	taskOverview30 = "overview_30d"
	taskSources    = "sources_7d"
	taskDevices    = "devices_7d"
	taskTopPages   = "top_pages_7d"
	taskTopEvents  = "top_events_7d"
	taskTraffic    = "traffic_7d"
)

// SiteSummary is the consolidated per-site block of the AI summary.
type SiteSummary struct {
	SiteID     string           `json:"site_id"`
	Name       string           `json:"name"`
	Domain     string           `json:"domain"`
	Overview7d *OverviewStats   `json:"overview_7d"`
	Overview30 *OverviewStats   `json:"overview_30d"`
	Sources7d  []CategoryCount  `json:"sources_7d"`
	Devices7d  []CategoryCount  `json:"devices_7d"`
	TopPages7d []PageCount      `json:"top_pages_7d"`
	TopEvents  []EventCount     `json:"top_events_7d"`
	Traffic7d  []TrafficPoint   `json:"traffic_7d"`
	Active     int64            `json:"active_visitors"`
	Error      string           `json:"error,omitempty"`
}

// AISummary is the multi-site response handed to an LLM tool call.
type AISummary struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Sites       []SiteSummary `json:"sites"`
}

// SummaryOptions configures GetAnalyticsForAI.
type SummaryOptions struct {
	UserID       uint
	SitePublicID string // empty means every site the user owns
	// FailurePolicy decides what a failed sub-query does: fail_fast fails
	// the whole call, partial records the error on the affected site and
	// keeps the rest.
	FailurePolicy string
	WorkerCount   int
	ActiveWindow  time.Duration
}

// GetAnalyticsForAI fans out up to seven concurrent sub-queries per site and
// joins the results into one structured summary. When a specific site is
// requested but not owned by the user, the result is (nil, nil).
func GetAnalyticsForAI(ctx context.Context, dbManager cartridge.DBManager, logger *slog.Logger, opts SummaryOptions) (*AISummary, error) {
	db := dbManager.GetConnection()

	var targets []sites.Site
	if opts.SitePublicID != "" {
		site, err := resolveOwnedSite(db, opts.UserID, opts.SitePublicID)
		if err != nil {
			return nil, err
		}
		if site == nil {
			return nil, nil
		}
		targets = []sites.Site{*site}
	} else {
		owned, err := sites.GetSitesForUser(db, opts.UserID)
		if err != nil {
			return nil, err
		}
		targets = owned
	}

	if opts.WorkerCount < 1 {
		opts.WorkerCount = 7
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = config.SummaryPolicyFailFast
	}

	summary := &AISummary{
		GeneratedAt: time.Now().UTC(),
		Sites:       make([]SiteSummary, 0, len(targets)),
	}

	for i := range targets {
		site := targets[i]
		siteSummary, err := summarizeSite(ctx, db, logger, &site, opts)
		if err != nil {
			if opts.FailurePolicy == config.SummaryPolicyFailFast {
				return nil, fmt.Errorf("summary failed for site %s: %w", site.PublicID, err)
			}
			logger.Warn("Partial summary: site failed",
				slog.String("site", site.PublicID),
				slog.Any("error", err))
			summary.Sites = append(summary.Sites, SiteSummary{
				SiteID: site.PublicID,
				Name:   site.Name,
				Domain: site.Domain,
				Error:  err.Error(),
			})
			continue
		}
		summary.Sites = append(summary.Sites, *siteSummary)
	}

	return summary, nil
}

// summarizeSite runs the seven sub-queries for one site concurrently and
// joins them. Under fail_fast any sub-query error fails the site; under
// partial a failed metric keeps its zero value and the summary's error note
// lists what is missing, so the surviving metrics still come back.
func summarizeSite(ctx context.Context, db *gorm.DB, logger *slog.Logger, site *sites.Site, opts SummaryOptions) (*SiteSummary, error) {
	params7, err := NewSiteScopedQueryParams(site, 7)
	if err != nil {
		return nil, err
	}
	params30, err := NewSiteScopedQueryParams(site, 30)
	if err != nil {
		return nil, err
	}

	tasks := []async.Task{
		{Name: taskOverview7, Execute: func() (any, error) { return overviewForParams(db, params7) }},
		{Name: taskOverview30, Execute: func() (any, error) { return overviewForParams(db, params30) }},
		{Name: taskSources, Execute: func() (any, error) { return sessionBreakdown(db, params7, "referrer_type") }},
		{Name: taskDevices, Execute: func() (any, error) { return sessionBreakdown(db, params7, "device") }},
		{Name: taskTopPages, Execute: func() (any, error) { return topPagesForParams(db, params7) }},
		{Name: taskTopEvents, Execute: func() (any, error) { return topEventsForParams(db, params7) }},
		{Name: taskTraffic, Execute: func() (any, error) { return trafficForParams(db, params7) }},
	}

	pool := async.NewPool(opts.WorkerCount)
	results := pool.Execute(ctx, tasks)

	if opts.FailurePolicy == config.SummaryPolicyFailFast {
		if len(results) < len(tasks) {
			return nil, ctx.Err()
		}
		if err := async.FirstError(results); err != nil {
			return nil, err
		}
	}

	siteSummary := &SiteSummary{
		SiteID: site.PublicID,
		Name:   site.Name,
		Domain: site.Domain,
	}

	var notes []string
	for _, task := range tasks {
		result, ok := results[task.Name]
		if !ok {
			notes = append(notes, fmt.Sprintf("%s: cancelled", task.Name))
			continue
		}
		if result.Err != nil {
			notes = append(notes, fmt.Sprintf("%s: %v", task.Name, result.Err))
			continue
		}
		switch task.Name {
		case taskOverview7:
			siteSummary.Overview7d = result.Data.(*OverviewStats)
		case taskOverview30:
			siteSummary.Overview30 = result.Data.(*OverviewStats)
		case taskSources:
			siteSummary.Sources7d = result.Data.([]CategoryCount)
		case taskDevices:
			siteSummary.Devices7d = result.Data.([]CategoryCount)
		case taskTopPages:
			siteSummary.TopPages7d = result.Data.([]PageCount)
		case taskTopEvents:
			siteSummary.TopEvents = result.Data.([]EventCount)
		case taskTraffic:
			siteSummary.Traffic7d = result.Data.([]TrafficPoint)
		}
	}

	active, err := activeVisitorsForSite(db, site.ID, opts.ActiveWindow)
	switch {
	case err != nil && opts.FailurePolicy == config.SummaryPolicyFailFast:
		return nil, err
	case err != nil:
		notes = append(notes, fmt.Sprintf("active_visitors: %v", err))
	default:
		siteSummary.Active = active
	}

	siteSummary.Error = strings.Join(notes, "; ")
	return siteSummary, nil
}
