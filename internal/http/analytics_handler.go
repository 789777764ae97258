package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"cherrycap/internal/analytics"
	"cherrycap/internal/config"
	"cherrycap/internal/timeframe"
)

// queryDays reads the ?days= query parameter, clamped to sane bounds.
func queryDays(ctx *cartridge.Context) int {
	return timeframe.ParseDays(ctx.Query("days"))
}

func analyticsError(ctx *cartridge.Context, what string, err error) error {
	ctx.Logger.Error("Analytics query failed",
		slog.String("query", what),
		slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to load " + what,
	})
}

// AnalyticsOverviewAction returns headline stats for one owned site.
func AnalyticsOverviewAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	stats, err := analytics.GetOverviewStats(ctx.DB(), userID, ctx.Params("id"), queryDays(ctx))
	if err != nil {
		return analyticsError(ctx, "overview", err)
	}
	if stats == nil {
		return siteNotFound(ctx)
	}
	return ctx.JSON(stats)
}

// AnalyticsTrafficAction returns the daily visitors and page views series,
// zero-filled over the requested window.
func AnalyticsTrafficAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	points, err := analytics.GetTrafficOverTime(ctx.DB(), userID, ctx.Params("id"), queryDays(ctx))
	if err != nil {
		return analyticsError(ctx, "traffic", err)
	}
	if points == nil {
		return siteNotFound(ctx)
	}
	return ctx.JSON(fiber.Map{"traffic": points})
}

// AnalyticsSourcesAction returns sessions grouped by referrer type.
func AnalyticsSourcesAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	counts, err := analytics.GetTrafficSources(ctx.DB(), userID, ctx.Params("id"), queryDays(ctx))
	if err != nil {
		return analyticsError(ctx, "sources", err)
	}
	if counts == nil {
		return siteNotFound(ctx)
	}
	return ctx.JSON(fiber.Map{"sources": counts})
}

// AnalyticsReferrersAction returns the top referring sources with friendly
// display names.
func AnalyticsReferrersAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	counts, err := analytics.GetTopReferrers(ctx.DB(), userID, ctx.Params("id"), queryDays(ctx))
	if err != nil {
		return analyticsError(ctx, "referrers", err)
	}
	if counts == nil {
		return siteNotFound(ctx)
	}
	return ctx.JSON(fiber.Map{"referrers": counts})
}

// AnalyticsDevicesAction returns sessions grouped by device type.
func AnalyticsDevicesAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	counts, err := analytics.GetDeviceBreakdown(ctx.DB(), userID, ctx.Params("id"), queryDays(ctx))
	if err != nil {
		return analyticsError(ctx, "devices", err)
	}
	if counts == nil {
		return siteNotFound(ctx)
	}
	return ctx.JSON(fiber.Map{"devices": counts})
}

// AnalyticsTopPagesAction returns the most viewed paths.
func AnalyticsTopPagesAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	pages, err := analytics.GetTopPages(ctx.DB(), userID, ctx.Params("id"), queryDays(ctx), analytics.DefaultTopPagesLimit)
	if err != nil {
		return analyticsError(ctx, "top pages", err)
	}
	if pages == nil {
		return siteNotFound(ctx)
	}
	return ctx.JSON(fiber.Map{"pages": pages})
}

// AnalyticsTopEventsAction returns the most frequent custom events.
func AnalyticsTopEventsAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	events, err := analytics.GetTopEvents(ctx.DB(), userID, ctx.Params("id"), queryDays(ctx), analytics.DefaultTopPagesLimit)
	if err != nil {
		return analyticsError(ctx, "top events", err)
	}
	if events == nil {
		return siteNotFound(ctx)
	}
	return ctx.JSON(fiber.Map{"events": events})
}

// AnalyticsPerformanceAction returns per-day averaged timing metrics.
func AnalyticsPerformanceAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	points, err := analytics.GetPerformanceMetrics(ctx.DB(), userID, ctx.Params("id"), queryDays(ctx))
	if err != nil {
		return analyticsError(ctx, "performance", err)
	}
	if points == nil {
		return siteNotFound(ctx)
	}
	return ctx.JSON(fiber.Map{"performance": points})
}

// AnalyticsActiveAction returns the count of visitors active in the last
// few minutes.
func AnalyticsActiveAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	cfg := config.GetConfig()
	window := time.Duration(cfg.ActiveVisitorWindowSeconds) * time.Second
	count, err := analytics.GetActiveVisitors(ctx.DB(), userID, ctx.Params("id"), window)
	if err != nil {
		return analyticsError(ctx, "active visitors", err)
	}
	if count == nil {
		return siteNotFound(ctx)
	}
	return ctx.JSON(fiber.Map{"active": *count})
}
