package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"cherrycap/internal/analytics"
	"cherrycap/internal/config"
)

// AnalyticsSummaryAction assembles the AI-ready digest. Without a ?site=
// parameter it covers every site the caller owns; with one it covers that
// site only.
func AnalyticsSummaryAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	cfg := config.GetConfig()
	opts := analytics.SummaryOptions{
		UserID:        userID,
		SitePublicID:  ctx.Query("site"),
		FailurePolicy: cfg.SummaryFailurePolicy,
		WorkerCount:   cfg.SummaryWorkerCount,
		ActiveWindow:  time.Duration(cfg.ActiveVisitorWindowSeconds) * time.Second,
	}

	summary, err := analytics.GetAnalyticsForAI(ctx.Ctx.UserContext(), ctx.DBManager, ctx.Logger, opts)
	if err != nil {
		ctx.Logger.Error("Failed to build analytics summary", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build summary",
		})
	}
	if summary == nil {
		return siteNotFound(ctx)
	}

	return ctx.JSON(summary)
}
