// Package v1 holds the public collection API: the ingestion endpoint the
// tracker posts to and the handler that serves the tracker script itself.
package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"cherrycap/internal/ingest"
	"cherrycap/internal/settings"
	"cherrycap/internal/sites"
)

const (
	msgPayloadAccepted = "Payload accepted"
	errInvalidRequest  = "Invalid request"
	errInvalidOrigin   = "Invalid origin"
)

// CollectAPIHandler ingests a single {type, data} envelope and reports the
// outcome with real status codes. Used by server-side integrations and by
// anyone debugging their tracker setup.
func CollectAPIHandler(ctx *cartridge.Context) error {
	ctx.Logger.Debug("Received collect request",
		slog.String("method", ctx.Method()),
		slog.String("path", ctx.Path()))

	if err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger); err != nil {
		countDrop(dropReasonOrigin)
		return handleError(ctx.Ctx, err)
	}

	if clientIsExcluded(ctx) {
		countDrop(dropReasonExcluded)
		return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
			"message": msgPayloadAccepted,
			"status":  http.StatusAccepted,
		})
	}

	payloadType, err := collect(ctx)
	if err != nil {
		return collectErrorResponse(ctx, payloadType, err)
	}

	ctx.Logger.Debug("Collected payload", slog.String("type", payloadType.String()))
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgPayloadAccepted,
		"status":  http.StatusAccepted,
	})
}

// CollectBeaconHandler is the navigator.sendBeacon target. Beacon senders
// cannot react to errors, so every outcome is a 202; failures are counted
// instead of reported.
func CollectBeaconHandler(ctx *cartridge.Context) error {
	if err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger); err != nil {
		ctx.Logger.Debug("Invalid origin in beacon request")
		countDrop(dropReasonOrigin)
		return ctx.SendStatus(http.StatusAccepted)
	}

	if clientIsExcluded(ctx) {
		countDrop(dropReasonExcluded)
		return ctx.SendStatus(http.StatusAccepted)
	}

	payloadType, err := collect(ctx)
	if err != nil {
		ctx.Logger.Debug("Dropped beacon payload",
			slog.String("type", payloadType.String()),
			slog.Any("error", err))
		countDrop(dropReasonFor(err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	return ctx.SendStatus(http.StatusAccepted)
}

// clientIsExcluded checks the runtime excluded IPs setting. The payload is
// acknowledged but never persisted, so operators browsing their own sites do
// not pollute the numbers.
func clientIsExcluded(ctx *cartridge.Context) bool {
	excluded, err := settings.IsIPExcluded(getClientIP(ctx.Ctx))
	if err != nil {
		ctx.Logger.Warn("Failed to check excluded IPs", slog.Any("error", err))
		return false
	}
	return excluded
}

func collect(ctx *cartridge.Context) (ingest.PayloadType, error) {
	userAgent := ctx.Get("User-Agent")
	if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgent = forwardedUA
	}

	input := &ingest.CollectInput{
		Body:      ctx.Body(),
		UserAgent: userAgent,
		IPAddress: getClientIP(ctx.Ctx),
	}
	return ingest.Collect(ctx.DBManager, ctx.Logger, input)
}

func collectErrorResponse(ctx *cartridge.Context, payloadType ingest.PayloadType, err error) error {
	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
		countDrop(dropReasonWrite)
		return ctx.Status(599).JSON(fiber.Map{})
	}

	var unknownType *ingest.UnknownPayloadTypeError
	if errors.As(err, &unknownType) {
		countDrop(dropReasonDecode)
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "UNKNOWN_PAYLOAD_TYPE",
		})
	}

	var siteNotFound *sites.SiteNotFoundError
	if errors.As(err, &siteNotFound) {
		countDrop(dropReasonSite)
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Site not found - please register your domain first",
			"code":  "SITE_NOT_FOUND",
		})
	}

	if errors.Is(err, ingest.ErrInactiveSite) {
		countDrop(dropReasonSite)
		return ctx.Status(http.StatusForbidden).JSON(fiber.Map{
			"error": "Tracking is disabled for this site",
			"code":  "SITE_INACTIVE",
		})
	}

	ctx.Logger.Error("Failed to collect payload",
		slog.String("type", payloadType.String()),
		slog.Any("error", err))
	countDrop(dropReasonWrite)
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to collect payload",
		"code":  "COLLECTION_ERROR",
	})
}

// validateOrigin checks that the request comes from a registered site domain
// using the Origin header, falling back to Referer for same-origin requests.
// The Origin header is set by the browser and cannot be spoofed by JavaScript.
func validateOrigin(c *fiber.Ctx, dbManager cartridge.DBManager, logger *slog.Logger) error {
	origin := c.Get("Origin")
	if origin == "" {
		origin = c.Get("Referer")
	}
	if origin == "" {
		logger.Debug("No Origin or Referer header present")
		return fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	parsedURL, err := url.Parse(origin)
	if err != nil || parsedURL.Hostname() == "" {
		logger.Debug("Failed to parse origin URL", slog.String("origin", origin))
		return fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	db := dbManager.GetConnection()
	if _, err := sites.GetSiteByDomain(db, parsedURL.Hostname()); err != nil {
		logger.Debug("Origin domain not registered",
			slog.String("origin", origin),
			slog.String("hostname", parsedURL.Hostname()))
		return fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	return nil
}

func isDecodeError(err error) bool {
	var unknownType *ingest.UnknownPayloadTypeError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &unknownType) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func isSiteError(err error) bool {
	var siteNotFound *sites.SiteNotFoundError
	return errors.As(err, &siteNotFound) || errors.Is(err, ingest.ErrInactiveSite)
}

func handleError(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
		"error": errInvalidRequest,
	})
}
