package http

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"cherrycap/internal/sites"
)

type sitePayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	IsActive *bool  `json:"isActive"`
}

type siteResponse struct {
	PublicID  string `json:"id"`
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	IsActive  bool   `json:"isActive"`
	PageViews int64  `json:"pageViews,omitempty"`
}

func siteToResponse(site *sites.Site) siteResponse {
	return siteResponse{
		PublicID: site.PublicID,
		Name:     site.Name,
		Domain:   site.Domain,
		IsActive: site.IsActive,
	}
}

// SitesIndexAction lists the caller's sites with 30-day page view counts.
func SitesIndexAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	withStats, err := sites.GetSitesWithStats(ctx.DB(), userID, 30)
	if err != nil {
		ctx.Logger.Error("Failed to list sites", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load sites",
		})
	}

	out := make([]siteResponse, 0, len(withStats))
	for _, s := range withStats {
		item := siteToResponse(&s.Site)
		item.PageViews = s.PageViewCount
		out = append(out, item)
	}
	return ctx.JSON(fiber.Map{"sites": out})
}

// SiteCreateAction registers a new tracked site.
func SiteCreateAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	var body sitePayload
	if err := ctx.BodyParser(&body); err != nil || body.Domain == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Domain is required",
		})
	}
	if body.Name == "" {
		body.Name = body.Domain
	}

	site, err := sites.CreateSite(ctx.Logger, ctx.DBManager.GetConnection(), userID, body.Name, body.Domain)
	if err != nil {
		ctx.Logger.Error("Failed to create site",
			slog.String("domain", body.Domain),
			slog.Any("error", err))
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Failed to create site",
		})
	}

	return ctx.Status(http.StatusCreated).JSON(siteToResponse(site))
}

// SiteShowAction returns one owned site.
func SiteShowAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	site, err := sites.GetOwnedSite(ctx.DB(), userID, ctx.Params("id"))
	if err != nil {
		ctx.Logger.Error("Failed to load site", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load site",
		})
	}
	if site == nil {
		return siteNotFound(ctx)
	}

	return ctx.JSON(siteToResponse(site))
}

// SiteUpdateAction updates name, domain or active flag of an owned site.
func SiteUpdateAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	current, err := sites.GetOwnedSite(ctx.DB(), userID, ctx.Params("id"))
	if err != nil {
		ctx.Logger.Error("Failed to load site", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load site",
		})
	}
	if current == nil {
		return siteNotFound(ctx)
	}

	var body sitePayload
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if body.Name == "" {
		body.Name = current.Name
	}
	if body.Domain == "" {
		body.Domain = current.Domain
	}
	isActive := current.IsActive
	if body.IsActive != nil {
		isActive = *body.IsActive
	}

	updated, err := sites.UpdateSite(ctx.Logger, ctx.DBManager.GetConnection(), userID, current.PublicID, body.Name, body.Domain, isActive)
	if err != nil {
		ctx.Logger.Error("Failed to update site", slog.Any("error", err))
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Failed to update site",
		})
	}
	if updated == nil {
		return siteNotFound(ctx)
	}

	return ctx.JSON(siteToResponse(updated))
}

// SiteDeleteAction removes an owned site and all of its analytics rows.
func SiteDeleteAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	if err := sites.DeleteSite(ctx.Logger, ctx.DBManager.GetConnection(), userID, ctx.Params("id")); err != nil {
		ctx.Logger.Error("Failed to delete site", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete site",
		})
	}

	return ctx.JSON(fiber.Map{"message": "Site deleted"})
}

func siteNotFound(ctx *cartridge.Context) error {
	return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
		"error": "Site not found",
	})
}
