package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"cherrycap/internal/annotations"
	"cherrycap/internal/sites"
)

type annotationPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Date        string `json:"date"`
}

// parseAnnotationDate accepts RFC 3339 timestamps or bare dates.
func parseAnnotationDate(raw string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

// resolveAnnotationSite loads the owned site for annotation routes. A nil
// site with a nil error means the response was already written.
func resolveAnnotationSite(ctx *cartridge.Context, userID uint) (*sites.Site, error) {
	site, err := sites.GetOwnedSite(ctx.DB(), userID, ctx.Params("id"))
	if err != nil {
		ctx.Logger.Error("Failed to load site for annotations", slog.Any("error", err))
		return nil, ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load site",
		})
	}
	if site == nil {
		return nil, siteNotFound(ctx)
	}
	return site, nil
}

// AnnotationsIndexAction lists a site's annotations, optionally windowed by
// from and to query parameters.
func AnnotationsIndexAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	site, errResp := resolveAnnotationSite(ctx, userID)
	if site == nil {
		return errResp
	}

	fromRaw, toRaw := ctx.Query("from"), ctx.Query("to")
	var listed []annotations.Annotation
	var err error
	if fromRaw != "" && toRaw != "" {
		from, fromErr := parseAnnotationDate(fromRaw)
		to, toErr := parseAnnotationDate(toRaw)
		if fromErr != nil || toErr != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid from/to dates",
			})
		}
		listed, err = annotations.ListForWindow(ctx.DB(), site.ID, from, to)
	} else {
		listed, err = annotations.ListForSite(ctx.DB(), site.ID)
	}
	if err != nil {
		ctx.Logger.Error("Failed to list annotations", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load annotations",
		})
	}

	return ctx.JSON(fiber.Map{"annotations": listed})
}

// AnnotationCreateAction pins a new marker to the site timeline.
func AnnotationCreateAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	site, errResp := resolveAnnotationSite(ctx, userID)
	if site == nil {
		return errResp
	}

	var body annotationPayload
	if err := ctx.BodyParser(&body); err != nil || body.Title == "" || body.Date == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Title and date are required",
		})
	}

	date, err := parseAnnotationDate(body.Date)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid date",
		})
	}

	annotation := &annotations.Annotation{
		SiteID:         site.ID,
		Title:          body.Title,
		Description:    body.Description,
		AnnotationType: annotations.AnnotationType(body.Type),
		AnnotationDate: date,
	}
	if err := annotations.Create(ctx.Logger, ctx.DBManager.GetConnection(), annotation); err != nil {
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return ctx.Status(http.StatusCreated).JSON(annotation)
}

// AnnotationUpdateAction rewrites an existing marker.
func AnnotationUpdateAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	site, errResp := resolveAnnotationSite(ctx, userID)
	if site == nil {
		return errResp
	}

	annotationID, err := strconv.ParseUint(ctx.Params("annotationId"), 10, 32)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid annotation id",
		})
	}

	current, err := annotations.FindByID(ctx.DB(), uint(annotationID), site.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": "Annotation not found",
			})
		}
		ctx.Logger.Error("Failed to load annotation", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load annotation",
		})
	}

	var body annotationPayload
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if body.Title != "" {
		current.Title = body.Title
	}
	current.Description = body.Description
	if body.Type != "" {
		current.AnnotationType = annotations.AnnotationType(body.Type)
	}
	if body.Date != "" {
		date, err := parseAnnotationDate(body.Date)
		if err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid date",
			})
		}
		current.AnnotationDate = date
	}

	if err := annotations.Update(ctx.Logger, ctx.DBManager.GetConnection(), current); err != nil {
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return ctx.JSON(current)
}

// AnnotationDeleteAction removes a marker.
func AnnotationDeleteAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	site, errResp := resolveAnnotationSite(ctx, userID)
	if site == nil {
		return errResp
	}

	annotationID, err := strconv.ParseUint(ctx.Params("annotationId"), 10, 32)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid annotation id",
		})
	}

	if err := annotations.Delete(ctx.Logger, ctx.DBManager.GetConnection(), uint(annotationID), site.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": "Annotation not found",
			})
		}
		ctx.Logger.Error("Failed to delete annotation", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete annotation",
		})
	}

	return ctx.JSON(fiber.Map{"message": "Annotation deleted"})
}
