package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/crypto"

	v1 "cherrycap/api/v1"
	"cherrycap/internal/ingest"
	"cherrycap/internal/settings"
	"cherrycap/internal/users"
)

// SystemHealthAction reports collector health for the admin UI: database
// row counts and dropped payload counters.
func SystemHealthAction(ctx *cartridge.Context) error {
	if _, ok, resp := requireUser(ctx); !ok {
		return resp
	}

	db := ctx.DB()

	var sessionCount, pageViewCount, eventCount int64
	db.Model(&ingest.Session{}).Count(&sessionCount)
	db.Model(&ingest.PageView{}).Count(&pageViewCount)
	db.Model(&ingest.EventRecord{}).Count(&eventCount)

	return ctx.JSON(fiber.Map{
		"healthy":     true,
		"sessions":    sessionCount,
		"page_views":  pageViewCount,
		"events":      eventCount,
		"drops":       v1.DropCounts(),
		"drops_total": v1.DroppedTotal(),
	})
}

// SystemSettingsIndexAction lists the runtime settings.
func SystemSettingsIndexAction(ctx *cartridge.Context) error {
	if _, ok, resp := requireUser(ctx); !ok {
		return resp
	}

	rows, err := settings.ListAll(ctx.DB())
	if err != nil {
		ctx.Logger.Error("Failed to list settings", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load settings",
		})
	}
	return ctx.JSON(fiber.Map{"settings": rows})
}

// SystemSettingsUpdateAction updates one known runtime setting.
func SystemSettingsUpdateAction(ctx *cartridge.Context) error {
	if _, ok, resp := requireUser(ctx); !ok {
		return resp
	}

	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := ctx.BodyParser(&body); err != nil || body.Key == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Setting key is required",
		})
	}
	if !settings.IsKnownKey(body.Key) {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown setting key",
		})
	}

	if err := settings.Update(ctx.Logger, ctx.DBManager.GetConnection(), body.Key, body.Value); err != nil {
		ctx.Logger.Error("Failed to update setting",
			slog.String("key", body.Key),
			slog.Any("error", err))
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Failed to update setting",
		})
	}

	return ctx.JSON(fiber.Map{"message": "Setting updated"})
}

// AccountChangePasswordAction changes the authenticated user's password.
func AccountChangePasswordAction(ctx *cartridge.Context) error {
	userID, ok, resp := requireUser(ctx)
	if !ok {
		return resp
	}

	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(body.CurrentPassword) == "" || strings.TrimSpace(body.NewPassword) == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Current and new password are required",
		})
	}
	if len(body.NewPassword) < 8 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "New password must be at least 8 characters long",
		})
	}

	db := ctx.DB()
	user, err := users.FindByID(db, userID)
	if err != nil {
		ctx.Logger.Error("Failed to find user for password change",
			slog.Uint64("userID", uint64(userID)),
			slog.Any("error", err))
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Password change failed",
		})
	}
	if !crypto.VerifyPassword(user.EncryptedPassword, body.CurrentPassword) {
		ctx.Logger.Warn("Invalid current password during password change",
			slog.Uint64("userID", uint64(userID)))
		return ctx.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Current password is incorrect",
		})
	}

	if err := users.ChangePassword(ctx.Logger, db, user.Email, body.NewPassword); err != nil {
		ctx.Logger.Error("Password change failed",
			slog.Uint64("userID", uint64(userID)),
			slog.Any("error", err))
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Password change failed",
		})
	}

	return ctx.JSON(fiber.Map{"message": "Password changed"})
}
