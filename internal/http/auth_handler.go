// Package http contains the admin JSON API handlers.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/crypto"

	"cherrycap/internal/users"
)

// dummyHash keeps password verification constant-time when the email does
// not exist. bcrypt hash of "dummy".
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ProcessLoginAction authenticates a user and sets the session cookie.
func ProcessLoginAction(ctx *cartridge.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := ctx.BodyParser(&body); err != nil || body.Email == "" || body.Password == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Email and password are required",
		})
	}

	db := ctx.DB()
	user, err := users.FindByEmail(db, body.Email)

	var passwordValid bool
	if err != nil {
		ctx.Logger.Debug("User not found during login", slog.String("email", body.Email))
		crypto.VerifyPassword(dummyHash, body.Password)
	} else {
		passwordValid = crypto.VerifyPassword(user.EncryptedPassword, body.Password)
	}

	if !passwordValid {
		return ctx.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid email or password",
		})
	}

	if err := ctx.Session.SetSession(ctx.Ctx, user.ID); err != nil {
		ctx.Logger.Error("Failed to set session", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Login failed",
		})
	}

	ctx.Logger.Debug("Login successful",
		slog.String("email", body.Email),
		slog.Int("userId", int(user.ID)))

	return ctx.JSON(fiber.Map{
		"email": user.Email,
	})
}

// LogoutAction clears the session cookie.
func LogoutAction(ctx *cartridge.Context) error {
	ctx.Session.ClearSession(ctx.Ctx)
	return ctx.JSON(fiber.Map{"message": "Logged out"})
}

// requireUser resolves the authenticated user from the session. When the
// caller is unauthenticated the 401 response is already written and ok is
// false.
func requireUser(ctx *cartridge.Context) (uint, bool, error) {
	userID, authenticated := ctx.Session.GetUserID(ctx.Ctx)
	if !authenticated {
		return 0, false, ctx.Status(http.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	return userID, true, nil
}
