package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "cherrycap/api/v1"
	"cherrycap/internal/config"
	"cherrycap/internal/http"
)

// publicCORSConfig is shared by every public endpoint. Collection is
// cross-origin by nature, so the policy is permissive.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// SetupSession configures session management on the server.
func SetupSession(srv *cartridge.Server) {
	cfg := config.GetConfig()
	sessionMgr := cartridge.NewSessionManager(cartridge.SessionConfig{
		CookieName: cfg.AppName + "_session",
		Secret:     cfg.GetSessionSecret(),
		TTL:        time.Duration(cfg.GetLoginSessionTimeout()) * time.Second,
		Secure:     cfg.IsProduction(),
		LoginPath:  "/login",
	})
	srv.SetSession(sessionMgr)
}

// MountAppRoutes mounts all application routes using cartridge's route API.
func MountAppRoutes(srv *cartridge.Server) {
	SetupSession(srv)
	cfg := config.GetConfig()

	// Rate limiting only bites in production; in development and test it
	// would get in the way.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70 req/min per IP absorbs legitimate tracker traffic while capping abuse.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Stricter limit on login to slow down brute force attempts.
	authRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(10),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Public collection API: CORS first so rejected requests still carry
	// CORS headers, then rate limiting.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	trackerConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	// === HEALTH ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC COLLECTION ROUTES ===
	srv.Post("/x/api/v1/collect", v1.CollectAPIHandler, publicAPIConfig)
	srv.Options("/x/api/v1/collect", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)
	srv.Post("/x/api/v1/collect/beacon", v1.CollectBeaconHandler, publicAPIConfig)
	srv.Options("/x/api/v1/collect/beacon", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)

	// === TRACKER SCRIPT ===
	srv.Get("/x/api/v1/tracker.js", v1.GetTrackerAction, trackerConfig)

	// === AUTHENTICATION ===
	loginConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{authRateLimiter},
	}
	srv.Post("/login", http.ProcessLoginAction, loginConfig)
	srv.Post("/logout", http.LogoutAction)

	// === ADMIN API ===
	srv.Get("/admin/api/sites", http.SitesIndexAction)
	srv.Post("/admin/api/sites", http.SiteCreateAction)
	srv.Get("/admin/api/sites/:id", http.SiteShowAction)
	srv.Post("/admin/api/sites/:id", http.SiteUpdateAction)
	srv.Delete("/admin/api/sites/:id", http.SiteDeleteAction)

	srv.Get("/admin/api/sites/:id/overview", http.AnalyticsOverviewAction)
	srv.Get("/admin/api/sites/:id/traffic", http.AnalyticsTrafficAction)
	srv.Get("/admin/api/sites/:id/sources", http.AnalyticsSourcesAction)
	srv.Get("/admin/api/sites/:id/referrers", http.AnalyticsReferrersAction)
	srv.Get("/admin/api/sites/:id/devices", http.AnalyticsDevicesAction)
	srv.Get("/admin/api/sites/:id/pages", http.AnalyticsTopPagesAction)
	srv.Get("/admin/api/sites/:id/events", http.AnalyticsTopEventsAction)
	srv.Get("/admin/api/sites/:id/performance", http.AnalyticsPerformanceAction)
	srv.Get("/admin/api/sites/:id/active", http.AnalyticsActiveAction)

	srv.Get("/admin/api/sites/:id/annotations", http.AnnotationsIndexAction)
	srv.Post("/admin/api/sites/:id/annotations", http.AnnotationCreateAction)
	srv.Post("/admin/api/sites/:id/annotations/:annotationId", http.AnnotationUpdateAction)
	srv.Delete("/admin/api/sites/:id/annotations/:annotationId", http.AnnotationDeleteAction)

	srv.Get("/admin/api/summary", http.AnalyticsSummaryAction)

	srv.Get("/admin/api/agent/schema", http.AgentSchemaAction)
	srv.Post("/admin/api/agent/sql", http.AgentSQLAction)

	srv.Get("/admin/api/system/health", http.SystemHealthAction)
	srv.Get("/admin/api/system/settings", http.SystemSettingsIndexAction)
	srv.Post("/admin/api/system/settings", http.SystemSettingsUpdateAction)
	srv.Post("/admin/api/account/change-password", http.AccountChangePasswordAction)
}
