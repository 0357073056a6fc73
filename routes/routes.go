package routes

import (
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"blafast-backend/controllers"
	"blafast-backend/deferral"
	"blafast-backend/middlewares"
)

// Deps carries everything the HTTP surface needs. The worker builds the same
// app to replay deferred requests headlessly, so app construction lives here
// rather than in the api command.
type Deps struct {
	Members    middlewares.MembershipChecker
	Rules      *deferral.RuleCache
	Dispatcher *deferral.Dispatcher

	Deferred *controllers.DeferredController
	RuleCtl  *controllers.RuleController
	Reports  *controllers.ReportController

	// DisableAuthRoutes leaves out /registration and /login; the worker's
	// replay app has no use for them (and no database.DB in tests).
	DisableAuthRoutes bool
}

// envInt reads an int env var with a default fallback.
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// NewApp builds the fiber application with the shared middleware pipeline.
func NewApp(d Deps) *fiber.App {
	bodyLimitBytes := envInt("BODY_LIMIT_BYTES", 0)
	if bodyLimitBytes <= 0 {
		bodyLimitBytes = envInt("BODY_LIMIT_MB", 4) * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler,
		BodyLimit:    bodyLimitBytes,
	})

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " +
			deferral.HeaderOrganization + ", " + deferral.HeaderDefer,
	}))

	rlMax := envInt("RATE_LIMIT_MAX", 60)
	rlWindow := time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
	app.Use(limiter.New(limiter.Config{
		Max:        rlMax,
		Expiration: rlWindow,
	}))

	Register(app, d)
	return app
}

// Register wires all HTTP routes.
func Register(app *fiber.App, d Deps) {
	api := app.Group("/api")

	// Public auth endpoints
	if !d.DisableAuthRoutes {
		api.Post("/registration", controllers.Register)
		api.Post("/login", controllers.Login)
		api.Post("/logout", controllers.Logout)
	}

	// Protected endpoints (JWT auth)
	protected := api.Group("")
	protected.Use(middlewares.IsAuthenticatedHeader())

	// Organization context BEFORE deferral: the decision needs the tenant.
	protected.Use(middlewares.OrganizationContext(d.Members))

	// Deferral interception; replays carry the sentinel header and fall
	// through to the real handlers below.
	protected.Use(middlewares.Deferral(d.Rules, d.Dispatcher))

	// Deferred request polling surface
	protected.Get("/deferred-requests", d.Deferred.List)
	protected.Get("/deferred-requests/:id", d.Deferred.Poll)
	protected.Post("/deferred-requests/:id/cancel", d.Deferred.Cancel)

	// Endpoint rules
	protected.Post("/endpoint-rules", d.RuleCtl.Create)
	protected.Get("/endpoint-rules", d.RuleCtl.List)
	protected.Patch("/endpoint-rules/:id", d.RuleCtl.Update)

	// Deferrable business endpoints
	protected.Post("/v1/reports/generate", d.Reports.Generate)
}
