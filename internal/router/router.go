package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/carmod-studio/internal/config"
	"github.com/iliyamo/carmod-studio/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/carmod-studio/internal/middleware" // import middleware for JWT authentication and role enforcement
	"github.com/iliyamo/carmod-studio/internal/model"
)

// RegisterRoutes registers routes that do not require authentication: the
// health check and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, health handler.Health, metrics http.Handler) {
	e.GET("/healthz", health.Check)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterAuth registers the session endpoints.  Login is rate limited per
// client address when Redis is available.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, authn echo.MiddlewareFunc, rdb *redis.Client) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login, middleware.NewTokenBucket(config.LoadRateLimitConfig("login"), rdb))
	g.POST("/refresh", a.Refresh)
	// Logout needs no valid access token; see AuthHandler.Logout.
	g.POST("/logout", a.Logout)

	e.GET("/v1/me", a.Me, authn)
}

// RegisterInventory registers /v1/inventory.  Every role may read inventory
// within its scope; only admins write.
func RegisterInventory(e *echo.Echo, h *handler.InventoryHandler, authn echo.MiddlewareFunc) {
	g := e.Group("/v1/inventory", authn)
	admin := middleware.RequireRole(model.RoleAdmin)

	g.GET("", h.List)
	g.POST("", h.Create, admin)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update, admin)
	g.PATCH("/:id", h.Update, admin)
	g.DELETE("/:id", h.Delete, admin)
}

// RegisterAccounts registers operator and admin account management.
// Per-record ownership is enforced by the account service.
func RegisterAccounts(e *echo.Echo, h *handler.AccountHandler, authn echo.MiddlewareFunc) {
	managers := middleware.RequireRole(model.RoleProvider, model.RoleAdmin)

	ops := e.Group("/v1/operator", authn)
	ops.GET("", h.ListOperators, managers)
	ops.POST("", h.CreateOperator, managers)
	ops.GET("/:id", h.GetOperator)
	ops.PUT("/:id", h.UpdateOperator)
	ops.PATCH("/:id", h.UpdateOperator)
	ops.DELETE("/:id", h.DeleteOperator)

	admins := e.Group("/v1/admins", authn, managers)
	admins.GET("", h.ListAdmins, middleware.RequireRole(model.RoleProvider))
	admins.GET("/:id", h.GetAdmin)
	admins.PUT("/:id", h.UpdateAdmin)
	admins.PATCH("/:id", h.UpdateAdmin)
	admins.DELETE("/:id", h.DeleteAdmin)
}
