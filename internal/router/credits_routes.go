package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/carmod-studio/internal/handler"
	"github.com/iliyamo/carmod-studio/internal/middleware"
	"github.com/iliyamo/carmod-studio/internal/model"
)

// RegisterCredits registers purchases, balances and transaction history.
// Operators may read the balance they spend from, which is their admin's.
func RegisterCredits(e *echo.Echo, h *handler.CreditsHandler, authn echo.MiddlewareFunc) {
	admin := middleware.RequireRole(model.RoleAdmin)

	v1 := e.Group("/v1", authn)
	v1.POST("/create-payment-intent", h.CreateIntent, admin)
	v1.POST("/credits/buy", h.Buy, admin)
	v1.GET("/credits/balance", h.Balance, middleware.RequireRole(model.RoleAdmin, model.RoleOperator))

	tx := e.Group("/v1/transactions", authn, middleware.RequireRole(model.RoleProvider, model.RoleAdmin))
	tx.GET("", h.ListTransactions)
	tx.GET("/:id", h.GetTransaction)
}

// RegisterWebhooks registers the Stripe webhook.  It is authenticated by
// the signature header, not by a session.
func RegisterWebhooks(e *echo.Echo, h *handler.WebhookHandler) {
	e.POST("/v1/webhooks/stripe", h.Stripe)
}
