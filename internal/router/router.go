package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/time-capsule/internal/handler"
	"github.com/iliyamo/time-capsule/internal/middleware"
	"github.com/iliyamo/time-capsule/internal/utils"
)

// Handlers groups everything the routes are bound to.
type Handlers struct {
	Health   echo.HandlerFunc
	Capsules *handler.CapsuleHandler
	Payments *handler.PaymentHandler
	Access   *handler.AccessHandler
}

// Middleware holds the shared middleware instances.  Nil entries are
// skipped.
type Middleware struct {
	RateLimit echo.MiddlewareFunc
	ViewCache echo.MiddlewareFunc
}

func use(mws ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(mws))
	for _, m := range mws {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// RegisterRoutes registers the unauthenticated routes: health, checkout,
// paid submission, views and payment endpoints.
func RegisterRoutes(e *echo.Echo, h Handlers, mw Middleware) {
	e.GET("/healthz", h.Health)

	limited := use(mw.RateLimit)
	cached := use(mw.ViewCache)

	e.GET("/v1/checkout", h.Capsules.Checkout)
	e.POST("/v1/capsules", h.Capsules.Submit, limited...)
	e.GET("/v1/capsules/:id", h.Capsules.View, cached...)
	e.GET("/v/:id", h.Capsules.View, cached...)
	e.GET("/v1/capsules/:id/countdown", h.Capsules.Countdown)

	e.GET("/v1/payments/callback", h.Payments.Callback, limited...)
	e.POST("/v1/payments/reclaim", h.Payments.Reclaim, limited...)
	e.POST("/v1/payments/webhook", h.Payments.Webhook)

	if h.Access != nil {
		e.POST("/v1/access", h.Access.Exchange, limited...)
	}
}

// RegisterFreeAccess registers the privileged submission route.  It
// requires a JWT signed with jwtSecret carrying the FREE_ACCESS role.
func RegisterFreeAccess(e *echo.Echo, h Handlers, mw Middleware, jwtSecret string) {
	g := e.Group("/v1/capsules/free")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(utils.RoleFreeAccess))
	g.Use(use(mw.RateLimit)...)
	g.POST("", h.Capsules.SubmitFree)
}
