package routes

import (
	"github.com/gofiber/fiber/v2"

	"brokerage-backend/controllers"
	"brokerage-backend/keys"
	"brokerage-backend/middlewares"
)

// Deps are the explicitly constructed controllers wired by the composition
// root. No package-level singletons.
type Deps struct {
	Auth     *controllers.AuthController
	Keys     *controllers.KeyManagementController
	Payments *controllers.PaymentController
	KeyStore *keys.Store
}

// Register wires all HTTP routes.
func Register(app *fiber.App, d Deps) {
	api := app.Group("/api")

	// Public auth endpoints
	api.Post("/registration", d.Auth.Register)
	api.Post("/login", d.Auth.Login)

	// Protected endpoints (JWT auth against the key store)
	protected := api.Group("")
	protected.Use(middlewares.IsAuthenticated(d.KeyStore))

	// Idempotency-Key validation FIRST, so handlers can trust Locals
	protected.Use(middlewares.IdempotencyKey())

	// Payments (idempotent mutations + reads)
	protected.Post("/payments", d.Payments.CreatePayment)
	protected.Get("/payments", d.Payments.ListPayments)
	protected.Get("/payments/:id", d.Payments.GetPayment)
	protected.Post("/payments/:id/capture", d.Payments.CapturePayment)

	// Key management (status/list for any authenticated caller; mutation is
	// admin-only)
	km := protected.Group("/key-management")
	km.Get("/status", d.Keys.Status)
	km.Get("/keys", d.Keys.ListKeys)
	km.Post("/rotate", middlewares.RequireAdmin(), d.Keys.Rotate)
	km.Post("/keys/:kid/revoke", middlewares.RequireAdmin(), d.Keys.RevokeKey)
}
