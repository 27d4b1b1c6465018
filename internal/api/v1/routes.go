package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stablegate/stablegate/internal/pkg/middleware"
)

// RegisterHandlers mounts all v1 routes on the given router group. Public
// routes need no credentials; everything else requires a tenant API key.
func RegisterHandlers(r fiber.Router, s *APIServer) {
	r.Get("/health", s.GetHealth)
	r.Get("/networks", s.GetNetworks)
	r.Post("/validate-address", s.PostValidateAddress)
	r.Get("/ofac/status", s.GetOfacStatus)
	r.Get("/ofac/check/:address", s.GetOfacCheck)

	auth := r.Group("", middleware.APIKeyAuthMiddleware())

	auth.Get("/plans", s.GetPlans)
	auth.Post("/plans", s.PostPlans)
	auth.Patch("/plans/:id", s.PatchPlan)

	auth.Post("/payments", s.PostPayments)
	// history before :id so the static segment wins
	auth.Get("/payments/history", s.GetPaymentHistory)
	auth.Post("/payments/:id/confirm", s.PostPaymentConfirm)
	auth.Get("/payments/:id/status", s.GetPaymentStatus)
	auth.Delete("/payments/:id", s.DeletePayment)

	auth.Get("/stats", s.GetStats)

	auth.Get("/subscriptions/current", s.GetSubscriptionCurrent)
	auth.Get("/subscriptions/history", s.GetSubscriptionHistory)
	auth.Get("/subscriptions/active", s.GetSubscriptionActive)

	auth.Post("/ofac/update", s.PostOfacUpdate)
}
