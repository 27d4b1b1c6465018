package tenantcontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stablegate/stablegate/app/models"
)

// Locals keys set by the API key middleware.
const (
	KeyTenantContext = "TENANT_CONTEXT"
	KeyTenantID      = "TENANT_ID"
)

// TenantContext is the authenticated tenant identity carried through a
// request.
type TenantContext struct {
	TenantID string
	Name     string
	Tenant   *models.Tenant
}

// FromFiber returns the tenant context of an authenticated request. The
// second return is false on unauthenticated requests.
func FromFiber(c *fiber.Ctx) (TenantContext, bool) {
	ctx, ok := c.Locals(KeyTenantContext).(TenantContext)
	return ctx, ok
}

// TenantID returns the authenticated tenant id, "" when unauthenticated.
func TenantID(c *fiber.Ctx) string {
	if id, ok := c.Locals(KeyTenantID).(string); ok {
		return id
	}
	return ""
}
