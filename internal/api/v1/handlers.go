package apiv1

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/stablegate/stablegate/internal/pkg/chains"
	"github.com/stablegate/stablegate/internal/pkg/monitor"
	"github.com/stablegate/stablegate/internal/pkg/ofac"
	"github.com/stablegate/stablegate/internal/pkg/payment"
	"github.com/stablegate/stablegate/internal/pkg/statistics"
	"github.com/stablegate/stablegate/internal/pkg/subscription"
	"github.com/stablegate/stablegate/internal/pkg/tenantcontext"
)

// APIServer hosts the HTTP handlers over the domain services.
type APIServer struct {
	payments      *payment.Service
	subscriptions *subscription.Service
	sanctions     *ofac.Service
	monitor       *monitor.Monitor
	registry      *chains.Registry
	stats         *statistics.Service
	validate      *validator.Validate
}

// NewAPIServer creates a new API server instance
func NewAPIServer(payments *payment.Service, subscriptions *subscription.Service, sanctions *ofac.Service, mon *monitor.Monitor, registry *chains.Registry, stats *statistics.Service) *APIServer {
	return &APIServer{
		payments:      payments,
		subscriptions: subscriptions,
		sanctions:     sanctions,
		monitor:       mon,
		registry:      registry,
		stats:         stats,
		validate:      validator.New(),
	}
}

// httpStatusFor maps domain error codes to HTTP status codes.
func httpStatusFor(code string) int {
	switch code {
	case payment.CodeValidation, payment.CodeInvalidPlan, payment.CodeInvalidAddress, payment.CodeInvalidNetwork:
		return fiber.StatusBadRequest
	case payment.CodeUnauthorized:
		return fiber.StatusUnauthorized
	case payment.CodeForbidden, payment.CodeOfacSanctioned:
		return fiber.StatusForbidden
	case payment.CodeNotFound:
		return fiber.StatusNotFound
	case payment.CodeInvalidStatus, payment.CodePendingExists, payment.CodeCannotCancel:
		return fiber.StatusConflict
	case payment.CodeRateLimited:
		return fiber.StatusTooManyRequests
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	var domainErr *payment.Error
	if errors.As(err, &domainErr) {
		return c.Status(httpStatusFor(domainErr.Code)).JSON(fiber.Map{
			"error":   domainErr.Code,
			"message": domainErr.Message,
		})
	}
	log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   payment.CodeInternal,
		"message": "An internal error occurred",
	})
}

func validationError(c *fiber.Ctx, message string, details any) error {
	body := fiber.Map{"error": payment.CodeValidation, "message": message}
	if details != nil {
		body["details"] = details
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

func (s *APIServer) parseAndValidate(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return errors.New("malformed JSON body")
	}
	if err := s.validate.Struct(out); err != nil {
		return err
	}
	return nil
}

// GetHealth reports liveness and the monitor queue depth.
func (s *APIServer) GetHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":           "ok",
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"monitorQueueSize": s.monitor.Size(),
	})
}

// GetNetworks enumerates the supported networks and their tokens.
func (s *APIServer) GetNetworks(c *fiber.Ctx) error {
	type networkInfo struct {
		Network             string   `json:"network"`
		DisplayName         string   `json:"display_name"`
		Tokens              []string `json:"tokens"`
		FeeHint             string   `json:"fee_hint"`
		AvgConfirmationTime string   `json:"avg_confirmation_time"`
		MinConfirmations    int64    `json:"min_confirmations"`
		Recommended         bool     `json:"recommended"`
		MonitoringAvailable bool     `json:"monitoring_available"`
	}

	networks := make([]networkInfo, 0, len(chains.Networks()))
	for _, n := range chains.Networks() {
		cfg, err := chains.ConfigFor(n)
		if err != nil {
			continue
		}
		tokens := make([]string, 0, len(cfg.TokenContracts))
		for _, t := range chains.Tokens() {
			if _, ok := cfg.TokenContracts[t]; ok {
				tokens = append(tokens, string(t))
			}
		}
		networks = append(networks, networkInfo{
			Network:             string(n),
			DisplayName:         cfg.DisplayName,
			Tokens:              tokens,
			FeeHint:             cfg.FeeHint,
			AvgConfirmationTime: cfg.AvgConfirmDuration,
			MinConfirmations:    cfg.MinConfirmations,
			Recommended:         cfg.Recommended,
			MonitoringAvailable: s.registry.Available(n),
		})
	}
	return c.JSON(fiber.Map{"networks": networks})
}

// GetPlans lists the tenant's active plans.
func (s *APIServer) GetPlans(c *fiber.Ctx) error {
	plans, err := s.payments.ListPlans(tenantcontext.TenantID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

type createPlanRequest struct {
	PlanKey     string          `json:"plan_key" validate:"required,max=100"`
	Name        string          `json:"name" validate:"required,max=191"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency" validate:"omitempty,max=10"`
	PeriodDays  *int            `json:"period_days"`
	Features    []string        `json:"features"`
}

// PostPlans creates a plan for the tenant.
func (s *APIServer) PostPlans(c *fiber.Ctx) error {
	var req createPlanRequest
	if err := s.parseAndValidate(c, &req); err != nil {
		return validationError(c, "Invalid plan payload", err.Error())
	}
	plan, err := s.payments.CreatePlan(tenantcontext.TenantID(c), payment.PlanInput{
		PlanKey:     req.PlanKey,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
		PeriodDays:  req.PeriodDays,
		Features:    req.Features,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

type updatePlanRequest struct {
	Name        *string          `json:"name" validate:"omitempty,max=191"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	PeriodDays  *int             `json:"period_days"`
	Features    []string         `json:"features"`
	IsActive    *bool            `json:"is_active"`
}

// PatchPlan partially updates a tenant's plan.
func (s *APIServer) PatchPlan(c *fiber.Ctx) error {
	var req updatePlanRequest
	if err := s.parseAndValidate(c, &req); err != nil {
		return validationError(c, "Invalid plan payload", err.Error())
	}
	plan, err := s.payments.UpdatePlan(tenantcontext.TenantID(c), c.Params("id"), payment.PlanUpdate{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		PeriodDays:  req.PeriodDays,
		Features:    req.Features,
		IsActive:    req.IsActive,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(plan)
}

type initiatePaymentRequest struct {
	ExternalUserID string `json:"external_user_id" validate:"required,max=191"`
	PlanID         string `json:"plan_id" validate:"required,max=36"`
	Network        string `json:"network" validate:"required"`
	Token          string `json:"token" validate:"required"`
	SenderAddress  string `json:"sender_address" validate:"required,max=128"`
}

// PostPayments initiates a payment.
func (s *APIServer) PostPayments(c *fiber.Ctx) error {
	var req initiatePaymentRequest
	if err := s.parseAndValidate(c, &req); err != nil {
		return validationError(c, "Invalid payment payload", err.Error())
	}
	placement, err := s.payments.InitiatePayment(
		tenantcontext.TenantID(c), req.ExternalUserID, req.PlanID,
		req.Network, req.Token, req.SenderAddress)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(placement)
}

// PostPaymentConfirm moves a pending payment to awaiting_confirmation.
func (s *APIServer) PostPaymentConfirm(c *fiber.Ctx) error {
	p, err := s.payments.ConfirmPaymentSent(c.Params("id"), tenantcontext.TenantID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"payment_id": p.ID,
		"status":     p.Status,
		"expires_at": p.ExpiresAt,
	})
}

// GetPaymentStatus returns the status view of a payment.
func (s *APIServer) GetPaymentStatus(c *fiber.Ctx) error {
	view, err := s.payments.GetPaymentStatus(c.Params("id"), tenantcontext.TenantID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}

// GetPaymentHistory returns the user's payments newest-first.
func (s *APIServer) GetPaymentHistory(c *fiber.Ctx) error {
	externalUserID := c.Query("external_user_id")
	if externalUserID == "" {
		return validationError(c, "external_user_id query parameter is required", nil)
	}
	payments, err := s.payments.GetPaymentHistory(tenantcontext.TenantID(c), externalUserID, c.QueryInt("limit"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payments": payments})
}

// DeletePayment cancels a pending payment.
func (s *APIServer) DeletePayment(c *fiber.Ctx) error {
	if err := s.payments.CancelPayment(c.Params("id"), tenantcontext.TenantID(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}

type validateAddressRequest struct {
	Network string `json:"network" validate:"required"`
	Address string `json:"address" validate:"required,max=128"`
}

// PostValidateAddress checks an address format for a network.
func (s *APIServer) PostValidateAddress(c *fiber.Ctx) error {
	var req validateAddressRequest
	if err := s.parseAndValidate(c, &req); err != nil {
		return validationError(c, "Invalid validation payload", err.Error())
	}
	network, err := chains.ParseNetwork(req.Network)
	if err != nil {
		return validationError(c, err.Error(), nil)
	}
	if err := chains.ValidateAddress(network, req.Address); err != nil {
		return c.JSON(fiber.Map{"valid": false, "message": err.Error()})
	}
	return c.JSON(fiber.Map{
		"valid":      true,
		"normalized": chains.NormalizeAddress(network, req.Address),
	})
}

// GetSubscriptionCurrent returns the user's active subscription, if any.
func (s *APIServer) GetSubscriptionCurrent(c *fiber.Ctx) error {
	externalUserID := c.Query("external_user_id")
	if externalUserID == "" {
		return validationError(c, "external_user_id query parameter is required", nil)
	}
	view, err := s.subscriptions.CurrentSubscription(tenantcontext.TenantID(c), externalUserID)
	if err != nil {
		return respondError(c, err)
	}
	if view == nil {
		return c.JSON(fiber.Map{"subscription": nil})
	}
	return c.JSON(fiber.Map{"subscription": view})
}

// GetSubscriptionHistory returns all subscriptions of the user.
func (s *APIServer) GetSubscriptionHistory(c *fiber.Ctx) error {
	externalUserID := c.Query("external_user_id")
	if externalUserID == "" {
		return validationError(c, "external_user_id query parameter is required", nil)
	}
	subs, err := s.subscriptions.History(tenantcontext.TenantID(c), externalUserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

// GetSubscriptionActive reports whether the user holds an active subscription.
func (s *APIServer) GetSubscriptionActive(c *fiber.Ctx) error {
	externalUserID := c.Query("external_user_id")
	if externalUserID == "" {
		return validationError(c, "external_user_id query parameter is required", nil)
	}
	active, err := s.subscriptions.IsActive(tenantcontext.TenantID(c), externalUserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"active": active})
}

// GetStats returns the tenant's payment and subscription aggregates.
func (s *APIServer) GetStats(c *fiber.Ctx) error {
	stats, err := s.stats.TenantStats(tenantcontext.TenantID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// GetOfacStatus reports the state of the local sanctions data.
func (s *APIServer) GetOfacStatus(c *fiber.Ctx) error {
	status, err := s.sanctions.GetStatus()
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status)
}

// GetOfacCheck screens one address.
func (s *APIServer) GetOfacCheck(c *fiber.Ctx) error {
	address := c.Params("address")
	if address == "" {
		return validationError(c, "address path parameter is required", nil)
	}
	result, err := s.sanctions.CheckAddress(address)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// PostOfacUpdate forces a sanctions list refresh.
func (s *APIServer) PostOfacUpdate(c *fiber.Ctx) error {
	result, err := s.sanctions.Update()
	if err != nil {
		if errors.Is(err, ofac.ErrUpdateInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   payment.CodeInvalidStatus,
				"message": "An OFAC update is already in progress",
			})
		}
		return respondError(c, err)
	}
	return c.JSON(result)
}
