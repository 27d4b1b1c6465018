package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/stablegate/stablegate/app/models"
	"github.com/stablegate/stablegate/app/repository"
	"github.com/stablegate/stablegate/internal/pkg/addrcrypto"
	"github.com/stablegate/stablegate/internal/pkg/chains"
)

// SanctionsChecker screens an address against the sanctions list and returns
// the matched SDN names, empty when clean.
type SanctionsChecker interface {
	SanctionedNames(address string) ([]string, error)
}

// EventDispatcher enqueues an outbound webhook event for a tenant.
type EventDispatcher interface {
	Enqueue(tenantID, event string, data map[string]any) error
}

// Enroller is the monitor-side contract for tracking a payment on-chain.
type Enroller interface {
	Enroll(paymentID string)
	Unenroll(paymentID string)
}

// SubscriptionActivator activates the subscription of a confirmed payment
// inside the caller's transaction.
type SubscriptionActivator interface {
	ActivateTx(txRepos *repository.Repositories, payment *models.Payment) (*models.Subscription, error)
}

// Receivers holds the process-level receiving addresses. Tenants may override
// them individually.
type Receivers struct {
	EVM  string
	Tron string
}

// For returns the process-level receiver for the network, "" when none is
// configured.
func (r Receivers) For(n chains.Network) string {
	if n.IsEVM() {
		return r.EVM
	}
	if n == chains.NetworkTron {
		return r.Tron
	}
	return ""
}

// Service is the payment engine. It owns the payment state machine and the
// invariants around creation and confirmation.
type Service struct {
	repos     *repository.Repositories
	box       *addrcrypto.Box
	sanctions SanctionsChecker
	events    EventDispatcher
	monitor   Enroller
	subs      SubscriptionActivator
	receivers Receivers
	now       func() time.Time
}

// NewService wires the payment engine.
func NewService(repos *repository.Repositories, box *addrcrypto.Box, sanctions SanctionsChecker, events EventDispatcher, monitor Enroller, subs SubscriptionActivator, receivers Receivers) *Service {
	return &Service{
		repos:     repos,
		box:       box,
		sanctions: sanctions,
		events:    events,
		monitor:   monitor,
		subs:      subs,
		receivers: receivers,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetEnroller installs the monitor after construction. The engine and the
// monitor reference each other, so one side is wired late.
func (s *Service) SetEnroller(m Enroller) {
	s.monitor = m
}

// PlanInput carries the fields for plan creation.
type PlanInput struct {
	PlanKey     string
	Name        string
	Description string
	Price       decimal.Decimal
	Currency    string
	PeriodDays  *int
	Features    []string
}

// PlanUpdate carries the mutable plan fields; nil means unchanged.
type PlanUpdate struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	PeriodDays  *int
	Features    []string
	IsActive    *bool
}

// CreatePlan creates a plan for the tenant. The plan key must be unique
// within the tenant.
func (s *Service) CreatePlan(tenantID string, in PlanInput) (*models.Plan, error) {
	if in.PlanKey == "" || in.Name == "" {
		return nil, NewError(CodeValidation, "plan_key and name are required")
	}
	if !in.Price.IsPositive() {
		return nil, NewError(CodeValidation, "price must be positive")
	}
	if in.PeriodDays != nil && *in.PeriodDays <= 0 {
		return nil, NewError(CodeValidation, "period_days must be positive when set")
	}
	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}

	plan := &models.Plan{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		PlanKey:     in.PlanKey,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Currency:    currency,
		PeriodDays:  in.PeriodDays,
		IsActive:    true,
	}
	plan.SetFeatures(in.Features)

	if err := s.repos.Plan.Create(plan); err != nil {
		if errors.Is(err, repository.ErrDuplicatePlanKey) {
			return nil, NewError(CodeInvalidPlan, "plan key %q already exists", in.PlanKey)
		}
		return nil, err
	}
	return plan, nil
}

// UpdatePlan applies a partial update to a tenant's plan.
func (s *Service) UpdatePlan(tenantID, planID string, in PlanUpdate) (*models.Plan, error) {
	plan, err := s.repos.Plan.GetByID(tenantID, planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(CodeNotFound, "plan %s not found", planID)
		}
		return nil, err
	}
	if in.Name != nil {
		plan.Name = *in.Name
	}
	if in.Description != nil {
		plan.Description = *in.Description
	}
	if in.Price != nil {
		if !in.Price.IsPositive() {
			return nil, NewError(CodeValidation, "price must be positive")
		}
		plan.Price = *in.Price
	}
	if in.PeriodDays != nil {
		plan.PeriodDays = in.PeriodDays
	}
	if in.Features != nil {
		plan.SetFeatures(in.Features)
	}
	if in.IsActive != nil {
		plan.IsActive = *in.IsActive
	}
	if err := s.repos.Plan.Update(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListPlans returns the tenant's active plans.
func (s *Service) ListPlans(tenantID string) ([]models.Plan, error) {
	return s.repos.Plan.ListActive(tenantID)
}

// Placement is the result of a successful payment initiation: everything the
// paying user needs to send the transfer.
type Placement struct {
	PaymentID       string          `json:"payment_id"`
	ReceiverAddress string          `json:"receiver_address"`
	Amount          decimal.Decimal `json:"amount"`
	Token           string          `json:"token"`
	Network         string          `json:"network"`
	ExpiresAt       time.Time       `json:"expires_at"`
	ExpiresIn       int64           `json:"expires_in"`
	QRCodeData      string          `json:"qr_code_data"`
	Instructions    []string        `json:"instructions"`
}

// InitiatePayment validates the request, screens the sender address and
// persists a pending payment. At most one in-flight payment may exist per
// tenant/user.
func (s *Service) InitiatePayment(tenantID, externalUserID, planID, network, token, senderAddress string) (*Placement, error) {
	if externalUserID == "" {
		return nil, NewError(CodeValidation, "external_user_id is required")
	}

	tenant, err := s.repos.Tenant.GetByID(tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(CodeUnauthorized, "unknown tenant")
		}
		return nil, err
	}
	if !tenant.IsActive {
		return nil, NewError(CodeForbidden, "tenant is not active")
	}

	net, err := chains.ParseNetwork(network)
	if err != nil {
		return nil, NewError(CodeValidation, "unsupported network %q", network)
	}
	tok, err := chains.ParseToken(token)
	if err != nil {
		return nil, NewError(CodeValidation, "unsupported token %q", token)
	}

	plan, err := s.repos.Plan.GetByID(tenantID, planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(CodeInvalidPlan, "plan %s not found", planID)
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, NewError(CodeInvalidPlan, "plan %s is not active", planID)
	}

	if err := chains.ValidateAddress(net, senderAddress); err != nil {
		return nil, NewError(CodeInvalidAddress, "invalid sender address for %s", net)
	}
	normalized := chains.NormalizeAddress(net, senderAddress)

	names, err := s.sanctions.SanctionedNames(normalized)
	if err != nil {
		return nil, fmt.Errorf("sanctions screening: %w", err)
	}
	if len(names) > 0 {
		return nil, NewError(CodeOfacSanctioned, "address %s on OFAC SDN list (%s)", normalized, names[0])
	}

	receiver := s.receiverFor(tenant, net)
	if receiver == "" {
		return nil, NewError(CodeInvalidNetwork, "no receiver address configured for network %s", net)
	}

	enc, err := s.box.Encrypt(normalized)
	if err != nil {
		return nil, fmt.Errorf("encrypt sender address: %w", err)
	}

	now := s.now()
	p := &models.Payment{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		ExternalUserID:    externalUserID,
		PlanID:            plan.ID,
		Amount:            plan.Price,
		Token:             string(tok),
		Network:           string(net),
		SenderAddressEnc:  enc,
		SenderAddressHMAC: s.box.LookupDigest(normalized),
		ReceiverAddress:   receiver,
		Status:            models.PaymentStatusPending,
		ExpiresAt:         now.Add(models.PaymentExpiry),
	}

	if err := s.repos.Payment.CreateIfNoInFlight(p); err != nil {
		if errors.Is(err, repository.ErrInFlightExists) {
			return nil, NewError(CodePendingExists, "an in-flight payment already exists for this user")
		}
		return nil, err
	}

	s.emit(tenantID, "payment.created", paymentEventData(p))

	return &Placement{
		PaymentID:       p.ID,
		ReceiverAddress: receiver,
		Amount:          p.Amount,
		Token:           p.Token,
		Network:         p.Network,
		ExpiresAt:       p.ExpiresAt,
		ExpiresIn:       int64(p.ExpiresAt.Sub(now).Seconds()),
		QRCodeData:      receiver,
		Instructions:    paymentInstructions(p),
	}, nil
}

func (s *Service) receiverFor(tenant *models.Tenant, n chains.Network) string {
	if n.IsEVM() && tenant.EVMReceiverAddress != "" {
		return tenant.EVMReceiverAddress
	}
	if n == chains.NetworkTron && tenant.TronReceiverAddress != "" {
		return tenant.TronReceiverAddress
	}
	return s.receivers.For(n)
}

func paymentInstructions(p *models.Payment) []string {
	return []string{
		fmt.Sprintf("Send exactly %s %s on the %s network to the receiver address.", p.Amount.String(), p.Token, p.Network),
		"Use the sender address you registered; transfers from other addresses are not credited.",
		"After sending, confirm the payment so on-chain monitoring can begin.",
		fmt.Sprintf("The payment expires at %s.", p.ExpiresAt.Format(time.RFC3339)),
	}
}

// ConfirmPaymentSent moves a pending payment to awaiting_confirmation and
// enrolls it in the monitor. An expired payment is moved to expired instead.
func (s *Service) ConfirmPaymentSent(paymentID, tenantID string) (*models.Payment, error) {
	p, err := s.getForTenant(paymentID, tenantID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusPending {
		return nil, NewError(CodeInvalidStatus, "payment %s is %s, expected pending", paymentID, p.Status)
	}

	now := s.now()
	if !now.Before(p.ExpiresAt) {
		moved, err := s.repos.Payment.UpdateStatusIf(paymentID, models.PaymentStatusPending, models.PaymentStatusExpired, nil)
		if err != nil {
			return nil, err
		}
		if moved {
			p.Status = models.PaymentStatusExpired
			s.emit(tenantID, "payment.expired", paymentEventData(p))
		}
		return nil, NewError(CodeInvalidStatus, "payment %s has expired", paymentID)
	}

	moved, err := s.repos.Payment.UpdateStatusIf(paymentID, models.PaymentStatusPending, models.PaymentStatusAwaitingConfirmation, nil)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, NewError(CodeInvalidStatus, "payment %s changed state concurrently", paymentID)
	}
	p.Status = models.PaymentStatusAwaitingConfirmation

	s.monitor.Enroll(p.ID)
	return p, nil
}

// StatusView is the caller-facing projection of a payment.
type StatusView struct {
	PaymentID       string          `json:"payment_id"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Token           string          `json:"token"`
	Network         string          `json:"network"`
	ReceiverAddress string          `json:"receiver_address"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	ExpiresIn       *int64          `json:"expires_in,omitempty"`
	TxHash          *string         `json:"tx_hash,omitempty"`
	ExplorerURL     string          `json:"explorer_url,omitempty"`
	Confirmations   int64           `json:"confirmations"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// GetPaymentStatus returns the status view of a tenant's payment.
func (s *Service) GetPaymentStatus(paymentID, tenantID string) (*StatusView, error) {
	p, err := s.getForTenant(paymentID, tenantID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		PaymentID:       p.ID,
		Status:          p.Status,
		Amount:          p.Amount,
		Token:           p.Token,
		Network:         p.Network,
		ReceiverAddress: p.ReceiverAddress,
		TxHash:          p.TxHash,
		Confirmations:   p.Confirmations,
		ConfirmedAt:     p.TxConfirmedAt,
		ErrorMessage:    p.ErrorMessage,
		CreatedAt:       p.CreatedAt,
	}
	if p.InFlight() {
		expiresAt := p.ExpiresAt
		view.ExpiresAt = &expiresAt
		remaining := int64(expiresAt.Sub(s.now()).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		view.ExpiresIn = &remaining
	}
	if p.TxHash != nil {
		view.ExplorerURL = chains.ExplorerTxLink(chains.Network(p.Network), *p.TxHash)
	}
	return view, nil
}

// CancelPayment cancels a pending payment. Any other state rejects.
func (s *Service) CancelPayment(paymentID, tenantID string) error {
	p, err := s.getForTenant(paymentID, tenantID)
	if err != nil {
		return err
	}
	if p.Status != models.PaymentStatusPending {
		return NewError(CodeCannotCancel, "payment %s is %s and cannot be cancelled", paymentID, p.Status)
	}
	moved, err := s.repos.Payment.UpdateStatusIf(paymentID, models.PaymentStatusPending, models.PaymentStatusCancelled, nil)
	if err != nil {
		return err
	}
	if !moved {
		return NewError(CodeCannotCancel, "payment %s changed state concurrently", paymentID)
	}
	return nil
}

// GetPaymentHistory returns the user's payments newest-first, capped at 50.
func (s *Service) GetPaymentHistory(tenantID, externalUserID string, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}
	return s.repos.Payment.History(tenantID, externalUserID, limit)
}

// HandleConfirmedTransaction moves an awaiting_confirmation payment to
// confirmed and activates its subscription in one transaction. A transaction
// hash can confirm at most one payment.
func (s *Service) HandleConfirmedTransaction(paymentID, txHash string, confirmations int64, amount decimal.Decimal) error {
	if existing, err := s.repos.Payment.GetByTxHash(txHash); err == nil && existing.ID != paymentID {
		return NewError(CodeInvalidStatus, "transaction %s is already bound to payment %s", txHash, existing.ID)
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := s.now()
	var confirmed *models.Payment
	var sub *models.Subscription

	err := s.repos.WithTx(func(tx *repository.Repositories) error {
		moved, err := tx.Payment.UpdateStatusIf(paymentID,
			models.PaymentStatusAwaitingConfirmation, models.PaymentStatusConfirmed,
			map[string]any{
				"tx_hash":         txHash,
				"confirmations":   confirmations,
				"tx_confirmed_at": now,
			})
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateTxHash) {
				return NewError(CodeInvalidStatus, "transaction %s is already bound to another payment", txHash)
			}
			return err
		}
		if !moved {
			return NewError(CodeInvalidStatus, "payment %s is no longer awaiting confirmation", paymentID)
		}

		confirmed, err = tx.Payment.GetByID(paymentID)
		if err != nil {
			return err
		}
		sub, err = s.subs.ActivateTx(tx, confirmed)
		return err
	})
	if err != nil {
		return err
	}

	log.Infof("[Payment] confirmed %s tx=%s confirmations=%d amount=%s", paymentID, txHash, confirmations, amount.String())

	s.emit(confirmed.TenantID, "payment.confirmed", paymentEventData(confirmed))
	s.emit(confirmed.TenantID, "subscription.activated", subscriptionEventData(sub))
	return nil
}

// ExpireDuePayments moves in-flight payments past their deadline to expired
// and emits payment.expired for each. It returns the number moved.
func (s *Service) ExpireDuePayments() (int, error) {
	due, err := s.repos.Payment.ExpiredInFlight(s.now())
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range due {
		p := due[i]
		moved, err := s.repos.Payment.UpdateStatusIf(p.ID, p.Status, models.PaymentStatusExpired, nil)
		if err != nil {
			log.Errorf("[Payment] expire %s: %v", p.ID, err)
			continue
		}
		if !moved {
			continue
		}
		count++
		s.monitor.Unenroll(p.ID)
		p.Status = models.PaymentStatusExpired
		s.emit(p.TenantID, "payment.expired", paymentEventData(&p))
	}
	return count, nil
}

// MarkExpired moves an awaiting_confirmation payment past its deadline to
// expired and emits payment.expired.
func (s *Service) MarkExpired(p *models.Payment) error {
	moved, err := s.repos.Payment.UpdateStatusIf(p.ID, models.PaymentStatusAwaitingConfirmation, models.PaymentStatusExpired, nil)
	if err != nil {
		return err
	}
	if moved {
		p.Status = models.PaymentStatusExpired
		s.emit(p.TenantID, "payment.expired", paymentEventData(p))
	}
	return nil
}

// MarkFailed moves an awaiting_confirmation payment to failed with the error
// message and emits payment.failed.
func (s *Service) MarkFailed(p *models.Payment, message string) error {
	moved, err := s.repos.Payment.UpdateStatusIf(p.ID,
		models.PaymentStatusAwaitingConfirmation, models.PaymentStatusFailed,
		map[string]any{"error_message": message})
	if err != nil {
		return err
	}
	if moved {
		p.Status = models.PaymentStatusFailed
		p.ErrorMessage = message
		s.emit(p.TenantID, "payment.failed", paymentEventData(p))
	}
	return nil
}

// SenderAddress decrypts the payment's stored sender address.
func (s *Service) SenderAddress(p *models.Payment) (string, error) {
	return s.box.Decrypt(p.SenderAddressEnc)
}

func (s *Service) getForTenant(paymentID, tenantID string) (*models.Payment, error) {
	p, err := s.repos.Payment.GetForTenant(paymentID, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(CodeNotFound, "payment %s not found", paymentID)
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) emit(tenantID, event string, data map[string]any) {
	if err := s.events.Enqueue(tenantID, event, data); err != nil {
		log.Errorf("[Payment] enqueue %s webhook: %v", event, err)
	}
}

func paymentEventData(p *models.Payment) map[string]any {
	data := map[string]any{
		"paymentId":      p.ID,
		"externalUserId": p.ExternalUserID,
		"planId":         p.PlanID,
		"amount":         p.Amount.String(),
		"token":          p.Token,
		"network":        p.Network,
		"status":         p.Status,
		"expiresAt":      p.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if p.TxHash != nil {
		data["txHash"] = *p.TxHash
		data["confirmations"] = p.Confirmations
	}
	if p.TxConfirmedAt != nil {
		data["confirmedAt"] = p.TxConfirmedAt.UTC().Format(time.RFC3339)
	}
	if p.ErrorMessage != "" {
		data["error"] = p.ErrorMessage
	}
	return data
}

func subscriptionEventData(sub *models.Subscription) map[string]any {
	data := map[string]any{
		"subscriptionId": sub.ID,
		"externalUserId": sub.ExternalUserID,
		"planId":         sub.PlanID,
		"startsAt":       sub.StartsAt.UTC().Format(time.RFC3339),
	}
	if sub.PaymentID != nil {
		data["paymentId"] = *sub.PaymentID
	}
	if sub.EndsAt != nil {
		data["endsAt"] = sub.EndsAt.UTC().Format(time.RFC3339)
	} else {
		data["endsAt"] = nil
	}
	return data
}
