package repository

import (
	"time"

	"github.com/stablegate/stablegate/app/models"
)

// TenantRepository defines tenant persistence operations.
type TenantRepository interface {
	Create(tenant *models.Tenant) error
	GetByID(id string) (*models.Tenant, error)
	GetByAPIKeyHash(hash string) (*models.Tenant, error)
	Update(tenant *models.Tenant) error
}

// PlanRepository defines plan persistence operations.
type PlanRepository interface {
	Create(plan *models.Plan) error
	GetByID(tenantID, id string) (*models.Plan, error)
	GetByKey(tenantID, planKey string) (*models.Plan, error)
	ListActive(tenantID string) ([]models.Plan, error)
	Update(plan *models.Plan) error
}

// PaymentRepository defines payment persistence operations. Creation and the
// confirmed transition carry the uniqueness invariants of the engine.
type PaymentRepository interface {
	// CreateIfNoInFlight inserts the payment unless the user already holds a
	// pending or awaiting_confirmation payment; then it returns ErrInFlightExists.
	CreateIfNoInFlight(payment *models.Payment) error
	GetByID(id string) (*models.Payment, error)
	GetForTenant(id, tenantID string) (*models.Payment, error)
	GetByTxHash(txHash string) (*models.Payment, error)
	PendingForUser(tenantID, externalUserID string) (*models.Payment, error)
	AwaitingConfirmation() ([]models.Payment, error)
	ExpiredInFlight(now time.Time) ([]models.Payment, error)
	History(tenantID, externalUserID string, limit int) ([]models.Payment, error)
	CountByStatus(tenantID string) (map[string]int64, error)
	Update(payment *models.Payment) error
	// UpdateStatusIf performs a conditional status transition and reports
	// whether the row was actually moved.
	UpdateStatusIf(id, fromStatus, toStatus string, updates map[string]any) (bool, error)
}

// SubscriptionRepository defines subscription persistence operations.
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	Active(tenantID, externalUserID string) (*models.Subscription, error)
	History(tenantID, externalUserID string) ([]models.Subscription, error)
	CountActive(tenantID string) (int64, error)
	DueForExpiry(now time.Time) ([]models.Subscription, error)
	// ExpireActiveForUser moves any currently-active subscription of the user
	// to expired and returns the number of rows moved.
	ExpireActiveForUser(tenantID, externalUserID string) (int64, error)
	Update(sub *models.Subscription) error
}

// WebhookRepository defines webhook log persistence operations.
type WebhookRepository interface {
	Create(log *models.WebhookLog) error
	GetByID(id uint) (*models.WebhookLog, error)
	Update(log *models.WebhookLog) error
	// Due returns unsuccessful logs whose retry budget is not exhausted and
	// whose next_retry_at is unset or has passed.
	Due(now time.Time, maxRetries int) ([]models.WebhookLog, error)
}

// OfacRepository defines sanctioned-address persistence operations.
type OfacRepository interface {
	// ReplaceAll deletes every existing row and inserts the new set in
	// batches, returning the previous row count.
	ReplaceAll(rows []models.OfacSanctionedAddress, batchSize int) (int64, error)
	FindByAddressLower(addressLower string) ([]models.OfacSanctionedAddress, error)
	Count() (int64, error)
	CountByType() (map[string]int64, error)
	CreateUpdateLog(entry *models.OfacUpdateLog) error
	LastUpdateLog() (*models.OfacUpdateLog, error)
}
