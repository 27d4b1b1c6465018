package repository

import (
	"gorm.io/gorm"
)

// Repositories bundles all repository instances behind their interfaces.
type Repositories struct {
	db *gorm.DB

	Tenant       TenantRepository
	Plan         PlanRepository
	Payment      PaymentRepository
	Subscription SubscriptionRepository
	Webhook      WebhookRepository
	Ofac         OfacRepository
}

// NewRepositories creates all repositories on the given database handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:           db,
		Tenant:       NewTenantRepository(db),
		Plan:         NewPlanRepository(db),
		Payment:      NewPaymentRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Webhook:      NewWebhookRepository(db),
		Ofac:         NewOfacRepository(db),
	}
}

// WithTx runs fn inside a single database transaction. The repository set
// passed to fn operates on the transaction handle; returning an error rolls
// everything back.
func (r *Repositories) WithTx(fn func(txRepos *Repositories) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// DB exposes the underlying handle for callers that need raw access.
func (r *Repositories) DB() *gorm.DB {
	return r.db
}
