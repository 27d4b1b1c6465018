package models

import "time"

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription is a time-bounded grant derived from a confirmed payment.
// ends_at is null for lifetime plans.
type Subscription struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID       string     `gorm:"type:varchar(64);not null;index:idx_subscriptions_tenant_user,priority:1" json:"tenant_id"`
	ExternalUserID string     `gorm:"type:varchar(191);not null;index:idx_subscriptions_tenant_user,priority:2" json:"external_user_id"`
	PlanID         string     `gorm:"type:varchar(36);not null" json:"plan_id"`
	PaymentID      *string    `gorm:"type:varchar(36)" json:"payment_id,omitempty"`
	Status         string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	StartsAt       time.Time  `gorm:"not null" json:"starts_at"`
	EndsAt         *time.Time `gorm:"type:timestamp;default:null;index" json:"ends_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// DaysRemaining returns whole days until ends_at, never negative. Lifetime
// subscriptions return -1.
func (s *Subscription) DaysRemaining(now time.Time) int {
	if s.EndsAt == nil {
		return -1
	}
	d := int(s.EndsAt.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
