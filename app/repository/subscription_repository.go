package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/stablegate/stablegate/app/models"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create creates a new subscription in the database
func (r *subscriptionRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// Active returns the user's currently active subscription, if any. Lifetime
// subscriptions have no end date and are always current.
func (r *subscriptionRepository) Active(tenantID, externalUserID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("tenant_id = ? AND external_user_id = ? AND status = ?",
		tenantID, externalUserID, models.SubscriptionStatusActive).
		Where("ends_at IS NULL OR ends_at > ?", time.Now().UTC()).
		Order("starts_at DESC").First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// History returns all subscriptions of the user, newest first
func (r *subscriptionRepository) History(tenantID, externalUserID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("tenant_id = ? AND external_user_id = ?", tenantID, externalUserID).
		Order("starts_at DESC").Find(&subs).Error
	return subs, err
}

// CountActive returns the number of currently active subscriptions of the
// tenant across all users
func (r *subscriptionRepository) CountActive(tenantID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("tenant_id = ? AND status = ?", tenantID, models.SubscriptionStatusActive).
		Where("ends_at IS NULL OR ends_at > ?", time.Now().UTC()).
		Count(&count).Error
	return count, err
}

// DueForExpiry returns active subscriptions whose end date has passed
func (r *subscriptionRepository) DueForExpiry(now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("status = ? AND ends_at IS NOT NULL AND ends_at <= ?",
		models.SubscriptionStatusActive, now).
		Find(&subs).Error
	return subs, err
}

// ExpireActiveForUser moves any currently-active subscription of the user to
// expired and returns the number of rows moved.
func (r *subscriptionRepository) ExpireActiveForUser(tenantID, externalUserID string) (int64, error) {
	res := r.db.Model(&models.Subscription{}).
		Where("tenant_id = ? AND external_user_id = ? AND status = ?",
			tenantID, externalUserID, models.SubscriptionStatusActive).
		Update("status", models.SubscriptionStatusExpired)
	return res.RowsAffected, res.Error
}

// Update updates an existing subscription in the database
func (r *subscriptionRepository) Update(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}
