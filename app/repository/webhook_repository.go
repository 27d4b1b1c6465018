package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/stablegate/stablegate/app/models"
)

// webhookRepository implements the WebhookRepository interface
type webhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository creates a new webhook repository instance
func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

// Create creates a new webhook log entry
func (r *webhookRepository) Create(log *models.WebhookLog) error {
	return r.db.Create(log).Error
}

// GetByID retrieves a webhook log entry by its ID
func (r *webhookRepository) GetByID(id uint) (*models.WebhookLog, error) {
	var log models.WebhookLog
	err := r.db.First(&log, id).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// Update updates an existing webhook log entry
func (r *webhookRepository) Update(log *models.WebhookLog) error {
	return r.db.Save(log).Error
}

// Due returns unsuccessful logs whose retry budget is not exhausted and whose
// next_retry_at is unset or has passed, oldest first.
func (r *webhookRepository) Due(now time.Time, maxRetries int) ([]models.WebhookLog, error) {
	var logs []models.WebhookLog
	err := r.db.Where("success = ? AND retry_count < ?", false, maxRetries).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("created_at ASC").Find(&logs).Error
	return logs, err
}
