package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stablegate/stablegate/app/models"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// CreateIfNoInFlight inserts the payment unless the user already holds an
// in-flight payment. The existence check and the insert run in one
// transaction with the user's rows locked, so two concurrent initiations
// cannot both pass the check.
func (r *paymentRepository) CreateIfNoInFlight(payment *models.Payment) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&models.Payment{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ? AND external_user_id = ? AND status IN ?",
				payment.TenantID, payment.ExternalUserID,
				[]string{models.PaymentStatusPending, models.PaymentStatusAwaitingConfirmation}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrInFlightExists
		}
		return tx.Create(payment).Error
	})
}

// GetByID retrieves a payment by its ID
func (r *paymentRepository) GetByID(id string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("id = ?", id).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetForTenant retrieves a payment by its ID scoped to the tenant
func (r *paymentRepository) GetForTenant(id, tenantID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("id = ? AND tenant_id = ?", id, tenantID).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetByTxHash retrieves the payment bound to a transaction hash
func (r *paymentRepository) GetByTxHash(txHash string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("tx_hash = ?", txHash).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// PendingForUser returns the user's current in-flight payment, if any
func (r *paymentRepository) PendingForUser(tenantID, externalUserID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("tenant_id = ? AND external_user_id = ? AND status IN ?",
		tenantID, externalUserID,
		[]string{models.PaymentStatusPending, models.PaymentStatusAwaitingConfirmation}).
		Order("created_at DESC").First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// AwaitingConfirmation returns every payment currently awaiting on-chain
// confirmation, oldest first.
func (r *paymentRepository) AwaitingConfirmation() ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("status = ?", models.PaymentStatusAwaitingConfirmation).
		Order("created_at ASC").Find(&payments).Error
	return payments, err
}

// ExpiredInFlight returns in-flight payments whose deadline has passed
func (r *paymentRepository) ExpiredInFlight(now time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("status IN ? AND expires_at <= ?",
		[]string{models.PaymentStatusPending, models.PaymentStatusAwaitingConfirmation}, now).
		Find(&payments).Error
	return payments, err
}

// History returns the user's payments, newest first, capped at limit
func (r *paymentRepository) History(tenantID, externalUserID string, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("tenant_id = ? AND external_user_id = ?", tenantID, externalUserID).
		Order("created_at DESC").Limit(limit).Find(&payments).Error
	return payments, err
}

// CountByStatus returns the tenant's payment counts grouped by status
func (r *paymentRepository) CountByStatus(tenantID string) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.db.Model(&models.Payment{}).
		Select("status, COUNT(*) as count").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// Update updates an existing payment. A unique-key collision on tx_hash maps
// to ErrDuplicateTxHash.
func (r *paymentRepository) Update(payment *models.Payment) error {
	if err := r.db.Save(payment).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return ErrDuplicateTxHash
		}
		return err
	}
	return nil
}

// UpdateStatusIf performs a conditional status transition and reports whether
// the row was actually moved.
func (r *paymentRepository) UpdateStatusIf(id, fromStatus, toStatus string, updates map[string]any) (bool, error) {
	values := map[string]any{"status": toStatus}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(values)
	if res.Error != nil {
		if isDuplicateKeyErr(res.Error) {
			return false, ErrDuplicateTxHash
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
