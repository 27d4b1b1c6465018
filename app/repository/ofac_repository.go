package repository

import (
	"gorm.io/gorm"

	"github.com/stablegate/stablegate/app/models"
)

// ofacRepository implements the OfacRepository interface
type ofacRepository struct {
	db *gorm.DB
}

// NewOfacRepository creates a new OFAC repository instance
func NewOfacRepository(db *gorm.DB) OfacRepository {
	return &ofacRepository{db: db}
}

// ReplaceAll deletes every existing sanctioned address and inserts the new
// set in batches, all in one transaction. It returns the previous row count.
func (r *ofacRepository) ReplaceAll(rows []models.OfacSanctionedAddress, batchSize int) (int64, error) {
	var previous int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.OfacSanctionedAddress{}).Count(&previous).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&models.OfacSanctionedAddress{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, batchSize).Error
	})
	if err != nil {
		return 0, err
	}
	return previous, nil
}

// FindByAddressLower returns all sanctioned entries matching the lower-cased
// address.
func (r *ofacRepository) FindByAddressLower(addressLower string) ([]models.OfacSanctionedAddress, error) {
	var rows []models.OfacSanctionedAddress
	err := r.db.Where("address_lower = ?", addressLower).Find(&rows).Error
	return rows, err
}

// Count returns the total number of sanctioned addresses
func (r *ofacRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.OfacSanctionedAddress{}).Count(&count).Error
	return count, err
}

// CountByType returns the number of sanctioned addresses per address type
func (r *ofacRepository) CountByType() (map[string]int64, error) {
	var results []struct {
		AddressType string
		Count       int64
	}
	err := r.db.Model(&models.OfacSanctionedAddress{}).
		Select("address_type, COUNT(*) as count").
		Group("address_type").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(results))
	for _, res := range results {
		counts[res.AddressType] = res.Count
	}
	return counts, nil
}

// CreateUpdateLog records the outcome of a sanctions list refresh
func (r *ofacRepository) CreateUpdateLog(entry *models.OfacUpdateLog) error {
	return r.db.Create(entry).Error
}

// LastUpdateLog returns the most recent refresh record, if any
func (r *ofacRepository) LastUpdateLog() (*models.OfacUpdateLog, error) {
	var entry models.OfacUpdateLog
	err := r.db.Order("created_at DESC").First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
