package repository

import (
	"gorm.io/gorm"

	"github.com/stablegate/stablegate/app/models"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

// Create creates a new plan. The tenant/plan-key pair is unique; a collision
// maps to ErrDuplicatePlanKey.
func (r *planRepository) Create(plan *models.Plan) error {
	if err := r.db.Create(plan).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return ErrDuplicatePlanKey
		}
		return err
	}
	return nil
}

// GetByID retrieves a plan by its ID within the tenant
func (r *planRepository) GetByID(tenantID, id string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("tenant_id = ? AND id = ?", tenantID, id).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetByKey retrieves a plan by its key within the tenant
func (r *planRepository) GetByKey(tenantID, planKey string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("tenant_id = ? AND plan_key = ?", tenantID, planKey).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListActive retrieves all active plans of the tenant ordered by price
func (r *planRepository) ListActive(tenantID string) ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("price ASC").Find(&plans).Error
	return plans, err
}

// Update updates an existing plan in the database
func (r *planRepository) Update(plan *models.Plan) error {
	return r.db.Save(plan).Error
}
