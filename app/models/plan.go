package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a purchasable item. plan_key is unique per tenant.
type Plan struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID     string          `gorm:"type:varchar(64);not null;index:ux_plans_tenant_key,unique,priority:1" json:"tenant_id"`
	PlanKey      string          `gorm:"type:varchar(100);not null;index:ux_plans_tenant_key,unique,priority:2" json:"plan_key"`
	Name         string          `gorm:"type:varchar(191);not null" json:"name"`
	Description  string          `gorm:"type:text" json:"description,omitempty"`
	Price        decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"price"`
	Currency     string          `gorm:"type:varchar(10);not null" json:"currency"`
	PeriodDays   *int            `gorm:"default:null" json:"period_days,omitempty"`
	FeaturesJSON string          `gorm:"column:features;type:text" json:"-"`
	IsActive     bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Features decodes the stored feature list. An empty column yields nil.
func (p *Plan) Features() []string {
	if p.FeaturesJSON == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(p.FeaturesJSON), &out); err != nil {
		return nil
	}
	return out
}

// SetFeatures encodes and stores the feature list.
func (p *Plan) SetFeatures(features []string) {
	if len(features) == 0 {
		p.FeaturesJSON = ""
		return
	}
	raw, err := json.Marshal(features)
	if err != nil {
		return
	}
	p.FeaturesJSON = string(raw)
}
