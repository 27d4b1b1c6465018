package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultTenantID is the tenant used in single-tenant deployments.
const DefaultTenantID = "default"

// Tenant is the configuration envelope for one deployment of the payment
// service. All owned rows carry tenant_id for isolation.
type Tenant struct {
	ID                  string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name                string    `gorm:"type:varchar(191);not null" json:"name"`
	APIKeyHash          string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
	WebhookURL          string    `gorm:"type:varchar(512)" json:"webhook_url,omitempty"`
	WebhookSecret       string    `gorm:"type:varchar(191)" json:"-"`
	EVMReceiverAddress  string    `gorm:"column:evm_receiver_address;type:varchar(64)" json:"evm_receiver_address,omitempty"`
	TronReceiverAddress string    `gorm:"type:varchar(64)" json:"tron_receiver_address,omitempty"`
	IsActive            bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HashAPIKey returns the SHA-256 hex digest used to store and look up API keys.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
