package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending              = "pending"
	PaymentStatusAwaitingConfirmation = "awaiting_confirmation"
	PaymentStatusConfirmed            = "confirmed"
	PaymentStatusExpired              = "expired"
	PaymentStatusFailed               = "failed"
	PaymentStatusCancelled            = "cancelled"
)

// PaymentExpiry is how long a payment stays payable after creation.
const PaymentExpiry = 30 * time.Minute

// Payment is a single purchase attempt settled on-chain. The sender address
// is stored encrypted; the deterministic HMAC column supports indexed lookup
// without decryption.
type Payment struct {
	ID                string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TenantID          string          `gorm:"type:varchar(64);not null;index:idx_payments_tenant_user,priority:1" json:"tenant_id"`
	ExternalUserID    string          `gorm:"type:varchar(191);not null;index:idx_payments_tenant_user,priority:2" json:"external_user_id"`
	PlanID            string          `gorm:"type:varchar(36);not null" json:"plan_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"amount"`
	Token             string          `gorm:"type:varchar(10);not null" json:"token"`
	Network           string          `gorm:"type:varchar(20);not null" json:"network"`
	SenderAddressEnc  string          `gorm:"type:text;not null" json:"-"`
	SenderAddressHMAC string          `gorm:"column:sender_address_hmac;type:varchar(64);not null;index" json:"-"`
	ReceiverAddress   string          `gorm:"type:varchar(64);not null" json:"receiver_address"`
	Status            string          `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	TxHash            *string         `gorm:"type:varchar(128);uniqueIndex" json:"tx_hash,omitempty"`
	Confirmations     int64           `gorm:"default:0" json:"confirmations"`
	TxConfirmedAt     *time.Time      `gorm:"type:timestamp;default:null" json:"tx_confirmed_at,omitempty"`
	ErrorMessage      string          `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount        int             `gorm:"default:0" json:"retry_count"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	ExpiresAt         time.Time       `gorm:"not null;index" json:"expires_at"`
}

// InFlight reports whether the payment still blocks a new one for the same
// user (invariant: at most one per tenant/user).
func (p *Payment) InFlight() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusAwaitingConfirmation
}

// Terminal reports whether no further status transition is legal.
func (p *Payment) Terminal() bool {
	switch p.Status {
	case PaymentStatusConfirmed, PaymentStatusExpired, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}
