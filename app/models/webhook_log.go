package models

import "time"

// WebhookLog records one delivery attempt-set for an outbound event. A row
// stays success=false with increasing retry_count until delivery succeeds or
// the retry schedule is exhausted.
type WebhookLog struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	TenantID           string     `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Event              string     `gorm:"type:varchar(100);not null;index" json:"event"`
	PayloadJSON        string     `gorm:"column:payload;type:longtext;not null" json:"payload"`
	TargetURL          string     `gorm:"type:varchar(512);not null" json:"target_url"`
	LastResponseStatus *int       `gorm:"default:null" json:"last_response_status,omitempty"`
	LastResponseBody   string     `gorm:"type:text" json:"last_response_body,omitempty"`
	Success            bool       `gorm:"default:false;index:idx_webhook_logs_retry,priority:1" json:"success"`
	RetryCount         int        `gorm:"default:0" json:"retry_count"`
	NextRetryAt        *time.Time `gorm:"type:timestamp;default:null;index:idx_webhook_logs_retry,priority:2" json:"next_retry_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
