package models

import "time"

// OfacSourceSDN tags rows ingested from the Treasury SDN advanced feed.
const OfacSourceSDN = "OFAC_SDN"

// OfacSanctionedAddress is one digital-currency address extracted from the
// SDN list. The full set is replaced on every ingestion run.
type OfacSanctionedAddress struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Address      string    `gorm:"type:varchar(128);not null" json:"address"`
	AddressLower string    `gorm:"type:varchar(128);not null;index" json:"address_lower"`
	AddressType  string    `gorm:"type:varchar(32);not null;index" json:"address_type"`
	SDNName      string    `gorm:"column:sdn_name;type:varchar(255)" json:"sdn_name"`
	SDNID        string    `gorm:"column:sdn_id;type:varchar(32)" json:"sdn_id"`
	Source       string    `gorm:"type:varchar(32);not null;default:'OFAC_SDN'" json:"source"`
	LastSeenAt   time.Time `gorm:"not null" json:"last_seen_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// OfacUpdateLog is the append-only history of ingestion runs.
type OfacUpdateLog struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	TotalAddresses   int       `json:"total_addresses"`
	NewAddresses     int       `json:"new_addresses"`
	RemovedAddresses int       `json:"removed_addresses"`
	Success          bool      `gorm:"index" json:"success"`
	ErrorMessage     string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
