// Package domain contains the ERP customer mirror.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer mirrors one ERP customer. ERP-sourced columns are overwritten on
// every sync; annotation columns (threshold, exclusion flags, contact stamp)
// are owned locally and never touched by sync.
type Customer struct {
	ID                      snowflake.ID `gorm:"primaryKey"`
	ERPID                   string       `gorm:"column:erp_id;type:text;not null;uniqueIndex"`
	Name                    string       `gorm:"type:text;not null"`
	Status                  string       `gorm:"type:text;index"`
	Country                 string       `gorm:"type:text"`
	Classification          string       `gorm:"type:text"`
	CachedBalance           float64      `gorm:"type:numeric;not null;default:0"`
	ExcludeFromAnalytics    bool         `gorm:"not null;default:false"`
	IsTest                  bool         `gorm:"not null;default:false"`
	CollectionThresholdDays *int         `gorm:""`
	LastContactedAt         *time.Time   `gorm:""`
	ERPSyncedAt             *time.Time   `gorm:"column:erp_synced_at;index"`
	CreatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }
