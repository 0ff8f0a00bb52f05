// Package domain contains the sync lease and run accounting types.
package domain

import "time"

// SyncLease is a claimable row: whoever holds an unexpired lease owns the
// sync. An expired lease is claimable by anyone, so a crashed run self-heals.
type SyncLease struct {
	Name        string    `gorm:"primaryKey;type:text"`
	Owner       string    `gorm:"type:text;not null"`
	ExpiresAt   time.Time `gorm:"not null"`
	HeartbeatAt time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SyncLease) TableName() string { return "sync_leases" }

// LeaseName is the single sync lease row key.
const LeaseName = "erp_sync"

// RunResult carries per-entity counts for the execution log.
type RunResult struct {
	Customers    int
	Invoices     int
	Payments     int
	Applications int
	Unlinked     int
}

// Total is the processed count reported to the job log.
func (r RunResult) Total() int {
	return r.Customers + r.Invoices + r.Payments + r.Applications
}
