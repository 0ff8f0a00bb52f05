// Package domain contains persistence models for operator and customer profiles.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// ProfileRole determines what a profile may do once approved.
type ProfileRole string

const (
	RoleCustomer  ProfileRole = "customer"
	RoleCollector ProfileRole = "collector"
	RoleManager   ProfileRole = "manager"
	RoleAdmin     ProfileRole = "admin"
)

// IsValidRole reports whether value is a known role.
func IsValidRole(value ProfileRole) bool {
	switch value {
	case RoleCustomer, RoleCollector, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// ProfileStatus gates API access. Only approved profiles pass the middleware.
type ProfileStatus string

const (
	StatusPending  ProfileStatus = "pending"
	StatusApproved ProfileStatus = "approved"
	StatusRejected ProfileStatus = "rejected"
)

// Profile binds an upstream auth subject to a role inside the collection system.
type Profile struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	UserID        string         `gorm:"type:text;not null;uniqueIndex"`
	Email         string         `gorm:"type:text;not null"`
	FullName      string         `gorm:"type:text"`
	Role          ProfileRole    `gorm:"type:text;not null;default:'customer'"`
	Status        ProfileStatus  `gorm:"type:text;not null;default:'pending';index"`
	Permissions   pq.StringArray `gorm:"type:text[]"`
	CustomerERPID *string        `gorm:"type:text;index"`
	ApprovedBy    *snowflake.ID  `gorm:""`
	ApprovedAt    *time.Time     `gorm:""`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Profile) TableName() string { return "profiles" }

// Gate maps a non-approved status to its access error. Approved profiles pass.
func (p *Profile) Gate() error {
	switch p.Status {
	case StatusApproved:
		return nil
	case StatusRejected:
		return ErrRejected
	default:
		return ErrPendingApproval
	}
}
