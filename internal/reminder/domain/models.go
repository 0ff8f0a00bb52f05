// Package domain contains collector reminders and the outbound email log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reminder is a collector's follow-up note with a due time. NotifiedAt marks
// the row as claimed by a delivery pass; a failed send clears it so the next
// pass retries.
type Reminder struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	OwnerID       snowflake.ID  `gorm:"not null;index"`
	CustomerERPID string        `gorm:"column:customer_erp_id;type:text;index"`
	TicketID      *snowflake.ID `gorm:"index"`
	Title         string        `gorm:"type:text;not null"`
	Body          string        `gorm:"type:text"`
	DueAt         time.Time     `gorm:"not null;index"`
	NotifiedAt    *time.Time    `gorm:""`
	CompletedAt   *time.Time    `gorm:""`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Reminder) TableName() string { return "reminders" }

type EmailKind string

const (
	EmailKindReminder      EmailKind = "reminder"
	EmailKindOverdueNotice EmailKind = "overdue_notice"
	EmailKindStatement     EmailKind = "statement"
)

type EmailStatus string

const (
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
	EmailStatusSkipped EmailStatus = "skipped"
)

// ScheduledEmailLog records one delivery attempt, whatever the outcome.
type ScheduledEmailLog struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	Kind          EmailKind     `gorm:"type:text;not null;index"`
	Recipient     string        `gorm:"type:text;not null"`
	Subject       string        `gorm:"type:text;not null"`
	Status        EmailStatus   `gorm:"type:text;not null;index"`
	Error         string        `gorm:"type:text"`
	DurationMS    int64         `gorm:"column:duration_ms;not null;default:0"`
	TicketID      *snowflake.ID `gorm:"index"`
	CustomerERPID string        `gorm:"column:customer_erp_id;type:text;index"`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
}

// TableName sets the database table name.
func (ScheduledEmailLog) TableName() string { return "scheduled_email_logs" }
