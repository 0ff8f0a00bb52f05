package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type ListReminderFilter struct {
	OwnerID          *snowflake.ID
	CustomerERPID    string
	IncludeCompleted bool
	DueBefore        *time.Time
}

type EmailLogFilter struct {
	Kind          EmailKind
	Status        EmailStatus
	CustomerERPID string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, reminder *Reminder) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Reminder, error)
	List(ctx context.Context, db *gorm.DB, filter ListReminderFilter, page pagination.Pagination) ([]*Reminder, error)
	Update(ctx context.Context, db *gorm.DB, reminder *Reminder) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)

	// ClaimDue atomically stamps notified_at on up to limit due, open,
	// unclaimed reminders and returns them oldest first. Concurrent callers
	// never claim the same row.
	ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Reminder, error)

	// ClearNotified releases a claim so the next pass retries the row.
	ClearNotified(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error

	InsertEmailLog(ctx context.Context, db *gorm.DB, log *ScheduledEmailLog) error
	ListEmailLogs(ctx context.Context, db *gorm.DB, filter EmailLogFilter, page pagination.Pagination) ([]*ScheduledEmailLog, error)
}
