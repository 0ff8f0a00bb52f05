package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/collectra/internal/reminder/domain"
	"github.com/smallbiznis/collectra/pkg/db"
	"github.com/smallbiznis/collectra/pkg/db/option"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, reminder *domain.Reminder) error {
	return db.WithContext(ctx).Create(reminder).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Reminder, error) {
	var reminder domain.Reminder
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&reminder).Error
	if err != nil {
		return nil, err
	}
	if reminder.ID == 0 {
		return nil, nil
	}
	return &reminder, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListReminderFilter, page pagination.Pagination) ([]*domain.Reminder, error) {
	var reminders []*domain.Reminder
	stmt := db.WithContext(ctx).Model(&domain.Reminder{})
	if filter.OwnerID != nil {
		stmt = stmt.Where("owner_id = ?", *filter.OwnerID)
	}
	if filter.CustomerERPID != "" {
		stmt = stmt.Where("customer_erp_id = ?", filter.CustomerERPID)
	}
	if !filter.IncludeCompleted {
		stmt = stmt.Where("completed_at IS NULL")
	}
	if filter.DueBefore != nil {
		stmt = stmt.Where("due_at <= ?", *filter.DueBefore)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&reminders).Error
	if err != nil {
		return nil, err
	}
	return reminders, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, reminder *domain.Reminder) error {
	return db.WithContext(ctx).Save(reminder).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Reminder{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ClaimDue(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]*domain.Reminder, error) {
	var claimed []*domain.Reminder
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmt := tx.
			Where("due_at <= ? AND completed_at IS NULL AND notified_at IS NULL", now).
			Order("due_at asc, id asc").
			Limit(limit)
		if db.SupportsSkipLocked(conn) {
			stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := stmt.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(claimed))
		for _, reminder := range claimed {
			reminder.NotifiedAt = &now
			ids = append(ids, reminder.ID)
		}
		return tx.Model(&domain.Reminder{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"notified_at": now, "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *repo) ClearNotified(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.Reminder{}).
		Where("id = ?", id).
		Updates(map[string]any{"notified_at": nil, "updated_at": now}).Error
}

func (r *repo) InsertEmailLog(ctx context.Context, db *gorm.DB, log *domain.ScheduledEmailLog) error {
	return db.WithContext(ctx).Create(log).Error
}

func (r *repo) ListEmailLogs(ctx context.Context, db *gorm.DB, filter domain.EmailLogFilter, page pagination.Pagination) ([]*domain.ScheduledEmailLog, error) {
	var logs []*domain.ScheduledEmailLog
	stmt := db.WithContext(ctx).Model(&domain.ScheduledEmailLog{})
	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CustomerERPID != "" {
		stmt = stmt.Where("customer_erp_id = ?", filter.CustomerERPID)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
