package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/autoticket/domain"
	ticketdomain "github.com/smallbiznis/collectra/internal/ticket/domain"
	"github.com/smallbiznis/collectra/pkg/db/option"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rule *domain.AutoTicketRule) error {
	return db.WithContext(ctx).Create(rule).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.AutoTicketRule, error) {
	var rule domain.AutoTicketRule
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == 0 {
		return nil, nil
	}
	return &rule, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRuleFilter, page pagination.Pagination) ([]*domain.AutoTicketRule, error) {
	var rules []*domain.AutoTicketRule
	stmt := db.WithContext(ctx).Model(&domain.AutoTicketRule{})
	if filter.CustomerERPID != "" {
		stmt = stmt.Where("customer_erp_id = ?", filter.CustomerERPID)
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]*domain.AutoTicketRule, error) {
	var rules []*domain.AutoTicketRule
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("customer_erp_id asc, id asc").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, rule *domain.AutoTicketRule) error {
	return db.WithContext(ctx).Save(rule).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	result := db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.AutoTicketRule{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) FindOpenTicket(ctx context.Context, db *gorm.DB, customerERPID string, collectorID *snowflake.ID) (*ticketdomain.Ticket, error) {
	var ticket ticketdomain.Ticket
	stmt := db.WithContext(ctx).
		Where("customer_erp_id = ? AND status <> ?", customerERPID, ticketdomain.TicketStatusClosed)
	if collectorID != nil {
		stmt = stmt.Where("collector_id = ?", *collectorID)
	} else {
		stmt = stmt.Where("collector_id IS NULL")
	}
	err := stmt.
		Order("created_at desc, id desc").
		Limit(1).
		Find(&ticket).Error
	if err != nil {
		return nil, err
	}
	if ticket.ID == 0 {
		return nil, nil
	}
	return &ticket, nil
}
