package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	ticketdomain "github.com/smallbiznis/collectra/internal/ticket/domain"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type ListRuleFilter struct {
	CustomerERPID string
	Active        *bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rule *AutoTicketRule) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*AutoTicketRule, error)
	List(ctx context.Context, db *gorm.DB, filter ListRuleFilter, page pagination.Pagination) ([]*AutoTicketRule, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]*AutoTicketRule, error)
	Update(ctx context.Context, db *gorm.DB, rule *AutoTicketRule) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)

	// FindOpenTicket returns the newest non-closed ticket for the
	// customer+collector pair the rule targets, or nil.
	FindOpenTicket(ctx context.Context, db *gorm.DB, customerERPID string, collectorID *snowflake.ID) (*ticketdomain.Ticket, error)
}
