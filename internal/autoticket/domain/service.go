package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type CreateRuleRequest struct {
	CustomerERPID       string
	CollectorID         *snowflake.ID
	MinDaysOld          *int
	MaxDaysOld          *int
	MinDaysSincePayment *int
	MaxDaysSincePayment *int
	CombineMode         CombineMode
	Active              *bool
}

// UpdateRuleRequest replaces the rule's evaluation fields wholesale; the
// owning customer never changes. Nil window pointers clear that bound.
type UpdateRuleRequest struct {
	ID                  snowflake.ID
	CollectorID         *snowflake.ID
	MinDaysOld          *int
	MaxDaysOld          *int
	MinDaysSincePayment *int
	MaxDaysSincePayment *int
	CombineMode         CombineMode
	Active              bool
}

type ListRuleRequest struct {
	pagination.Pagination
	CustomerERPID string
	Active        *bool
}

type ListRuleResponse struct {
	pagination.PageInfo
	Rules []AutoTicketRule `json:"rules"`
}

// RunResult carries per-pass counts for the execution log.
type RunResult struct {
	Evaluated int
	Created   int
	Appended  int
	Linked    int
	Failed    int
}

type Service interface {
	CreateRule(ctx context.Context, req CreateRuleRequest) (*AutoTicketRule, error)
	GetRule(ctx context.Context, id snowflake.ID) (*AutoTicketRule, error)
	ListRules(ctx context.Context, req ListRuleRequest) (ListRuleResponse, error)
	UpdateRule(ctx context.Context, req UpdateRuleRequest) (*AutoTicketRule, error)
	DeleteRule(ctx context.Context, id snowflake.ID) error

	// RunRules evaluates every active rule against its customer's open
	// invoices, appending to the customer's open ticket or creating one.
	// Re-running on unchanged data is a no-op.
	RunRules(ctx context.Context) (RunResult, error)
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrInvalidCustomer    = errors.New("invalid_customer")
	ErrInvalidWindow      = errors.New("invalid_window")
	ErrInvalidCombineMode = errors.New("invalid_combine_mode")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
)
