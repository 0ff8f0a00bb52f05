package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/collectra/internal/audit/domain"
	"github.com/smallbiznis/collectra/internal/autoticket/domain"
	"github.com/smallbiznis/collectra/internal/clock"
	customerdomain "github.com/smallbiznis/collectra/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/collectra/internal/invoice/domain"
	"github.com/smallbiznis/collectra/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/collectra/internal/payment/domain"
	"github.com/smallbiznis/collectra/internal/providers/webhook"
	ticketdomain "github.com/smallbiznis/collectra/internal/ticket/domain"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Repo         domain.Repository
	CustomerRepo customerdomain.Repository
	InvoiceRepo  invoicedomain.Repository
	PaymentSvc   paymentdomain.Service
	TicketSvc    ticketdomain.Service
	Notifier     webhook.Provider
	AuditSvc     auditdomain.Service `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo         domain.Repository
	customerRepo customerdomain.Repository
	invoiceRepo  invoicedomain.Repository
	paymentSvc   paymentdomain.Service
	ticketSvc    ticketdomain.Service
	notifier     webhook.Provider
	auditSvc     auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("autoticket.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		invoiceRepo:  p.InvoiceRepo,
		paymentSvc:   p.PaymentSvc,
		ticketSvc:    p.TicketSvc,
		notifier:     p.Notifier,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) CreateRule(ctx context.Context, req domain.CreateRuleRequest) (*domain.AutoTicketRule, error) {
	customerERPID := strings.TrimSpace(req.CustomerERPID)
	if customerERPID == "" {
		return nil, domain.ErrInvalidCustomer
	}

	mode := req.CombineMode
	if mode == "" {
		mode = domain.CombineAnd
	}
	if !domain.IsValidCombineMode(mode) {
		return nil, domain.ErrInvalidCombineMode
	}

	rule := &domain.AutoTicketRule{
		ID:                  s.genID.Generate(),
		CustomerERPID:       customerERPID,
		CollectorID:         req.CollectorID,
		MinDaysOld:          req.MinDaysOld,
		MaxDaysOld:          req.MaxDaysOld,
		MinDaysSincePayment: req.MinDaysSincePayment,
		MaxDaysSincePayment: req.MaxDaysSincePayment,
		CombineMode:         mode,
		Active:              true,
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if err := validateWindows(rule); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.repo.Insert(ctx, s.db, rule); err != nil {
		return nil, err
	}

	s.audit(ctx, "auto_ticket_rule.created", rule.ID, map[string]any{
		"customer_erp_id": rule.CustomerERPID,
		"combine_mode":    string(rule.CombineMode),
	})
	return rule, nil
}

func (s *Service) GetRule(ctx context.Context, id snowflake.ID) (*domain.AutoTicketRule, error) {
	rule, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, domain.ErrNotFound
	}
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context, req domain.ListRuleRequest) (domain.ListRuleResponse, error) {
	var resp domain.ListRuleResponse

	filter := domain.ListRuleFilter{
		CustomerERPID: strings.TrimSpace(req.CustomerERPID),
		Active:        req.Active,
	}

	items, err := s.repo.List(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return resp, err
	}

	limit := req.Limit()
	pageInfo := pagination.BuildCursorPageInfo(items, int32(limit), func(rule *domain.AutoTicketRule) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        rule.ID.String(),
			CreatedAt: rule.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	items = pagination.TrimPage(items, limit)

	resp.PageInfo = *pageInfo
	resp.Rules = make([]domain.AutoTicketRule, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		resp.Rules = append(resp.Rules, *item)
	}
	return resp, nil
}

func (s *Service) UpdateRule(ctx context.Context, req domain.UpdateRuleRequest) (*domain.AutoTicketRule, error) {
	rule, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, domain.ErrNotFound
	}

	mode := req.CombineMode
	if mode == "" {
		mode = domain.CombineAnd
	}
	if !domain.IsValidCombineMode(mode) {
		return nil, domain.ErrInvalidCombineMode
	}

	rule.CollectorID = req.CollectorID
	rule.MinDaysOld = req.MinDaysOld
	rule.MaxDaysOld = req.MaxDaysOld
	rule.MinDaysSincePayment = req.MinDaysSincePayment
	rule.MaxDaysSincePayment = req.MaxDaysSincePayment
	rule.CombineMode = mode
	rule.Active = req.Active
	if err := validateWindows(rule); err != nil {
		return nil, err
	}

	rule.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, rule); err != nil {
		return nil, err
	}

	s.audit(ctx, "auto_ticket_rule.updated", rule.ID, map[string]any{
		"active": rule.Active,
	})
	return rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, id snowflake.ID) error {
	removed, err := s.repo.Delete(ctx, s.db, id)
	if err != nil {
		return err
	}
	if removed == 0 {
		return domain.ErrNotFound
	}

	s.audit(ctx, "auto_ticket_rule.deleted", id, nil)
	return nil
}

func (s *Service) RunRules(ctx context.Context) (domain.RunResult, error) {
	var result domain.RunResult

	rules, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return result, err
	}

	today := s.clock.Now()
	for _, rule := range rules {
		result.Evaluated++
		if err := s.applyRule(ctx, rule, today, &result); err != nil {
			result.Failed++
			metrics.Collection().IncCollectionStageError(metrics.CollectionStageRuleEval, err)
			s.log.Warn("auto-ticket rule failed",
				zap.String("rule_id", rule.ID.String()),
				zap.String("customer_erp_id", rule.CustomerERPID),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

func (s *Service) applyRule(ctx context.Context, rule *domain.AutoTicketRule, today time.Time, result *domain.RunResult) error {
	customer, err := s.customerRepo.FindByERPID(ctx, s.db, rule.CustomerERPID)
	if err != nil {
		return err
	}
	if customer == nil {
		// the mirror row disappeared; leave the rule idle
		s.log.Warn("rule targets an unknown customer", zap.String("customer_erp_id", rule.CustomerERPID))
		return nil
	}

	references, err := s.matchingReferences(ctx, rule, customer, today)
	if err != nil {
		return err
	}
	if len(references) == 0 {
		return nil
	}

	ticket, err := s.repo.FindOpenTicket(ctx, s.db, rule.CustomerERPID, rule.CollectorID)
	if err != nil {
		return err
	}
	if ticket != nil {
		return s.appendToTicket(ctx, ticket, references, result)
	}
	return s.openTicket(ctx, rule, customer, references, result)
}

// matchingReferences selects the rule's invoice references for one pass.
func (s *Service) matchingReferences(ctx context.Context, rule *domain.AutoTicketRule, customer *customerdomain.Customer, today time.Time) ([]string, error) {
	invoices, err := s.invoiceRepo.ListOpenByCustomer(ctx, s.db, rule.CustomerERPID)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}

	recencyOK := false
	if rule.HasRecencyWindow() {
		lastAt, err := s.paymentSvc.LastApplicationAt(ctx, rule.CustomerERPID)
		if err != nil {
			return nil, err
		}
		recencyOK = recencyMatches(lastAt, today, rule.MinDaysSincePayment, rule.MaxDaysSincePayment)
	}
	if rule.CombineMode != domain.CombineOr && rule.HasRecencyWindow() && !recencyOK {
		// and: the customer-level predicate gates every invoice
		return nil, nil
	}

	matched := make([]string, 0, len(invoices))
	for _, invoice := range invoices {
		// collection rules target receivables, not credit documents
		if invoice.Type != invoicedomain.TypeInvoice {
			continue
		}
		inAge := ageMatches(invoice.InvoiceDate, today, rule.MinDaysOld, rule.MaxDaysOld)

		if rule.CombineMode == domain.CombineOr {
			// the recency side alone selects invoices overdue past the
			// customer's collection threshold
			if inAge || (rule.HasRecencyWindow() && recencyOK && overdueBeyondThreshold(invoice, customer, today)) {
				matched = append(matched, invoice.ReferenceNumber)
			}
			continue
		}
		if inAge {
			matched = append(matched, invoice.ReferenceNumber)
		}
	}
	return matched, nil
}

func (s *Service) appendToTicket(ctx context.Context, ticket *ticketdomain.Ticket, references []string, result *domain.RunResult) error {
	detail, err := s.ticketSvc.Get(ctx, ticketdomain.GetTicketRequest{ID: ticket.ID})
	if err != nil {
		return err
	}

	linked := make(map[string]bool, len(detail.Invoices))
	for _, link := range detail.Invoices {
		linked[link.InvoiceReference] = true
	}

	var fresh []string
	for _, reference := range references {
		if !linked[reference] {
			fresh = append(fresh, reference)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	if _, err := s.ticketSvc.LinkInvoices(ctx, ticketdomain.LinkInvoicesRequest{
		TicketID:   ticket.ID,
		References: fresh,
	}); err != nil {
		return err
	}
	result.Appended++
	result.Linked += len(fresh)
	return nil
}

func (s *Service) openTicket(ctx context.Context, rule *domain.AutoTicketRule, customer *customerdomain.Customer, references []string, result *domain.RunResult) error {
	ticket, err := s.ticketSvc.Create(ctx, ticketdomain.CreateTicketRequest{
		CustomerERPID:     rule.CustomerERPID,
		Subject:           fmt.Sprintf("Collection follow-up: %s", customer.Name),
		Description:       fmt.Sprintf("Opened by rule %s for %d invoice(s).", rule.ID.String(), len(references)),
		CollectorID:       rule.CollectorID,
		InvoiceReferences: references,
	})
	if err != nil {
		return err
	}
	result.Created++
	result.Linked += len(references)

	message := fmt.Sprintf("Ticket %s opened for %s (%d invoices)", ticket.Number, customer.Name, len(references))
	if err := s.notifier.PostMessage(ctx, message); err != nil {
		s.log.Warn("failed to notify collector channel", zap.String("ticket", ticket.Number), zap.Error(err))
	}
	return nil
}

func (s *Service) audit(ctx context.Context, action string, ruleID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := ruleID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "auto_ticket_rules", &targetID, metadata); err != nil {
		s.log.Warn("failed to audit rule change", zap.String("action", action), zap.Error(err))
	}
}

func validateWindows(rule *domain.AutoTicketRule) error {
	if !rule.HasAgeWindow() && !rule.HasRecencyWindow() {
		// a rule with no windows would sweep up every open invoice
		return domain.ErrInvalidWindow
	}
	for _, bound := range []*int{rule.MinDaysOld, rule.MaxDaysOld, rule.MinDaysSincePayment, rule.MaxDaysSincePayment} {
		if bound != nil && *bound < 0 {
			return domain.ErrInvalidWindow
		}
	}
	if rule.MinDaysOld != nil && rule.MaxDaysOld != nil && *rule.MinDaysOld > *rule.MaxDaysOld {
		return domain.ErrInvalidWindow
	}
	if rule.MinDaysSincePayment != nil && rule.MaxDaysSincePayment != nil && *rule.MinDaysSincePayment > *rule.MaxDaysSincePayment {
		return domain.ErrInvalidWindow
	}
	return nil
}

func daysBetween(from, to time.Time) int {
	fromDay := from.UTC().Truncate(24 * time.Hour)
	toDay := to.UTC().Truncate(24 * time.Hour)
	return int(toDay.Sub(fromDay).Hours() / 24)
}

// ageMatches checks invoice_date against [today-max, today-min] inclusive.
func ageMatches(invoiceDate *time.Time, today time.Time, minDays, maxDays *int) bool {
	if minDays == nil && maxDays == nil {
		return true
	}
	if invoiceDate == nil {
		return false
	}
	age := daysBetween(*invoiceDate, today)
	if minDays != nil && age < *minDays {
		return false
	}
	if maxDays != nil && age > *maxDays {
		return false
	}
	return true
}

// recencyMatches checks days since the last payment application. A customer
// who never paid is infinitely many days out: upper-bounded windows can never
// match, lower-bound-only windows always do.
func recencyMatches(lastAt *time.Time, today time.Time, minDays, maxDays *int) bool {
	if lastAt == nil {
		return maxDays == nil
	}
	since := daysBetween(*lastAt, today)
	if since < 0 {
		since = 0
	}
	if minDays != nil && since < *minDays {
		return false
	}
	if maxDays != nil && since > *maxDays {
		return false
	}
	return true
}

func overdueBeyondThreshold(invoice *invoicedomain.Invoice, customer *customerdomain.Customer, today time.Time) bool {
	threshold := 0
	if customer.CollectionThresholdDays != nil {
		threshold = *customer.CollectionThresholdDays
	}
	return invoice.DaysOverdue(today) > threshold
}
