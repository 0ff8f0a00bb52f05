package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/collectra/internal/audit/domain"
	"github.com/smallbiznis/collectra/internal/clock"
	"github.com/smallbiznis/collectra/internal/observability/metrics"
	storagedomain "github.com/smallbiznis/collectra/internal/storage/domain"
	"github.com/smallbiznis/collectra/internal/ticket/domain"
	"github.com/smallbiznis/collectra/pkg/db"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

// numberRetries bounds duplicate-number retries when two processes race the
// same per-day sequence.
const numberRetries = 3

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Storage  storagedomain.Service `optional:"true"`
	AuditSvc auditdomain.Service   `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	storage  storagedomain.Service
	auditSvc auditdomain.Service
	numbers  *numberGenerator
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ticket.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		storage:  p.Storage,
		auditSvc: p.AuditSvc,
		numbers:  newNumberGenerator(p.Clock, p.Repo),
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateTicketRequest) (*domain.Ticket, error) {
	customerERPID := strings.TrimSpace(req.CustomerERPID)
	if customerERPID == "" {
		return nil, domain.ErrInvalidCustomer
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, domain.ErrInvalidSubject
	}

	ticketType := req.Type
	if ticketType == "" {
		ticketType = domain.TicketTypeCollection
	}
	if !domain.IsValidType(ticketType) {
		return nil, domain.ErrInvalidType
	}

	priority := req.Priority
	if priority == "" {
		priority = domain.TicketPriorityNormal
	}
	if !domain.IsValidPriority(priority) {
		return nil, domain.ErrInvalidPriority
	}

	references, err := cleanReferences(req.InvoiceReferences)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ticket := &domain.Ticket{
		ID:            s.genID.Generate(),
		CustomerERPID: customerERPID,
		CollectorID:   req.CollectorID,
		Status:        domain.TicketStatusOpen,
		Priority:      priority,
		Type:          ticketType,
		Subject:       subject,
		Description:   strings.TrimSpace(req.Description),
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for attempt := 0; ; attempt++ {
		number, err := s.numbers.Next(ctx, s.db)
		if err != nil {
			return nil, err
		}
		ticket.Number = number

		err = s.repo.Insert(ctx, s.db, ticket)
		if err == nil {
			break
		}
		if db.IsDuplicateKeyErr(err) && attempt < numberRetries {
			// another process grabbed the number first
			s.numbers.forget(now.Format("20060102"))
			continue
		}
		return nil, err
	}

	if len(references) > 0 {
		if err := s.insertLinks(ctx, ticket.ID, references, req.CreatedBy, now); err != nil {
			return nil, err
		}
	}

	s.audit(ctx, "ticket.created", ticket.Number, map[string]any{
		"customer_erp_id": customerERPID,
		"type":            string(ticketType),
		"priority":        string(priority),
		"invoices":        len(references),
	})

	return ticket, nil
}

func (s *Service) Get(ctx context.Context, req domain.GetTicketRequest) (*domain.TicketDetail, error) {
	ticket, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, domain.ErrNotFound
	}

	links, err := s.repo.ListLinks(ctx, s.db, ticket.ID)
	if err != nil {
		return nil, err
	}
	notes, err := s.repo.ListNotes(ctx, s.db, ticket.ID)
	if err != nil {
		return nil, err
	}

	return &domain.TicketDetail{
		Ticket:   *ticket,
		Invoices: links,
		Notes:    notes,
	}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListTicketRequest) (domain.ListTicketResponse, error) {
	var resp domain.ListTicketResponse

	filter := domain.ListTicketFilter{
		CustomerERPID: strings.TrimSpace(req.CustomerERPID),
		CollectorID:   req.CollectorID,
		Status:        req.Status,
		Priority:      req.Priority,
		Type:          req.Type,
	}

	items, err := s.repo.List(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return resp, err
	}

	limit := req.Limit()
	pageInfo := pagination.BuildCursorPageInfo(items, int32(limit), func(ticket *domain.Ticket) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        ticket.ID.String(),
			CreatedAt: ticket.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	items = pagination.TrimPage(items, limit)

	resp.PageInfo = *pageInfo
	resp.Tickets = make([]domain.Ticket, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		resp.Tickets = append(resp.Tickets, *item)
	}
	return resp, nil
}

func (s *Service) ChangeStatus(ctx context.Context, req domain.ChangeStatusRequest) (*domain.Ticket, error) {
	if !domain.IsValidStatus(req.Status) {
		return nil, domain.ErrInvalidStatus
	}

	ticket, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, domain.ErrNotFound
	}
	if ticket.Status == req.Status {
		return ticket, nil
	}
	if !domain.CanTransition(ticket.Status, req.Status) {
		return nil, domain.ErrInvalidTransition
	}

	from := ticket.Status
	now := s.clock.Now()

	ticket.Status = req.Status
	ticket.UpdatedAt = now
	switch req.Status {
	case domain.TicketStatusClosed:
		ticket.ClosedAt = &now
	case domain.TicketStatusOpen:
		// reopen
		ticket.ClosedAt = nil
	}

	if err := s.repo.Update(ctx, s.db, ticket); err != nil {
		return nil, err
	}

	if note := strings.TrimSpace(req.Note); note != "" {
		entry := &domain.TicketNote{
			ID:        s.genID.Generate(),
			TicketID:  ticket.ID,
			Body:      note,
			CreatedAt: now,
		}
		if err := s.repo.InsertNote(ctx, s.db, entry); err != nil {
			return nil, err
		}
	}

	metrics.Collection().IncTicketTransition(string(from), string(req.Status))
	s.audit(ctx, "ticket.status_changed", ticket.Number, map[string]any{
		"from": string(from),
		"to":   string(req.Status),
	})

	return ticket, nil
}

func (s *Service) Assign(ctx context.Context, req domain.AssignTicketRequest) (*domain.Ticket, error) {
	if req.CollectorID == 0 {
		return nil, domain.ErrInvalidCollector
	}

	ticket, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, domain.ErrNotFound
	}

	collectorID := req.CollectorID
	ticket.CollectorID = &collectorID
	ticket.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, ticket); err != nil {
		return nil, err
	}

	s.audit(ctx, "ticket.assigned", ticket.Number, map[string]any{
		"collector_id": collectorID.String(),
	})
	return ticket, nil
}

// SetPromiseDate records a customer promise-to-pay. A pending ticket moves to
// promised as part of the same call.
func (s *Service) SetPromiseDate(ctx context.Context, req domain.SetPromiseDateRequest) (*domain.Ticket, error) {
	ticket, err := s.repo.FindByID(ctx, s.db, req.ID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, domain.ErrNotFound
	}

	now := s.clock.Now()
	today := now.UTC().Truncate(24 * time.Hour)
	promise := req.PromiseDate.UTC()
	if promise.Before(today) {
		return nil, domain.ErrInvalidPromiseDate
	}

	from := ticket.Status
	ticket.PromiseDate = &promise
	ticket.UpdatedAt = now
	if ticket.Status == domain.TicketStatusPending {
		ticket.Status = domain.TicketStatusPromised
	}

	if err := s.repo.Update(ctx, s.db, ticket); err != nil {
		return nil, err
	}

	if from != ticket.Status {
		metrics.Collection().IncTicketTransition(string(from), string(ticket.Status))
	}
	s.audit(ctx, "ticket.promise_set", ticket.Number, map[string]any{
		"promise_date": promise.Format("2006-01-02"),
	})
	return ticket, nil
}

func (s *Service) AddNote(ctx context.Context, req domain.AddNoteRequest) (*domain.TicketNote, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, domain.ErrInvalidNote
	}

	ticket, err := s.repo.FindByID(ctx, s.db, req.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, domain.ErrNotFound
	}

	var attachmentPath *string
	if path := strings.TrimSpace(req.AttachmentPath); path != "" {
		if s.storage == nil {
			return nil, domain.ErrInvalidAttachment
		}
		if err := s.storage.ValidateRef(storagedomain.BucketMemoAttachments, path); err != nil {
			return nil, domain.ErrInvalidAttachment
		}
		attachmentPath = &path
	}

	note := &domain.TicketNote{
		ID:             s.genID.Generate(),
		TicketID:       ticket.ID,
		AuthorID:       req.AuthorID,
		Body:           body,
		AttachmentPath: attachmentPath,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.repo.InsertNote(ctx, s.db, note); err != nil {
		return nil, err
	}

	s.audit(ctx, "ticket.note_added", ticket.Number, map[string]any{
		"has_attachment": attachmentPath != nil,
	})
	return note, nil
}

func (s *Service) LinkInvoices(ctx context.Context, req domain.LinkInvoicesRequest) ([]domain.TicketInvoice, error) {
	references, err := cleanReferences(req.References)
	if err != nil {
		return nil, err
	}
	if len(references) == 0 {
		return nil, domain.ErrInvalidReference
	}

	ticket, err := s.repo.FindByID(ctx, s.db, req.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, domain.ErrNotFound
	}

	if err := s.insertLinks(ctx, ticket.ID, references, req.LinkedBy, s.clock.Now()); err != nil {
		return nil, err
	}

	s.audit(ctx, "ticket.invoices_linked", ticket.Number, map[string]any{
		"references": references,
	})

	return s.repo.ListLinks(ctx, s.db, ticket.ID)
}

func (s *Service) UnlinkInvoice(ctx context.Context, req domain.UnlinkInvoiceRequest) error {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return domain.ErrInvalidReference
	}

	ticket, err := s.repo.FindByID(ctx, s.db, req.TicketID)
	if err != nil {
		return err
	}
	if ticket == nil {
		return domain.ErrNotFound
	}

	removed, err := s.repo.DeleteLink(ctx, s.db, ticket.ID, reference)
	if err != nil {
		return err
	}
	if removed == 0 {
		return domain.ErrNotFound
	}

	s.audit(ctx, "ticket.invoice_unlinked", ticket.Number, map[string]any{
		"reference": reference,
	})
	return nil
}

// UnlinkSettled drops every link whose invoice settled. Runs after each ERP
// sync and from the hourly sweep.
func (s *Service) UnlinkSettled(ctx context.Context) (int, error) {
	links, err := s.repo.SettledLinks(ctx, s.db)
	if err != nil {
		return 0, err
	}
	if len(links) == 0 {
		return 0, nil
	}

	removed, err := s.repo.DeleteLinks(ctx, s.db, links)
	if err != nil {
		return int(removed), err
	}

	for _, link := range links {
		s.audit(ctx, "ticket.invoice_unlinked", link.TicketNumber, map[string]any{
			"reference": link.InvoiceReference,
			"reason":    "settled",
		})
	}

	s.log.Info("unlinked settled invoices", zap.Int64("removed", removed))
	return int(removed), nil
}

func (s *Service) insertLinks(ctx context.Context, ticketID snowflake.ID, references []string, linkedBy *snowflake.ID, at time.Time) error {
	links := make([]domain.TicketInvoice, 0, len(references))
	for _, reference := range references {
		links = append(links, domain.TicketInvoice{
			TicketID:         ticketID,
			InvoiceReference: reference,
			LinkedBy:         linkedBy,
			CreatedAt:        at,
		})
	}
	return s.repo.InsertLinks(ctx, s.db, links)
}

func (s *Service) audit(ctx context.Context, action, ticketNumber string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := ticketNumber
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "tickets", &targetID, metadata); err != nil {
		s.log.Warn("failed to audit ticket change", zap.String("action", action), zap.Error(err))
	}
}

func cleanReferences(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	references := make([]string, 0, len(raw))
	for _, reference := range raw {
		reference = strings.TrimSpace(reference)
		if reference == "" {
			return nil, domain.ErrInvalidReference
		}
		if seen[reference] {
			continue
		}
		seen[reference] = true
		references = append(references, reference)
	}
	return references, nil
}
