package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/analytics/domain"
	"github.com/smallbiznis/collectra/pkg/db"
)

// Aggregate expressions are repeated verbatim in HAVING clauses: Postgres
// does not resolve select aliases there.
const (
	netBalanceExpr   = "COALESCE(SUM(CASE WHEN i.type = 'Invoice' THEN i.balance ELSE -i.balance END), 0)"
	grossBalanceExpr = "COALESCE(SUM(CASE WHEN i.type = 'Invoice' THEN i.balance END), 0)"
	openCountExpr    = "COUNT(CASE WHEN i.type = 'Invoice' THEN 1 END)"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// balanceRelation builds the filtered per-customer aggregate over open
// documents. Invoices join on the open status so a customer with nothing
// open still produces a zero row.
func (r *repo) balanceRelation(ctx context.Context, conn *gorm.DB, filter domain.Filter, today time.Time) *gorm.DB {
	daysExpr := db.DaysOverdueExpr(conn, "i.due_date")
	selectSQL := fmt.Sprintf(`c.id AS customer_id,
c.erp_id AS erp_id,
c.name AS name,
c.status AS status,
c.country AS country,
c.classification AS classification,
%s AS calculated_balance,
%s AS gross_balance,
%s AS open_invoice_count,
COUNT(CASE WHEN i.type = 'Invoice' AND i.color_status = 'red' THEN 1 END) AS red_count,
COUNT(CASE WHEN i.type = 'Invoice' AND i.color_status = 'yellow' THEN 1 END) AS yellow_count,
COUNT(CASE WHEN i.type = 'Invoice' AND i.color_status = 'orange' THEN 1 END) AS orange_count,
COUNT(CASE WHEN i.type = 'Invoice' AND i.color_status = 'green' THEN 1 END) AS green_count,
COALESCE(MAX(CASE WHEN i.type = 'Invoice' THEN %s END), 0) AS max_days_overdue`,
		netBalanceExpr, grossBalanceExpr, openCountExpr, daysExpr)

	join := "LEFT JOIN invoices i ON i.customer_erp_id = c.erp_id AND i.status = 'Open'"
	joinArgs := []any{}
	if !filter.IncludeCreditMemos {
		join += " AND i.type = 'Invoice'"
	}
	if filter.DateContext == domain.DateContextInvoiceDate || filter.DateContext == domain.DateContextBalanceDate {
		col := "i.invoice_date"
		if filter.DateContext == domain.DateContextBalanceDate {
			col = "i.due_date"
		}
		if filter.DateFrom != nil {
			join += " AND " + col + " >= ?"
			joinArgs = append(joinArgs, *filter.DateFrom)
		}
		if filter.DateTo != nil {
			join += " AND " + col + " <= ?"
			joinArgs = append(joinArgs, *filter.DateTo)
		}
	}

	stmt := conn.WithContext(ctx).
		Table("customers c").
		Select(selectSQL, today.UTC().Format("2006-01-02")).
		Joins(join, joinArgs...).
		Where("c.exclude_from_analytics = ?", false)

	if filter.SearchText != "" {
		like := db.LikeOperator(conn)
		pattern := "%" + filter.SearchText + "%"
		stmt = stmt.Where("(c.name "+like+" ? OR c.erp_id "+like+" ?)", pattern, pattern)
	}
	if filter.Status != "" {
		stmt = stmt.Where("c.status = ?", filter.Status)
	}
	if filter.Country != "" {
		stmt = stmt.Where("c.country = ?", filter.Country)
	}
	if filter.ExcludeTestCustomers {
		stmt = stmt.Where("c.is_test = ?", false)
	}
	if filter.DateContext == domain.DateContextCustomerAdded {
		if filter.DateFrom != nil {
			stmt = stmt.Where("c.erp_synced_at >= ?", *filter.DateFrom)
		}
		if filter.DateTo != nil {
			stmt = stmt.Where("c.erp_synced_at <= ?", *filter.DateTo)
		}
	}

	stmt = stmt.Group("c.id, c.erp_id, c.name, c.status, c.country, c.classification")

	switch filter.BalanceSign {
	case domain.BalanceSignPositive:
		stmt = stmt.Having(netBalanceExpr + " > 0")
	case domain.BalanceSignNegative:
		stmt = stmt.Having(netBalanceExpr + " < 0")
	case domain.BalanceSignZero:
		stmt = stmt.Having(netBalanceExpr + " = 0")
	}
	if filter.MinBalance != nil {
		stmt = stmt.Having(netBalanceExpr+" >= ?", *filter.MinBalance)
	}
	if filter.MaxBalance != nil {
		stmt = stmt.Having(netBalanceExpr+" <= ?", *filter.MaxBalance)
	}
	if filter.MinOpenInvoices != nil {
		stmt = stmt.Having(openCountExpr+" >= ?", *filter.MinOpenInvoices)
	}
	if filter.MaxOpenInvoices != nil {
		stmt = stmt.Having(openCountExpr+" <= ?", *filter.MaxOpenInvoices)
	}

	return stmt
}

func (r *repo) CustomerBalances(ctx context.Context, conn *gorm.DB, req domain.CustomerBalancesRequest, today time.Time) ([]domain.CustomerBalanceRow, error) {
	stmt := r.balanceRelation(ctx, conn, req.Filter, today)

	dir := "asc"
	if req.SortDesc {
		dir = "desc"
	}
	switch req.SortBy {
	case domain.SortByInvoiceCount:
		stmt = stmt.Order("open_invoice_count " + dir).Order("c.name asc, c.id asc")
	case domain.SortByDaysOverdue:
		stmt = stmt.Order("max_days_overdue " + dir).Order("c.name asc, c.id asc")
	case domain.SortByName:
		stmt = stmt.Order("c.name " + dir).Order("c.id asc")
	default:
		stmt = stmt.Order("calculated_balance " + dir).Order("c.name asc, c.id asc")
	}

	var rows []domain.CustomerBalanceRow
	err := stmt.
		Limit(req.Limit).
		Offset(req.Offset).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) FilteredSummary(ctx context.Context, conn *gorm.DB, filter domain.Filter, today time.Time) (domain.Summary, error) {
	var summary domain.Summary
	inner := r.balanceRelation(ctx, conn, filter, today)
	err := conn.WithContext(ctx).
		Table("(?) AS t", inner).
		Select(`COUNT(*) AS total_customers,
COALESCE(SUM(CASE WHEN t.status = 'Active' THEN 1 ELSE 0 END), 0) AS active_customers,
COALESCE(SUM(t.calculated_balance), 0) AS total_balance,
COALESCE(AVG(t.calculated_balance), 0) AS average_balance,
COALESCE(SUM(CASE WHEN t.calculated_balance > 0 THEN 1 ELSE 0 END), 0) AS customers_with_debt,
COALESCE(SUM(t.open_invoice_count), 0) AS total_open_invoices,
COALESCE(SUM(CASE WHEN t.max_days_overdue > 0 THEN 1 ELSE 0 END), 0) AS customers_with_overdue`).
		Scan(&summary).Error
	if err != nil {
		return domain.Summary{}, err
	}
	return summary, nil
}

func (r *repo) UnfilteredSummary(ctx context.Context, conn *gorm.DB, today time.Time) (domain.Summary, error) {
	var summary domain.Summary
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS total_customers,
		 COALESCE(SUM(CASE WHEN status = 'Active' THEN 1 ELSE 0 END), 0) AS active_customers,
		 COALESCE(SUM(cached_balance), 0) AS total_balance,
		 COALESCE(AVG(cached_balance), 0) AS average_balance,
		 COALESCE(SUM(CASE WHEN cached_balance > 0 THEN 1 ELSE 0 END), 0) AS customers_with_debt
		 FROM customers
		 WHERE exclude_from_analytics = ?`,
		false,
	).Scan(&summary).Error
	if err != nil {
		return domain.Summary{}, err
	}

	err = conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM invoices WHERE status = 'Open' AND type = 'Invoice'`,
	).Scan(&summary.TotalOpenInvoices).Error
	if err != nil {
		return domain.Summary{}, err
	}

	midnight := dayStart(today)
	err = conn.WithContext(ctx).Raw(
		`SELECT COUNT(DISTINCT customer_erp_id)
		 FROM invoices
		 WHERE status = 'Open' AND type = 'Invoice' AND due_date < ?`,
		midnight,
	).Scan(&summary.CustomersWithOverdue).Error
	if err != nil {
		return domain.Summary{}, err
	}
	return summary, nil
}

func (r *repo) PositiveBalanceSummary(ctx context.Context, conn *gorm.DB, includeCredits bool, today time.Time) (domain.Summary, error) {
	typeCond := "AND type = 'Invoice'"
	if includeCredits {
		typeCond = ""
	}

	var summary domain.Summary
	err := conn.WithContext(ctx).Raw(fmt.Sprintf(
		`SELECT COUNT(*) AS total_customers,
		 COALESCE(SUM(t.bal), 0) AS total_balance,
		 COALESCE(AVG(t.bal), 0) AS average_balance,
		 COUNT(*) AS customers_with_debt,
		 COALESCE(SUM(t.open_cnt), 0) AS total_open_invoices,
		 COALESCE(SUM(CASE WHEN t.min_due IS NOT NULL AND t.min_due < ? THEN 1 ELSE 0 END), 0) AS customers_with_overdue
		 FROM (
		   SELECT customer_erp_id,
		     SUM(CASE WHEN type = 'Invoice' THEN balance ELSE -balance END) AS bal,
		     COUNT(CASE WHEN type = 'Invoice' THEN 1 END) AS open_cnt,
		     MIN(CASE WHEN type = 'Invoice' THEN due_date END) AS min_due
		   FROM invoices
		   WHERE status = 'Open' %s
		   GROUP BY customer_erp_id
		   HAVING SUM(CASE WHEN type = 'Invoice' THEN balance ELSE -balance END) > 0
		 ) t`, typeCond),
		dayStart(today),
	).Scan(&summary).Error
	if err != nil {
		return domain.Summary{}, err
	}

	// Active customers come from one indexed count; the balance aggregate
	// itself never touches the customer table.
	err = conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM customers WHERE status = 'Active' AND exclude_from_analytics = ?`,
		false,
	).Scan(&summary.ActiveCustomers).Error
	if err != nil {
		return domain.Summary{}, err
	}
	return summary, nil
}

func (r *repo) CollectorProgress(ctx context.Context, conn *gorm.DB, from, to time.Time) ([]domain.CollectorProgressRow, error) {
	var rows []domain.CollectorProgressRow
	err := conn.WithContext(ctx).Raw(
		`SELECT p.id AS collector_id,
		 COALESCE(NULLIF(p.full_name, ''), p.email) AS collector_name,
		 COUNT(DISTINCT CASE WHEN t.status IS NOT NULL AND t.status <> 'closed' THEN t.id END) AS open_tickets,
		 COUNT(DISTINCT CASE WHEN t.status = 'closed' AND t.closed_at >= ? AND t.closed_at < ? THEN t.id END) AS closed_in_period,
		 COALESCE(SUM(CASE WHEN t.status = 'promised' AND i.status = 'Open' THEN i.balance ELSE 0 END), 0) AS promised_balance,
		 COALESCE(SUM(CASE WHEN t.status <> 'closed' AND i.status = 'Open' THEN i.balance ELSE 0 END), 0) AS outstanding_balance,
		 MAX(t.updated_at) AS last_activity_at
		 FROM profiles p
		 LEFT JOIN tickets t ON t.collector_id = p.id
		 LEFT JOIN ticket_invoices ti ON ti.ticket_id = t.id
		 LEFT JOIN invoices i ON i.reference_number = ti.invoice_reference
		 WHERE p.role IN ('collector', 'manager') AND p.status = 'approved'
		 GROUP BY p.id, p.full_name, p.email
		 ORDER BY collector_name asc, p.id asc`,
		from, to,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) SearchCustomers(ctx context.Context, conn *gorm.DB, term string, limit int) ([]domain.SearchResult, error) {
	like := db.LikeOperator(conn)
	pattern := "%" + strings.TrimSpace(term) + "%"
	var results []domain.SearchResult
	err := conn.WithContext(ctx).
		Table("customers").
		Select("'customer' AS kind, erp_id AS id, name AS title, erp_id AS subtitle").
		Where("(name "+like+" ? OR erp_id "+like+" ?)", pattern, pattern).
		Order("name asc, erp_id asc").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *repo) SearchInvoices(ctx context.Context, conn *gorm.DB, term string, limit int) ([]domain.SearchResult, error) {
	like := db.LikeOperator(conn)
	pattern := "%" + strings.TrimSpace(term) + "%"
	var results []domain.SearchResult
	err := conn.WithContext(ctx).
		Table("invoices").
		Select("'invoice' AS kind, reference_number AS id, reference_number AS title, customer_erp_id AS subtitle").
		Where("(reference_number "+like+" ? OR order_number "+like+" ?)", pattern, pattern).
		Order("reference_number asc").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *repo) SearchTickets(ctx context.Context, conn *gorm.DB, term string, limit int) ([]domain.SearchResult, error) {
	like := db.LikeOperator(conn)
	pattern := "%" + strings.TrimSpace(term) + "%"
	var results []domain.SearchResult
	err := conn.WithContext(ctx).
		Table("tickets").
		Select("'ticket' AS kind, number AS id, number AS title, subject AS subtitle").
		Where("(number "+like+" ? OR subject "+like+" ?)", pattern, pattern).
		Order("number asc").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *repo) UpsertSnapshot(ctx context.Context, conn *gorm.DB, snapshot *domain.Snapshot) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO analytics_snapshots (id, snapshot_date, summary, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (snapshot_date) DO UPDATE SET
		   summary = excluded.summary,
		   created_at = excluded.created_at`,
		snapshot.ID,
		snapshot.SnapshotDate,
		snapshot.Summary,
		snapshot.CreatedAt,
	).Error
}

func (r *repo) ListSnapshots(ctx context.Context, conn *gorm.DB, from, to *time.Time) ([]domain.Snapshot, error) {
	stmt := conn.WithContext(ctx).Model(&domain.Snapshot{})
	if from != nil {
		stmt = stmt.Where("snapshot_date >= ?", *from)
	}
	if to != nil {
		stmt = stmt.Where("snapshot_date <= ?", *to)
	}
	var snapshots []domain.Snapshot
	err := stmt.
		Order("snapshot_date asc").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
