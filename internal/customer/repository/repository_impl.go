package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/customer/domain"
	"github.com/smallbiznis/collectra/pkg/db"
	"github.com/smallbiznis/collectra/pkg/db/option"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByERPID(ctx context.Context, db *gorm.DB, erpID string) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Where("erp_id = ?", erpID).
		Limit(1).
		Find(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListCustomerFilter, page pagination.Pagination) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	stmt := conn.WithContext(ctx).Model(&domain.Customer{})
	if filter.SearchText != "" {
		like := db.LikeOperator(conn)
		pattern := "%" + filter.SearchText + "%"
		stmt = stmt.Where("(name "+like+" ? OR erp_id "+like+" ?)", pattern, pattern)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Country != "" {
		stmt = stmt.Where("country = ?", filter.Country)
	}
	if filter.Classification != "" {
		stmt = stmt.Where("classification = ?", filter.Classification)
	}
	if filter.ExcludeTest {
		stmt = stmt.Where("is_test = ?", false)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Save(customer).Error
}

func (r *repo) UpsertFromERP(ctx context.Context, db *gorm.DB, customers []*domain.Customer) (int, error) {
	written := 0
	for _, customer := range customers {
		if customer == nil {
			continue
		}
		err := db.WithContext(ctx).Exec(
			`INSERT INTO customers (id, erp_id, name, status, country, classification, erp_synced_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (erp_id) DO UPDATE SET
			   name = excluded.name,
			   status = excluded.status,
			   country = excluded.country,
			   classification = excluded.classification,
			   erp_synced_at = excluded.erp_synced_at,
			   updated_at = excluded.updated_at`,
			customer.ID,
			customer.ERPID,
			customer.Name,
			customer.Status,
			customer.Country,
			customer.Classification,
			customer.ERPSyncedAt,
			customer.CreatedAt,
			customer.UpdatedAt,
		).Error
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (r *repo) RefreshCachedBalances(ctx context.Context, db *gorm.DB) (int64, error) {
	// Net balance: open Invoice rows add, open credit rows subtract.
	result := db.WithContext(ctx).Exec(
		`UPDATE customers SET cached_balance = COALESCE((
		   SELECT SUM(CASE WHEN i.type = 'Invoice' THEN i.balance ELSE -i.balance END)
		   FROM invoices i
		   WHERE i.customer_erp_id = customers.erp_id AND i.status = 'Open'
		 ), 0)`,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) TouchLastContacted(ctx context.Context, db *gorm.DB, erpID string, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE customers SET last_contacted_at = ?, updated_at = ? WHERE erp_id = ?`,
		at, at, erpID,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
