package pgguard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// SetStatementTimeout bounds every statement in the current transaction.
// SET LOCAL reverts automatically at COMMIT/ROLLBACK, so this must run inside a TX.
func SetStatementTimeout(tx *gorm.DB, timeout time.Duration) error {
	ms := timeout.Milliseconds()
	if ms <= 0 {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL statement_timeout = %d", ms)).Error
}

// WithStatementTimeout runs fn in a read-only transaction capped by timeout.
// Postgres aborts any statement past the cap with SQLSTATE 57014; other
// dialects ignore the setting and run unbounded.
func WithStatementTimeout(ctx context.Context, db *gorm.DB, timeout time.Duration, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isPostgres(tx) {
			if err := SetStatementTimeout(tx, timeout); err != nil {
				return err
			}
		}
		return fn(tx)
	})
}

func isPostgres(tx *gorm.DB) bool {
	if tx == nil || tx.Dialector == nil {
		return false
	}
	return strings.EqualFold(tx.Dialector.Name(), "postgres")
}
