package db

import (
	"fmt"

	"github.com/smallbiznis/collectra/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBName,
		)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			cfg.DBPort,
			cfg.DBSSLMode,
		)), nil
	case "sqlite":
		return sqlite.Open(cfg.DBName), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}

// LikeOperator returns the case-insensitive pattern operator for the
// connected dialect. sqlite LIKE is already case-insensitive for ASCII.
func LikeOperator(conn *gorm.DB) string {
	if conn != nil && conn.Dialector != nil && conn.Dialector.Name() == "postgres" {
		return "ILIKE"
	}
	return "LIKE"
}

// SupportsSkipLocked reports whether the connected dialect understands
// FOR UPDATE SKIP LOCKED. sqlite serializes writers anyway.
func SupportsSkipLocked(conn *gorm.DB) bool {
	if conn == nil || conn.Dialector == nil {
		return false
	}
	switch conn.Dialector.Name() {
	case "postgres", "mysql":
		return true
	}
	return false
}

// DaysOverdueExpr returns a SQL fragment computing whole days between dueCol
// and a reference date, clipped at zero. The fragment carries exactly one `?`
// placeholder for the reference date (pass it formatted as 2006-01-02).
func DaysOverdueExpr(conn *gorm.DB, dueCol string) string {
	name := ""
	if conn != nil && conn.Dialector != nil {
		name = conn.Dialector.Name()
	}
	switch name {
	case "postgres":
		return fmt.Sprintf("GREATEST(CAST(? AS date) - CAST(%s AS date), 0)", dueCol)
	case "mysql":
		return fmt.Sprintf("GREATEST(DATEDIFF(CAST(? AS date), %s), 0)", dueCol)
	default:
		return fmt.Sprintf("MAX(CAST(julianday(?) - julianday(date(%s)) AS INTEGER), 0)", dueCol)
	}
}
