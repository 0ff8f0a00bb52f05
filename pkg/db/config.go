package db

import "github.com/smallbiznis/collectra/internal/config"

// Config carries connection-pool settings resolved from app configuration.
type Config struct {
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

func poolConfig(cfg config.Config) Config {
	pool := Config{
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
	if pool.MaxIdleConn <= 0 {
		pool.MaxIdleConn = 5
	}
	if pool.MaxOpenConn <= 0 {
		pool.MaxOpenConn = 25
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 1800
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = 600
	}
	return pool
}
