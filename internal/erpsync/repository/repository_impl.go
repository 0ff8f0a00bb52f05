package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/erpsync/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Acquire inserts the lease row, or steals it when the current one expired.
// The conditional DO UPDATE plus the follow-up owner read make this safe
// under concurrent claimers without advisory locks.
func (r *repo) Acquire(ctx context.Context, db *gorm.DB, name, owner string, now, expiresAt time.Time) (bool, error) {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO sync_leases (name, owner, expires_at, heartbeat_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		   owner = excluded.owner,
		   expires_at = excluded.expires_at,
		   heartbeat_at = excluded.heartbeat_at,
		   updated_at = excluded.updated_at
		 WHERE sync_leases.expires_at <= excluded.heartbeat_at
		    OR sync_leases.owner = excluded.owner`,
		name, owner, expiresAt, now, now,
	).Error
	if err != nil {
		return false, err
	}

	var lease domain.SyncLease
	err = db.WithContext(ctx).
		Where("name = ?", name).
		Limit(1).
		Find(&lease).Error
	if err != nil {
		return false, err
	}
	return lease.Owner == owner, nil
}

func (r *repo) Heartbeat(ctx context.Context, db *gorm.DB, name, owner string, now, expiresAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE sync_leases
		 SET heartbeat_at = ?, expires_at = ?, updated_at = ?
		 WHERE name = ? AND owner = ?`,
		now, expiresAt, now, name, owner,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Release(ctx context.Context, db *gorm.DB, name, owner string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sync_leases
		 SET expires_at = ?, updated_at = ?
		 WHERE name = ? AND owner = ?`,
		now, now, name, owner,
	).Error
}
