package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// Acquire claims the lease for owner until expiresAt. Returns false when
	// another owner holds an unexpired lease.
	Acquire(ctx context.Context, db *gorm.DB, name, owner string, now, expiresAt time.Time) (bool, error)
	// Heartbeat extends the holder's lease. Returns false when the lease is
	// no longer owned (expired and claimed by someone else).
	Heartbeat(ctx context.Context, db *gorm.DB, name, owner string, now, expiresAt time.Time) (bool, error)
	// Release expires the holder's lease in place. Token-checked: releasing
	// a lease someone else now owns is a no-op.
	Release(ctx context.Context, db *gorm.DB, name, owner string, now time.Time) error
}
