package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Run executes one full sync pass: lease, paged pulls, mirror upserts,
	// cached-balance refresh, settled-link cleanup, release.
	Run(ctx context.Context) (RunResult, error)
}

var (
	// ErrLeaseHeld means another process owns an unexpired lease.
	ErrLeaseHeld = errors.New("lease_held")
	// ErrLeaseLost means the holder failed a heartbeat mid-run.
	ErrLeaseLost = errors.New("lease_lost")
)
