package service

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/clock"
	"github.com/smallbiznis/collectra/internal/ticket/domain"
)

// numberGenerator hands out "T-YYYYMMDD-NNNN" ticket numbers from a per-day
// sequence. The mutex serializes a single process; the unique index on
// tickets.number catches races between processes, the caller retries on
// duplicate.
type numberGenerator struct {
	clock clock.Clock
	repo  domain.Repository

	mu    sync.Mutex
	cache map[string]int
}

func newNumberGenerator(clk clock.Clock, repo domain.Repository) *numberGenerator {
	return &numberGenerator{
		clock: clk,
		repo:  repo,
		cache: make(map[string]int),
	}
}

func (g *numberGenerator) Next(ctx context.Context, db *gorm.DB) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dateStr := g.clock.Now().Format("20060102")

	seq, err := g.nextSequence(ctx, db, dateStr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("T-%s-%04d", dateStr, seq), nil
}

func (g *numberGenerator) nextSequence(ctx context.Context, db *gorm.DB, dateStr string) (int, error) {
	if seq, ok := g.cache[dateStr]; ok {
		g.cache[dateStr] = seq + 1
		return seq + 1, nil
	}

	prefix := fmt.Sprintf("T-%s-", dateStr)
	maxNumber, err := g.repo.MaxNumberForPrefix(ctx, db, prefix)
	if err != nil {
		return 0, fmt.Errorf("max ticket number: %w", err)
	}

	seq := 1
	if maxNumber != "" {
		var parsed int
		if _, err := fmt.Sscanf(maxNumber, prefix+"%d", &parsed); err == nil {
			seq = parsed + 1
		}
	}

	g.cache[dateStr] = seq
	return seq, nil
}

// forget drops the cached sequence for the day so the next call re-reads the
// database. Used after a duplicate-number insert loses the race.
func (g *numberGenerator) forget(dateStr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, dateStr)
}
