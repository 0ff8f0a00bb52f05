package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/authorization"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "forbidden",
			err:  authorization.ErrForbidden,
			want: SchedulerJobReasonForbidden,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newCollectionMetrics(registry, Config{
		ServiceName: "collectra",
		Environment: "test",
	})

	metrics.AddBatchProcessed("reminders_due", "reminders", 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("reminders_due", "reminders"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIncTicketTransitionUsesPrecomputedEdges(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newCollectionMetrics(registry, Config{
		ServiceName: "collectra",
		Environment: "test",
	})

	metrics.IncTicketTransition("open", "pending")
	metrics.IncTicketTransition("open", "pending")
	metrics.IncTicketTransition("closed", "open")

	if got := testutil.ToFloat64(metrics.ticketTransition.WithLabelValues("open", "pending")); got != 2 {
		t.Fatalf("expected 2 open->pending transitions, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ticketTransition.WithLabelValues("closed", "open")); got != 1 {
		t.Fatalf("expected 1 closed->open transition, got %v", got)
	}
}
