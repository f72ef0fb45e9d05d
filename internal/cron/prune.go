package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/stellarlinkco/pacebot/internal/metrics"
)

const PruneHistoryJobName = "prune-history"

// Pruner deletes chat history recorded before a cutoff.
type Pruner interface {
	PruneMessages(ctx context.Context, before time.Time) (int64, error)
}

// PruneHistoryJob removes chat history older than retention. Cooldown only
// ever looks back minutes, so old rows are dead weight.
func PruneHistoryJob(p Pruner, retention time.Duration, schedule string, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:     PruneHistoryJobName,
		Schedule: schedule,
		Run: func(ctx context.Context) (string, error) {
			cutoff := now().Add(-retention)
			n, err := p.PruneMessages(ctx, cutoff)
			if err != nil {
				return "", err
			}
			metrics.HistoryPruned.Add(float64(n))
			return fmt.Sprintf("pruned %d messages before %s", n, cutoff.Format(time.RFC3339)), nil
		},
	}
}
