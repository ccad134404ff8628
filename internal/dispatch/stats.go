package dispatch

import (
	"context"
	"fmt"
	"time"

	"tenderwatch/internal/types"
)

// StatsStore is the slice of the job repository the aggregator reads from.
type StatsStore interface {
	CountsByStatus(ctx context.Context) (map[types.JobStatus]int, error)
	AvgTurnaround(ctx context.Context) (time.Duration, error)
}

// StatsAggregator computes the observability view of the queue. It is a pure
// read-aggregate recomputed from the durable store on every call: keeping no
// in-process counters means the numbers stay correct when multiple dispatcher
// instances share the store.
type StatsAggregator struct {
	store StatsStore
}

// NewStatsAggregator creates a StatsAggregator over the given store.
func NewStatsAggregator(store StatsStore) *StatsAggregator {
	return &StatsAggregator{store: store}
}

// Stats returns per-status counts, the success rate, and the average
// turnaround of sent jobs. An empty store yields all zeros, never NaN.
func (s *StatsAggregator) Stats(ctx context.Context) (types.QueueStats, error) {
	counts, err := s.store.CountsByStatus(ctx)
	if err != nil {
		return types.QueueStats{}, fmt.Errorf("stats: counts: %w", err)
	}

	stats := types.QueueStats{
		Pending:    counts[types.JobStatusPending],
		Processing: counts[types.JobStatusProcessing],
		Sent:       counts[types.JobStatusSent],
		Failed:     counts[types.JobStatusFailed],
		Cancelled:  counts[types.JobStatusCancelled],
	}
	stats.Total = stats.Pending + stats.Processing + stats.Sent + stats.Failed + stats.Cancelled

	if resolved := stats.Sent + stats.Failed; resolved > 0 {
		stats.SuccessRate = float64(stats.Sent) / float64(resolved)
	}

	if stats.Sent > 0 {
		avg, err := s.store.AvgTurnaround(ctx)
		if err != nil {
			return types.QueueStats{}, fmt.Errorf("stats: turnaround: %w", err)
		}
		stats.AvgTurnaround = avg
	}

	return stats, nil
}
