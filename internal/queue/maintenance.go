package queue

import (
	"context"
	"fmt"
	"time"

	"signalrelay/internal/database"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/metrics"
	"signalrelay/internal/models"
)

// Stats counts jobs per status
func (q *Queue[P]) Stats(ctx context.Context) (*models.QueueStats, error) {
	rows, err := q.db.Query(ctx, q.q.countByStatus)
	if err != nil {
		return nil, appErrors.NewDatabaseError(q.Name()+" stats", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{Queue: q.Name()}
	for rows.Next() {
		var (
			status models.JobStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, appErrors.NewDatabaseError(q.Name()+" stats", err)
		}
		switch status {
		case models.JobPending:
			stats.Pending = count
		case models.JobProcessing:
			stats.Processing = count
		case models.JobCompleted:
			stats.Completed = count
		case models.JobFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewDatabaseError(q.Name()+" stats", err)
	}
	return stats, nil
}

// PruneFinished deletes completed jobs last updated before cutoff. Failed
// jobs are kept for operator inspection.
func (q *Queue[P]) PruneFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.Exec(ctx, q.q.deleteFinished, database.ToMillis(cutoff))
	if err != nil {
		return 0, appErrors.NewDatabaseError(q.Name()+" prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune result: %w", err)
	}
	if n > 0 {
		metrics.AddToCounter(metrics.QueuePrunedTotal, float64(n), map[string]string{"queue": q.Name()}, "Completed jobs removed by retention")
	}
	return n, nil
}

// CountStaleProcessing counts jobs leased before claimedBefore that are still
// processing. Leases never expire, so these need an operator.
func (q *Queue[P]) CountStaleProcessing(ctx context.Context, claimedBefore time.Time) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, q.q.countStale, database.ToMillis(claimedBefore)).Scan(&n); err != nil {
		return 0, appErrors.NewDatabaseError(q.Name()+" stale count", err)
	}
	return n, nil
}
