package queue

import (
	"context"
	"fmt"
)

// Requeue resets claimed, non-terminal jobs back to waiting. This is the
// operator-side recovery for workers that died mid-claim; there is no lease
// timer, so stale claims stay held until someone runs this.
func (s *Store) Requeue(ctx context.Context, ids ...int64) (int64, error) {
	query := `UPDATE jobs
        SET waiting = 1, status = ?, host = NULL, updated_at = ?
        WHERE waiting = 0 AND status IN (?, ?)`
	args := []any{
		string(StatusWaiting),
		timestamp(),
		string(StatusWorking),
		string(StatusRunning),
	}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("requeue jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed deletes failed jobs.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status = ?`, string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("clear failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// Health returns aggregated job counts per lifecycle state.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("queue health: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, err
		}
		summary.Total += count
		switch Status(status) {
		case StatusWaiting:
			summary.Waiting = count
		case StatusWorking:
			summary.Working = count
		case StatusRunning:
			summary.Running = count
		case StatusCompleted:
			summary.Completed = count
		case StatusFailed:
			summary.Failed = count
		}
	}
	return summary, rows.Err()
}
