package queue

import "fmt"

const jobColumns = `id, dedupe_key, status, attempt_count, max_attempts, run_after,
	claim_token, claim_worker_id, claimed_at, last_attempt_at, last_error,
	payload, created_at, updated_at`

// queries holds the SQL for one job table. Table names come from adapters,
// never from request input.
type queries struct {
	selectActiveByKey string
	insertJob         string
	coalescePending   string
	coalesceActive    string
	selectReady       string
	claimJob          string
	selectByID        string
	completeSuccess   string
	completeRetry     string
	completeFailed    string
	countByStatus     string
	deleteFinished    string
	countStale        string
}

func buildQueries(table string) queries {
	return queries{
		selectActiveByKey: fmt.Sprintf(`
			SELECT id, status, run_after FROM %s
			WHERE dedupe_key = ? AND status IN ('pending', 'processing')
			ORDER BY created_at LIMIT 1`, table),

		insertJob: fmt.Sprintf(`
			INSERT INTO %s (
				id, dedupe_key, status, attempt_count, max_attempts, run_after,
				payload, created_at, updated_at
			) VALUES (?, ?, 'pending', 0, ?, ?, ?, ?, ?)`, table),

		coalescePending: fmt.Sprintf(`
			UPDATE %s SET payload = ?, run_after = ?, updated_at = ?
			WHERE id = ?`, table),

		coalesceActive: fmt.Sprintf(`
			UPDATE %s SET payload = ?, updated_at = ?
			WHERE id = ?`, table),

		selectReady: fmt.Sprintf(`
			SELECT id FROM %s
			WHERE status = 'pending' AND run_after <= ?
			ORDER BY run_after, created_at, id
			LIMIT ?`, table),

		claimJob: fmt.Sprintf(`
			UPDATE %s
			SET status = 'processing', claim_token = ?, claim_worker_id = ?,
				claimed_at = ?, last_attempt_at = ?, attempt_count = attempt_count + 1,
				last_error = NULL, updated_at = ?
			WHERE id = ? AND status = 'pending'`, table),

		selectByID: fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, jobColumns, table),

		completeSuccess: fmt.Sprintf(`
			UPDATE %s
			SET status = 'completed', claim_token = NULL, claim_worker_id = NULL,
				claimed_at = NULL, last_error = NULL, updated_at = ?
			WHERE id = ? AND status = 'processing' AND claim_token = ?`, table),

		completeRetry: fmt.Sprintf(`
			UPDATE %s
			SET status = 'pending', run_after = ?, claim_token = NULL, claim_worker_id = NULL,
				claimed_at = NULL, last_error = ?, updated_at = ?
			WHERE id = ? AND status = 'processing' AND claim_token = ?`, table),

		completeFailed: fmt.Sprintf(`
			UPDATE %s
			SET status = 'failed', claim_token = NULL, claim_worker_id = NULL,
				claimed_at = NULL, last_error = ?, updated_at = ?
			WHERE id = ? AND status = 'processing' AND claim_token = ?`, table),

		countByStatus: fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, table),

		deleteFinished: fmt.Sprintf(`
			DELETE FROM %s WHERE status = 'completed' AND updated_at < ?`, table),

		countStale: fmt.Sprintf(`
			SELECT COUNT(*) FROM %s WHERE status = 'processing' AND claimed_at < ?`, table),
	}
}
