package webhooks

const (
	insertEvent = `
		INSERT INTO webhook_events (
			provider, event_id, event_type, user_id, discord_user_id, tier,
			subscription_status, payload, status, attempt_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'received', 0, ?, ?)
		ON CONFLICT (provider, event_id) DO NOTHING`

	selectEvent = `
		SELECT provider, event_id, event_type, user_id, discord_user_id, tier,
			   subscription_status, payload, status, attempt_count, last_error,
			   processed_at, created_at, updated_at
		FROM webhook_events
		WHERE provider = ? AND event_id = ?`

	markProcessed = `
		UPDATE webhook_events
		SET status = 'processed', attempt_count = attempt_count + 1, last_error = NULL,
			processed_at = ?, updated_at = ?
		WHERE provider = ? AND event_id = ? AND status <> 'processed'`

	markFailed = `
		UPDATE webhook_events
		SET status = 'failed', attempt_count = attempt_count + 1, last_error = ?, updated_at = ?
		WHERE provider = ? AND event_id = ? AND status <> 'processed'`
)
