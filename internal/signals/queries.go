package signals

const (
	selectSignal = `
		SELECT tenant_key, connector_id, source_message_id, source_channel_id,
			   source_guild_id, source_thread_id, content, attachments,
			   created_at, edited_at, deleted_at, updated_at
		FROM signals
		WHERE tenant_key = ? AND connector_id = ? AND source_message_id = ?`

	insertSignal = `
		INSERT INTO signals (
			tenant_key, connector_id, source_message_id, source_channel_id,
			source_guild_id, source_thread_id, content, attachments,
			created_at, edited_at, deleted_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	updateSignal = `
		UPDATE signals
		SET source_channel_id = ?, source_guild_id = ?, source_thread_id = ?,
			content = ?, attachments = ?, edited_at = ?, deleted_at = ?, updated_at = ?
		WHERE tenant_key = ? AND connector_id = ? AND source_message_id = ?`
)
