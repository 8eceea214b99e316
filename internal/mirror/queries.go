package mirror

const (
	selectMapping = `
		SELECT tenant_key, connector_id, source_message_id, target_channel_id,
			   mirrored_message_id, mirrored_guild_id, last_mirrored_at, deleted_at
		FROM mirrored_signals
		WHERE tenant_key = ? AND connector_id = ? AND source_message_id = ? AND target_channel_id = ?`

	upsertMapping = `
		INSERT INTO mirrored_signals (
			tenant_key, connector_id, source_message_id, target_channel_id,
			mirrored_message_id, mirrored_guild_id, last_mirrored_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (tenant_key, connector_id, source_message_id, target_channel_id)
		DO UPDATE SET
			mirrored_message_id = excluded.mirrored_message_id,
			mirrored_guild_id = excluded.mirrored_guild_id,
			last_mirrored_at = excluded.last_mirrored_at`

	touchMapping = `
		UPDATE mirrored_signals SET last_mirrored_at = ?
		WHERE tenant_key = ? AND connector_id = ? AND source_message_id = ? AND target_channel_id = ?`

	tombstoneMapping = `
		UPDATE mirrored_signals SET deleted_at = ?, last_mirrored_at = ?
		WHERE tenant_key = ? AND connector_id = ? AND source_message_id = ? AND target_channel_id = ?`
)
