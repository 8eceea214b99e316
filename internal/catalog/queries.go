package catalog

// Upserts only move forward: a row whose stored updated_at is newer than
// the incoming one is left alone and the statement affects zero rows.
const (
	upsertGuild = `
		INSERT INTO source_guilds (tenant_key, connector_id, guild_id, name, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_key, connector_id, guild_id)
		DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
		WHERE source_guilds.updated_at <= excluded.updated_at`

	upsertChannel = `
		INSERT INTO source_channels (
			tenant_key, connector_id, channel_id, guild_id, name, kind,
			parent_channel_id, archived, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_key, connector_id, channel_id)
		DO UPDATE SET
			guild_id = excluded.guild_id,
			name = excluded.name,
			kind = excluded.kind,
			parent_channel_id = excluded.parent_channel_id,
			archived = excluded.archived,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
		WHERE source_channels.updated_at <= excluded.updated_at`

	// Deletes keep the last known name and shape.
	tombstoneChannel = `
		INSERT INTO source_channels (
			tenant_key, connector_id, channel_id, guild_id, name, kind,
			parent_channel_id, archived, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, '', ?, ?, 0, ?, ?)
		ON CONFLICT (tenant_key, connector_id, channel_id)
		DO UPDATE SET
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
		WHERE source_channels.updated_at <= excluded.updated_at`

	selectGuild = `
		SELECT tenant_key, connector_id, guild_id, name, updated_at, deleted_at
		FROM source_guilds
		WHERE tenant_key = ? AND connector_id = ? AND guild_id = ?`

	channelColumns = `
		SELECT tenant_key, connector_id, channel_id, guild_id, name, kind,
			   parent_channel_id, archived, updated_at, deleted_at
		FROM source_channels`

	selectChannel = channelColumns + `
		WHERE tenant_key = ? AND connector_id = ? AND channel_id = ?`

	listChannels = channelColumns + `
		WHERE tenant_key = ? AND connector_id = ? AND deleted_at IS NULL
		ORDER BY guild_id, kind, name, channel_id`

	listGuildChannels = channelColumns + `
		WHERE tenant_key = ? AND connector_id = ? AND guild_id = ? AND deleted_at IS NULL
		ORDER BY kind, name, channel_id`
)
