package models

import "time"

// ChannelKind distinguishes regular channels from threads
type ChannelKind string

const (
	KindChannel ChannelKind = "channel"
	KindThread  ChannelKind = "thread"
)

// SourceGuild is a catalog row for a guild seen by a connector
type SourceGuild struct {
	TenantKey   string     `json:"tenantKey"`
	ConnectorID string     `json:"connectorId"`
	GuildID     string     `json:"guildId"`
	Name        string     `json:"name"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// SourceChannel is a catalog row for a channel or thread seen by a connector
type SourceChannel struct {
	TenantKey       string      `json:"tenantKey"`
	ConnectorID     string      `json:"connectorId"`
	ChannelID       string      `json:"channelId"`
	GuildID         string      `json:"guildId,omitempty"`
	Name            string      `json:"name"`
	Kind            ChannelKind `json:"kind"`
	ParentChannelID string      `json:"parentChannelId,omitempty"`
	Archived        bool        `json:"archived"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	DeletedAt       *time.Time  `json:"deletedAt,omitempty"`
}
