// Package catalog keeps the guilds, channels and threads each connector
// has reported, so operators can build routes against real ids.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"signalrelay/internal/database"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/metrics"
	"signalrelay/internal/models"

	"github.com/sirupsen/logrus"
)

type Store struct {
	db     *database.Database
	logger *logrus.Logger
}

func NewStore(db *database.Database, logger *logrus.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// ApplyEvent routes a catalog event to the matching sync. It returns false
// when the stored row is newer than the event.
func (s *Store) ApplyEvent(ctx context.Context, tenantKey, connectorID string, ev Event, now time.Time) (bool, error) {
	if tenantKey == "" || connectorID == "" {
		return false, appErrors.NewValidationError("tenant_key", tenantKey, "tenant and connector are required")
	}
	if err := validate(ev); err != nil {
		return false, err
	}
	updatedAt, err := ev.updatedAt(now)
	if err != nil {
		return false, err
	}

	var applied bool
	switch {
	case ev.EventType == EventGuildUpsert:
		applied, err = s.SyncGuild(ctx, models.SourceGuild{
			TenantKey:   tenantKey,
			ConnectorID: connectorID,
			GuildID:     ev.GuildID,
			Name:        ev.Name,
			UpdatedAt:   updatedAt,
		})
	case ev.isDelete():
		applied, err = s.DeleteChannel(ctx, tenantKey, connectorID, ev.ChannelID, ev.GuildID, ev.kind(), ev.ParentChannelID, updatedAt)
	default:
		applied, err = s.SyncChannel(ctx, models.SourceChannel{
			TenantKey:       tenantKey,
			ConnectorID:     connectorID,
			ChannelID:       ev.ChannelID,
			GuildID:         ev.GuildID,
			Name:            ev.Name,
			Kind:            ev.kind(),
			ParentChannelID: ev.ParentChannelID,
			Archived:        ev.Archived,
			UpdatedAt:       updatedAt,
		})
	}
	if err != nil {
		return false, err
	}

	result := "applied"
	if !applied {
		result = "stale"
	}
	metrics.IncrementCounter(metrics.CatalogUpdatesTotal, map[string]string{"type": ev.EventType, "result": result}, "Catalog updates by type and result")
	return applied, nil
}

// SyncGuild upserts a guild. Older updates are ignored.
func (s *Store) SyncGuild(ctx context.Context, g models.SourceGuild) (bool, error) {
	res, err := s.db.Exec(ctx, upsertGuild,
		g.TenantKey, g.ConnectorID, g.GuildID, g.Name,
		database.ToMillis(g.UpdatedAt), database.NullMillis(g.DeletedAt),
	)
	if err != nil {
		return false, appErrors.NewDatabaseError("sync guild", err)
	}
	return affected(res)
}

// SyncChannel upserts a channel or thread. Older updates are ignored.
func (s *Store) SyncChannel(ctx context.Context, c models.SourceChannel) (bool, error) {
	kind := c.Kind
	if kind == "" {
		kind = models.KindChannel
	}
	res, err := s.db.Exec(ctx, upsertChannel,
		c.TenantKey, c.ConnectorID, c.ChannelID, c.GuildID, c.Name, string(kind),
		c.ParentChannelID, boolToInt(c.Archived),
		database.ToMillis(c.UpdatedAt), database.NullMillis(c.DeletedAt),
	)
	if err != nil {
		return false, appErrors.NewDatabaseError("sync channel", err)
	}
	return affected(res)
}

// DeleteChannel tombstones a channel or thread, creating the row if it was
// never seen.
func (s *Store) DeleteChannel(ctx context.Context, tenantKey, connectorID, channelID, guildID string, kind models.ChannelKind, parentID string, at time.Time) (bool, error) {
	ms := database.ToMillis(at)
	res, err := s.db.Exec(ctx, tombstoneChannel,
		tenantKey, connectorID, channelID, guildID, string(kind), parentID, ms, ms,
	)
	if err != nil {
		return false, appErrors.NewDatabaseError("delete channel", err)
	}
	return affected(res)
}

func (s *Store) GetGuild(ctx context.Context, tenantKey, connectorID, guildID string) (*models.SourceGuild, error) {
	var (
		g         models.SourceGuild
		updatedAt int64
		deletedAt sql.NullInt64
	)
	err := s.db.QueryRow(ctx, selectGuild, tenantKey, connectorID, guildID).Scan(
		&g.TenantKey, &g.ConnectorID, &g.GuildID, &g.Name, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("get guild", err)
	}
	g.UpdatedAt = database.FromMillis(updatedAt)
	g.DeletedAt = database.TimePtr(deletedAt)
	return &g, nil
}

func (s *Store) GetChannel(ctx context.Context, tenantKey, connectorID, channelID string) (*models.SourceChannel, error) {
	c, err := scanChannel(s.db.QueryRow(ctx, selectChannel, tenantKey, connectorID, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("get channel", err)
	}
	return c, nil
}

// ListChannels returns live channels and threads, optionally for one guild
func (s *Store) ListChannels(ctx context.Context, tenantKey, connectorID, guildID string) ([]models.SourceChannel, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if guildID == "" {
		rows, err = s.db.Query(ctx, listChannels, tenantKey, connectorID)
	} else {
		rows, err = s.db.Query(ctx, listGuildChannels, tenantKey, connectorID, guildID)
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("list channels", err)
	}
	defer rows.Close()

	out := []models.SourceChannel{}
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, appErrors.NewDatabaseError("scan channel", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewDatabaseError("list channels", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChannel(row scanner) (*models.SourceChannel, error) {
	var (
		c         models.SourceChannel
		kind      string
		archived  int
		updatedAt int64
		deletedAt sql.NullInt64
	)
	if err := row.Scan(
		&c.TenantKey, &c.ConnectorID, &c.ChannelID, &c.GuildID, &c.Name, &kind,
		&c.ParentChannelID, &archived, &updatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	c.Kind = models.ChannelKind(kind)
	c.Archived = archived != 0
	c.UpdatedAt = database.FromMillis(updatedAt)
	c.DeletedAt = database.TimePtr(deletedAt)
	return &c, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, appErrors.NewDatabaseError("read rows affected", err)
	}
	return n > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
