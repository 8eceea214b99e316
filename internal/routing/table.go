// Package routing holds the configured forwarding routes and tier roles.
// The table is swapped atomically when the config file changes.
package routing

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"signalrelay/internal/models"
	"signalrelay/internal/rolesync"
)

type connectorKey struct {
	tenantKey   string
	connectorID string
}

type connectorRoutes struct {
	forwarding bool
	targets    map[string][]string // sourceChannelID -> target channel ids
}

// Table serves mirror routing and role mapping lookups
type Table struct {
	connectors map[connectorKey]*connectorRoutes
	tiers      map[string][]rolesync.RoleRef
	managed    []rolesync.RoleRef
	mu         sync.RWMutex
}

// NewTable builds a table from configuration. An empty configuration is
// valid: nothing is forwarded and no roles are managed.
func NewTable(connectors []models.ConnectorConfig, roles []models.TierRoleConfig) (*Table, error) {
	t := &Table{}
	if err := t.Reload(connectors, roles); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload replaces the table. On error the previous table stays in place.
func (t *Table) Reload(connectors []models.ConnectorConfig, roles []models.TierRoleConfig) error {
	conns, err := buildConnectors(connectors)
	if err != nil {
		return err
	}
	tiers, managed, err := buildRoles(roles)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectors = conns
	t.tiers = tiers
	t.managed = managed
	return nil
}

func buildConnectors(connectors []models.ConnectorConfig) (map[connectorKey]*connectorRoutes, error) {
	out := make(map[connectorKey]*connectorRoutes, len(connectors))
	for _, c := range connectors {
		if strings.TrimSpace(c.TenantKey) == "" || strings.TrimSpace(c.ConnectorID) == "" {
			return nil, fmt.Errorf("connector route requires tenant_key and connector_id")
		}
		key := connectorKey{tenantKey: c.TenantKey, connectorID: c.ConnectorID}
		if _, exists := out[key]; exists {
			return nil, fmt.Errorf("duplicate connector: %s/%s", c.TenantKey, c.ConnectorID)
		}

		routes := &connectorRoutes{forwarding: c.ForwardingEnabled, targets: make(map[string][]string, len(c.Routes))}
		for _, r := range c.Routes {
			if strings.TrimSpace(r.SourceChannelID) == "" {
				return nil, fmt.Errorf("empty source_channel_id for connector %s/%s", c.TenantKey, c.ConnectorID)
			}
			// Repeated source entries accumulate targets.
			routes.targets[r.SourceChannelID] = appendDistinct(routes.targets[r.SourceChannelID], r.TargetChannelIDs)
		}
		out[key] = routes
	}
	return out, nil
}

func buildRoles(roles []models.TierRoleConfig) (map[string][]rolesync.RoleRef, []rolesync.RoleRef, error) {
	tiers := make(map[string][]rolesync.RoleRef)
	seen := make(map[rolesync.RoleRef]struct{})
	managed := make([]rolesync.RoleRef, 0, len(roles))

	for _, r := range roles {
		if r.Tier == "" || r.GuildID == "" || r.RoleID == "" {
			return nil, nil, fmt.Errorf("role mapping requires tier, guild_id and role_id")
		}
		ref := rolesync.RoleRef{GuildID: r.GuildID, RoleID: r.RoleID}
		tiers[r.Tier] = append(tiers[r.Tier], ref)
		if _, dup := seen[ref]; !dup {
			seen[ref] = struct{}{}
			managed = append(managed, ref)
		}
	}

	sort.Slice(managed, func(i, j int) bool {
		if managed[i].GuildID != managed[j].GuildID {
			return managed[i].GuildID < managed[j].GuildID
		}
		return managed[i].RoleID < managed[j].RoleID
	})
	return tiers, managed, nil
}

func appendDistinct(dst, src []string) []string {
	for _, id := range src {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		found := false
		for _, existing := range dst {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, id)
		}
	}
	return dst
}

// ForwardingEnabled reports the connector's forwarding flag; unknown connectors are off
func (t *Table) ForwardingEnabled(tenantKey, connectorID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.connectors[connectorKey{tenantKey: tenantKey, connectorID: connectorID}]
	return ok && c.forwarding
}

// Targets returns a copy of the destinations for a source channel
func (t *Table) Targets(tenantKey, connectorID, sourceChannelID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.connectors[connectorKey{tenantKey: tenantKey, connectorID: connectorID}]
	if !ok {
		return nil
	}
	targets := c.targets[sourceChannelID]
	if len(targets) == 0 {
		return nil
	}
	return append([]string(nil), targets...)
}

func (t *Table) ManagedRoles() []rolesync.RoleRef {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]rolesync.RoleRef(nil), t.managed...)
}

func (t *Table) RolesForTier(tier string) []rolesync.RoleRef {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]rolesync.RoleRef(nil), t.tiers[tier]...)
}

// ConnectorCount returns the number of configured connectors
func (t *Table) ConnectorCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.connectors)
}
