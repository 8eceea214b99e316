package routing

import (
	"sync"
	"testing"

	"signalrelay/internal/models"
	"signalrelay/internal/rolesync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnectors() []models.ConnectorConfig {
	return []models.ConnectorConfig{
		{
			TenantKey:         "t1",
			ConnectorID:       "c1",
			ForwardingEnabled: true,
			Routes: []models.RouteConfig{
				{SourceChannelID: "src", TargetChannelIDs: []string{"dst-a", "dst-b"}},
				{SourceChannelID: "src", TargetChannelIDs: []string{"dst-b", "dst-c", " "}},
			},
		},
		{TenantKey: "t1", ConnectorID: "c2", ForwardingEnabled: false},
	}
}

func testRoles() []models.TierRoleConfig {
	return []models.TierRoleConfig{
		{Tier: "basic", GuildID: "G", RoleID: "R1"},
		{Tier: "pro", GuildID: "G", RoleID: "R2"},
		{Tier: "pro-legacy", GuildID: "G", RoleID: "R2"},
	}
}

func TestTable_Routes(t *testing.T) {
	table, err := NewTable(testConnectors(), testRoles())
	require.NoError(t, err)

	assert.True(t, table.ForwardingEnabled("t1", "c1"))
	assert.False(t, table.ForwardingEnabled("t1", "c2"))
	assert.False(t, table.ForwardingEnabled("t9", "c1"))

	assert.Equal(t, []string{"dst-a", "dst-b", "dst-c"}, table.Targets("t1", "c1", "src"))
	assert.Nil(t, table.Targets("t1", "c1", "other"))
	assert.Nil(t, table.Targets("t9", "c1", "src"))
	assert.Equal(t, 2, table.ConnectorCount())
}

func TestTable_TargetsReturnsCopy(t *testing.T) {
	table, err := NewTable(testConnectors(), nil)
	require.NoError(t, err)

	targets := table.Targets("t1", "c1", "src")
	targets[0] = "mutated"
	assert.Equal(t, "dst-a", table.Targets("t1", "c1", "src")[0])
}

func TestTable_Roles(t *testing.T) {
	table, err := NewTable(nil, testRoles())
	require.NoError(t, err)

	assert.Equal(t, []rolesync.RoleRef{{GuildID: "G", RoleID: "R1"}, {GuildID: "G", RoleID: "R2"}}, table.ManagedRoles())
	assert.Equal(t, []rolesync.RoleRef{{GuildID: "G", RoleID: "R2"}}, table.RolesForTier("pro"))
	assert.Empty(t, table.RolesForTier("enterprise"))
}

func TestNewTable_Errors(t *testing.T) {
	tests := []struct {
		name       string
		connectors []models.ConnectorConfig
		roles      []models.TierRoleConfig
		wantErr    string
	}{
		{
			name:       "missing connector id",
			connectors: []models.ConnectorConfig{{TenantKey: "t1"}},
			wantErr:    "requires tenant_key and connector_id",
		},
		{
			name:       "duplicate connector",
			connectors: []models.ConnectorConfig{{TenantKey: "t1", ConnectorID: "c1"}, {TenantKey: "t1", ConnectorID: "c1"}},
			wantErr:    "duplicate connector",
		},
		{
			name:       "empty source channel",
			connectors: []models.ConnectorConfig{{TenantKey: "t1", ConnectorID: "c1", Routes: []models.RouteConfig{{TargetChannelIDs: []string{"x"}}}}},
			wantErr:    "empty source_channel_id",
		},
		{
			name:    "incomplete role",
			roles:   []models.TierRoleConfig{{Tier: "pro", GuildID: "G"}},
			wantErr: "role mapping requires",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.connectors, tt.roles)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTable_ReloadKeepsPreviousOnError(t *testing.T) {
	table, err := NewTable(testConnectors(), testRoles())
	require.NoError(t, err)

	err = table.Reload([]models.ConnectorConfig{{TenantKey: "t1"}}, nil)
	require.Error(t, err)
	assert.True(t, table.ForwardingEnabled("t1", "c1"))

	require.NoError(t, table.Reload(nil, nil))
	assert.False(t, table.ForwardingEnabled("t1", "c1"))
	assert.Empty(t, table.ManagedRoles())
}

func TestTable_ConcurrentReadsDuringReload(t *testing.T) {
	table, err := NewTable(testConnectors(), testRoles())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = table.Targets("t1", "c1", "src")
				_ = table.ManagedRoles()
			}
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, table.Reload(testConnectors(), testRoles()))
	}
	wg.Wait()
}
