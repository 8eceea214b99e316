package rolesync

import (
	"context"
	"sort"
	"testing"
	"time"

	"signalrelay/internal/database/dbtest"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticMapping struct {
	managed []RoleRef
	tiers   map[string][]RoleRef
}

func (m staticMapping) ManagedRoles() []RoleRef           { return m.managed }
func (m staticMapping) RolesForTier(tier string) []RoleRef { return m.tiers[tier] }

var (
	now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r1  = RoleRef{GuildID: "G", RoleID: "R1"}
	r2  = RoleRef{GuildID: "G", RoleID: "R2"}
	r3  = RoleRef{GuildID: "G", RoleID: "R3"}

	mapping = staticMapping{
		managed: []RoleRef{r1, r2, r3},
		tiers: map[string][]RoleRef{
			"basic": {r1},
			"plus":  {r2},
			"pro":   {r3},
			"multi": {r1, r2},
		},
	}
)

func setupService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(dbtest.Open(t), mapping, 0, dbtest.Logger())
	require.NoError(t, err)
	return svc
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name       string
		tier       string
		status     models.SubscriptionStatus
		wantGrant  []RoleRef
		wantRevoke []RoleRef
	}{
		{"active pro", "pro", models.SubscriptionActive, []RoleRef{r3}, []RoleRef{r1, r2}},
		{"inactive pro revokes everything", "pro", models.SubscriptionInactive, nil, []RoleRef{r1, r2, r3}},
		{"past due revokes everything", "basic", models.SubscriptionPastDue, nil, []RoleRef{r1, r2, r3}},
		{"canceled", "plus", models.SubscriptionCanceled, nil, []RoleRef{r1, r2, r3}},
		{"unmapped tier", "enterprise", models.SubscriptionActive, nil, []RoleRef{r1, r2, r3}},
		{"tier with two roles is ambiguous", "multi", models.SubscriptionActive, nil, []RoleRef{r1, r2, r3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant, revoke := Plan(mapping, tt.tier, tt.status)
			assert.ElementsMatch(t, tt.wantGrant, grant)
			assert.ElementsMatch(t, tt.wantRevoke, revoke)
		})
	}
}

func TestFanOut_ProToInactiveRevokesAllManagedRoles(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	res, err := svc.FanOut(ctx, Transition{UserID: "u1", DiscordUserID: "d1", Tier: "pro", Status: models.SubscriptionInactive, Source: "stripe"}, now)
	require.NoError(t, err)
	assert.Equal(t, &FanOutResult{RevokesEnqueued: 3}, res)

	jobs, err := svc.Queue().Claim(ctx, 20, "w1", now)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	var roles []string
	for _, job := range jobs {
		assert.Equal(t, models.RoleRevoke, job.Payload.Action)
		assert.Equal(t, "d1", job.Payload.DiscordUserID)
		assert.Equal(t, "stripe", job.Payload.Source)
		roles = append(roles, job.Payload.RoleID)
	}
	sort.Strings(roles)
	assert.Equal(t, []string{"R1", "R2", "R3"}, roles)
}

func TestFanOut_RepeatedStateOnlyDedupes(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	tr := Transition{UserID: "u1", DiscordUserID: "d1", Tier: "pro", Status: models.SubscriptionActive}

	first, err := svc.FanOut(ctx, tr, now)
	require.NoError(t, err)
	assert.Equal(t, &FanOutResult{GrantsEnqueued: 1, RevokesEnqueued: 2}, first)

	second, err := svc.FanOut(ctx, tr, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, &FanOutResult{GrantsDeduped: 1, RevokesDeduped: 2}, second)

	stats, err := svc.Queue().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
}

func TestFanOut_NoIdentityLinkIsSkipped(t *testing.T) {
	svc := setupService(t)

	res, err := svc.FanOut(context.Background(), Transition{UserID: "u1", Tier: "pro", Status: models.SubscriptionActive}, now)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipNoIdentityLink, res.SkipReason)

	stats, err := svc.Queue().Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
}

func TestFanOut_UnknownStatus(t *testing.T) {
	svc := setupService(t)

	_, err := svc.FanOut(context.Background(), Transition{UserID: "u1", DiscordUserID: "d1", Status: "trialing"}, now)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeValidationFailed))
}

func TestAdapterDedupeKey(t *testing.T) {
	key := adapter{}.DedupeKey(models.RoleSyncPayload{UserID: "u", DiscordUserID: "d", GuildID: "G", RoleID: "R", Action: models.RoleGrant})
	assert.Equal(t, []string{"u", "d", "G", "R", "grant"}, key)
}
