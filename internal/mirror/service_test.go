package mirror

import (
	"context"
	"testing"
	"time"

	"signalrelay/internal/database/dbtest"
	"signalrelay/internal/models"
	"signalrelay/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRouter struct {
	mock.Mock
}

func (m *mockRouter) ForwardingEnabled(tenantKey, connectorID string) bool {
	args := m.Called(tenantKey, connectorID)
	return args.Bool(0)
}

func (m *mockRouter) Targets(tenantKey, connectorID, sourceChannelID string) []string {
	args := m.Called(tenantKey, connectorID, sourceChannelID)
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}

var now = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func testSignal(content string) *models.Signal {
	return &models.Signal{
		SignalKey:       models.SignalKey{TenantKey: "t1", ConnectorID: "c1", SourceMessageID: "m1"},
		SourceChannelID: "src",
		SourceGuildID:   "g-src",
		Content:         content,
		Attachments:     []models.AttachmentRef{{URL: "https://cdn.example.com/a.png"}},
		CreatedAt:       now.Add(-time.Minute),
	}
}

func setupService(t *testing.T, router Router) *Service {
	t.Helper()
	svc, err := NewService(dbtest.Open(t), router, 0, dbtest.Logger())
	require.NoError(t, err)
	return svc
}

func TestFanOut_ForwardingDisabled(t *testing.T) {
	router := &mockRouter{}
	router.On("ForwardingEnabled", "t1", "c1").Return(false)
	svc := setupService(t, router)

	res, err := svc.FanOut(context.Background(), testSignal("hi"), models.EventCreate, now)
	require.NoError(t, err)

	assert.Equal(t, &FanOutResult{Skipped: true, SkipReason: SkipForwardingDisabled}, res)
	router.AssertNotCalled(t, "Targets", mock.Anything, mock.Anything, mock.Anything)
}

func TestFanOut_NoTargets(t *testing.T) {
	router := &mockRouter{}
	router.On("ForwardingEnabled", "t1", "c1").Return(true)
	router.On("Targets", "t1", "c1", "src").Return(nil)
	svc := setupService(t, router)

	res, err := svc.FanOut(context.Background(), testSignal("hi"), models.EventCreate, now)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipNoTargets, res.SkipReason)
}

func TestFanOut_OneJobPerDistinctTargetAndCoalesces(t *testing.T) {
	router := &mockRouter{}
	router.On("ForwardingEnabled", "t1", "c1").Return(true)
	router.On("Targets", "t1", "c1", "src").Return([]string{"dst-a", "dst-b", "dst-a", ""})
	svc := setupService(t, router)
	ctx := context.Background()

	res, err := svc.FanOut(ctx, testSignal("v1"), models.EventUpdate, now)
	require.NoError(t, err)
	assert.Equal(t, &FanOutResult{Enqueued: 2}, res)

	res, err = svc.FanOut(ctx, testSignal("v2"), models.EventUpdate, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, &FanOutResult{Deduped: 2}, res)

	// A different event type is a different dedupe key.
	res, err = svc.FanOut(ctx, testSignal("v2"), models.EventDelete, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, &FanOutResult{Enqueued: 2}, res)

	stats, err := svc.Queue().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Pending)

	claimed, err := svc.Claim(ctx, 20, "w1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 4)
	for _, job := range claimed {
		if job.Payload.EventType == models.EventUpdate {
			assert.Equal(t, "v2", job.Payload.Content, "latest payload wins")
		}
		assert.Equal(t, "src", job.Payload.SourceChannelID)
		assert.Len(t, job.Payload.Attachments, 1)
		assert.Nil(t, job.Mapping)
	}
}

func TestComplete_UpsertsMappingAndClaimAttachesIt(t *testing.T) {
	router := &mockRouter{}
	router.On("ForwardingEnabled", "t1", "c1").Return(true)
	router.On("Targets", "t1", "c1", "src").Return([]string{"dst"})
	svc := setupService(t, router)
	ctx := context.Background()

	_, err := svc.FanOut(ctx, testSignal("v1"), models.EventCreate, now)
	require.NoError(t, err)
	claimed, err := svc.Claim(ctx, 1, "w1", now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	out, err := svc.Complete(ctx, claimed[0].ID, claimed[0].ClaimToken, queue.Outcome{
		Success:        true,
		ResultMetadata: map[string]interface{}{"mirroredMessageId": "dm-100", "mirroredGuildId": "g-dst"},
	}, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, out.Status)

	mapping, err := svc.GetMapping(ctx, MappingKey{TenantKey: "t1", ConnectorID: "c1", SourceMessageID: "m1", TargetChannelID: "dst"})
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, "dm-100", mapping.MirroredMessageID)
	assert.Equal(t, "g-dst", mapping.MirroredGuildID)
	assert.True(t, mapping.LastMirroredAt.Equal(now.Add(time.Second)))
	assert.Nil(t, mapping.DeletedAt)

	_, err = svc.FanOut(ctx, testSignal("v2"), models.EventUpdate, now.Add(2*time.Second))
	require.NoError(t, err)
	claimed, err = svc.Claim(ctx, 1, "w1", now.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NotNil(t, claimed[0].Mapping)
	assert.Equal(t, "dm-100", claimed[0].Mapping.MirroredMessageID)

	_, err = svc.FanOut(ctx, testSignal("v2"), models.EventDelete, now.Add(3*time.Second))
	require.NoError(t, err)
	_, err = svc.Complete(ctx, claimed[0].ID, claimed[0].ClaimToken, queue.Outcome{Success: true}, now.Add(3*time.Second))
	require.NoError(t, err)

	deletes, err := svc.Claim(ctx, 1, "w1", now.Add(4*time.Second))
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	assert.Equal(t, models.EventDelete, deletes[0].Payload.EventType)
	_, err = svc.Complete(ctx, deletes[0].ID, deletes[0].ClaimToken, queue.Outcome{Success: true}, now.Add(5*time.Second))
	require.NoError(t, err)

	mapping, err = svc.GetMapping(ctx, MappingKey{TenantKey: "t1", ConnectorID: "c1", SourceMessageID: "m1", TargetChannelID: "dst"})
	require.NoError(t, err)
	require.NotNil(t, mapping.DeletedAt)
	assert.True(t, mapping.DeletedAt.Equal(now.Add(5*time.Second)))
	assert.Equal(t, "dm-100", mapping.MirroredMessageID)
}

func TestClaim_MappingReadFailureLeavesJobsPending(t *testing.T) {
	router := &mockRouter{}
	router.On("ForwardingEnabled", "t1", "c1").Return(true)
	router.On("Targets", "t1", "c1", "src").Return([]string{"dst-a", "dst-b"})
	svc := setupService(t, router)
	ctx := context.Background()

	_, err := svc.FanOut(ctx, testSignal("hi"), models.EventCreate, now)
	require.NoError(t, err)

	_, err = svc.db.Exec(ctx, "ALTER TABLE mirrored_signals RENAME TO mirrored_signals_gone")
	require.NoError(t, err)

	claimed, err := svc.Claim(ctx, 10, "w1", now)
	require.Error(t, err)
	assert.Nil(t, claimed)

	_, err = svc.db.Exec(ctx, "ALTER TABLE mirrored_signals_gone RENAME TO mirrored_signals")
	require.NoError(t, err)

	stats, err := svc.Queue().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 0, stats.Processing)

	claimed, err = svc.Claim(ctx, 10, "w1", now)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestComplete_FailureDoesNotTouchMapping(t *testing.T) {
	router := &mockRouter{}
	router.On("ForwardingEnabled", "t1", "c1").Return(true)
	router.On("Targets", "t1", "c1", "src").Return([]string{"dst"})
	svc := setupService(t, router)
	ctx := context.Background()

	_, err := svc.FanOut(ctx, testSignal("v1"), models.EventCreate, now)
	require.NoError(t, err)
	claimed, err := svc.Claim(ctx, 1, "w1", now)
	require.NoError(t, err)

	out, err := svc.Complete(ctx, claimed[0].ID, claimed[0].ClaimToken, queue.Outcome{Error: "discord 502"}, now)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, out.Status)

	mapping, err := svc.GetMapping(ctx, MappingKey{TenantKey: "t1", ConnectorID: "c1", SourceMessageID: "m1", TargetChannelID: "dst"})
	require.NoError(t, err)
	assert.Nil(t, mapping)
}

func TestAdapterDedupeKey(t *testing.T) {
	key := adapter{}.DedupeKey(models.MirrorPayload{
		TenantKey: "t1", ConnectorID: "c1", SourceMessageID: "m1", TargetChannelID: "dst", EventType: models.EventUpdate,
	})
	assert.Equal(t, []string{"t1", "c1", "m1", "dst", "update"}, key)
}

func TestMetadataString(t *testing.T) {
	assert.Equal(t, "abc", metadataString(map[string]interface{}{"k": "abc"}, "k"))
	assert.Equal(t, "1234567890123", metadataString(map[string]interface{}{"k": float64(1234567890123)}, "k"))
	assert.Equal(t, "", metadataString(nil, "k"))
	assert.Equal(t, "", metadataString(map[string]interface{}{"k": true}, "k"))
}
