package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/sessionsync/pkg/storage"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSynchronizer(t *testing.T, records ...*types.SessionRecord) (*StatusSynchronizer, *storage.MemoryStore, time.Time) {
	t.Helper()
	store := storage.NewMemoryStore()
	for _, r := range records {
		require.NoError(t, store.CreateRecord(context.Background(), r))
	}
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	sync := NewStatusSynchronizer(store)
	sync.now = func() time.Time { return now }
	return sync, store, now
}

func TestApplyMissingOnRemote(t *testing.T) {
	ctx := context.Background()
	sync, store, now := newSynchronizer(t, record("r-1", "s-9", types.SessionStatusReady, "5511999999999"))

	entry := PlanEntry{Kind: DiffMissingOnRemote, RemoteSessionID: "s-9", RecordID: "r-1", CurrentStatus: types.SessionStatusReady}
	changed, err := sync.Apply(ctx, entry)
	require.NoError(t, err)
	assert.True(t, changed)

	rec, err := store.GetRecord(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusDisconnected, rec.Status)
	require.NotNil(t, rec.DisconnectedAt)
	assert.True(t, now.Equal(*rec.DisconnectedAt))

	changed, err = sync.Apply(ctx, entry)
	require.NoError(t, err)
	assert.False(t, changed, "re-applying is a no-op")
}

func TestApplyDriftToReady(t *testing.T) {
	ctx := context.Background()
	sync, store, now := newSynchronizer(t, record("r-1", "s-1", types.SessionStatusWaitingQR, ""))

	entry := PlanEntry{Kind: DiffStatusDrift, RemoteSessionID: "s-1", RecordID: "r-1", RawStatus: "open", Phone: "5511999999999", ProfileName: "Loja"}
	changed, err := sync.Apply(ctx, entry)
	require.NoError(t, err)
	assert.True(t, changed)

	rec, err := store.GetRecord(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusReady, rec.Status)
	assert.Equal(t, "5511999999999", rec.Phone)
	assert.Equal(t, "Loja", rec.ProfileName)
	require.NotNil(t, rec.ConnectedAt)
	assert.True(t, now.Equal(*rec.ConnectedAt))

	changed, err = sync.Apply(ctx, entry)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyKeepsFirstConnectedAt(t *testing.T) {
	ctx := context.Background()
	first := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	rec := record("r-1", "s-1", types.SessionStatusDisconnected, "5511999999999")
	rec.ConnectedAt = &first
	sync, store, _ := newSynchronizer(t, rec)

	_, err := sync.Apply(ctx, PlanEntry{Kind: DiffStatusDrift, RecordID: "r-1", RawStatus: "open"})
	require.NoError(t, err)

	got, err := store.GetRecord(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusReady, got.Status)
	assert.True(t, first.Equal(*got.ConnectedAt))
}

func TestApplyLeavesDegradedAlone(t *testing.T) {
	ctx := context.Background()
	sync, store, _ := newSynchronizer(t, record("r-1", "u-7-1", types.SessionStatusDegraded, ""))

	changed, err := sync.Apply(ctx, PlanEntry{Kind: DiffMissingOnRemote, RecordID: "r-1", RemoteSessionID: "u-7-1"})
	require.NoError(t, err)
	assert.False(t, changed)

	rec, err := store.GetRecord(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusDegraded, rec.Status)
}

func TestApplyCreatingWithinGrace(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		want   types.SessionStatus
	}{
		{name: "creation in flight", offset: 0, want: types.SessionStatusCreating},
		{name: "stale creation", offset: CreationGrace + time.Minute, want: types.SessionStatusDisconnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			sync, store, _ := newSynchronizer(t, record("r-1", "u-7-1", types.SessionStatusCreating, ""))
			sync.now = func() time.Time { return time.Now().Add(tt.offset) }

			changed, err := sync.Apply(ctx, PlanEntry{Kind: DiffMissingOnRemote, RecordID: "r-1", RemoteSessionID: "u-7-1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want != types.SessionStatusCreating, changed)

			rec, err := store.GetRecord(ctx, "r-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Status)
		})
	}
}

func TestApplyDeletedRecord(t *testing.T) {
	sync, _, _ := newSynchronizer(t)
	changed, err := sync.Apply(context.Background(), PlanEntry{Kind: DiffMissingOnRemote, RecordID: "gone"})
	assert.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyRemote(t *testing.T) {
	ctx := context.Background()
	sync, _, _ := newSynchronizer(t, record("r-1", "s-1", types.SessionStatusCreating, ""))

	rec, changed, err := sync.ApplyRemote(ctx, types.RemoteSession{ID: "s-1", RawStatus: "waiting_qr"})
	require.NoError(t, err)
	assert.False(t, changed, "creating stays creating while the host is connecting")
	assert.Equal(t, types.SessionStatusCreating, rec.Status)

	rec, changed, err = sync.ApplyRemote(ctx, types.RemoteSession{ID: "s-1", RawStatus: "open", Phone: "5511999999999"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, types.SessionStatusReady, rec.Status)
	assert.Equal(t, "5511999999999", rec.Phone)

	_, _, err = sync.ApplyRemote(ctx, types.RemoteSession{ID: "unknown", RawStatus: "open"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMarkDisconnected(t *testing.T) {
	ctx := context.Background()
	sync, store, _ := newSynchronizer(t,
		record("r-ready", "s-1", types.SessionStatusReady, "1"),
		record("r-qr", "s-2", types.SessionStatusWaitingQR, ""),
		record("r-degraded", "s-3", types.SessionStatusDegraded, ""),
	)

	records, err := store.ListRecords(ctx)
	require.NoError(t, err)

	expected := map[string]types.SessionStatus{
		"r-ready":    types.SessionStatusDisconnected,
		"r-qr":       types.SessionStatusDisconnected,
		"r-degraded": types.SessionStatusDegraded,
	}
	for _, rec := range records {
		_, err := sync.MarkDisconnected(ctx, rec)
		require.NoError(t, err)

		got, err := store.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, expected[rec.ID], got.Status, rec.ID)
	}
}
