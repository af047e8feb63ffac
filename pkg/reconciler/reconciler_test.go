package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/sessionsync/pkg/events"
	"github.com/cuemby/sessionsync/pkg/provisioner"
	"github.com/cuemby/sessionsync/pkg/sessionhost"
	"github.com/cuemby/sessionsync/pkg/sessionhost/sessionhosttest"
	"github.com/cuemby/sessionsync/pkg/storage"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 0
	return cfg
}

func newTestReconciler(t *testing.T, host sessionhost.Client, store storage.Store, cfg Config) *Reconciler {
	t.Helper()
	r, err := NewReconciler(host, store, nil, cfg)
	require.NoError(t, err)
	return r
}

func seed(t *testing.T, store storage.Store, records ...*types.SessionRecord) {
	t.Helper()
	for _, r := range records {
		require.NoError(t, store.CreateRecord(context.Background(), r))
	}
}

func TestNewReconcilerValidation(t *testing.T) {
	host := sessionhosttest.NewHost()
	store := storage.NewMemoryStore()

	_, err := NewReconciler(nil, store, nil, DefaultConfig())
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = NewReconciler(host, nil, nil, DefaultConfig())
	assert.ErrorIs(t, err, types.ErrConfiguration)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "interval", mutate: func(c *Config) { c.Interval = 0 }, field: "reconcile.interval"},
		{name: "cycle timeout", mutate: func(c *Config) { c.CycleTimeout = -time.Second }, field: "reconcile.cycle_timeout"},
		{name: "workers", mutate: func(c *Config) { c.Workers = 0 }, field: "reconcile.workers"},
		{name: "reconnect delay", mutate: func(c *Config) { c.ReconnectDelay = -1 }, field: "reconcile.reconnect_delay"},
		{name: "connection type", mutate: func(c *Config) { c.ConnectionType = "" }, field: "reconcile.connection_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewReconciler(host, store, nil, cfg)
			var cfgErr *types.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestRunCycleAdoptsOrphan(t *testing.T) {
	ctx := context.Background()
	host := sessionhosttest.NewHost(types.RemoteSession{ID: "abc123", RawStatus: "open", Phone: "5511999999999"})
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateContact(ctx, &types.Contact{ID: "c-1", OwnerID: "u-42", Phone: "5511999999999"}))

	summary, err := newTestReconciler(t, host, store, testConfig()).RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, summary.HostHealthy)
	assert.Equal(t, 1, summary.Monitored)
	assert.Equal(t, 1, summary.OrphansFound)
	assert.Equal(t, 1, summary.Adopted)
	assert.Zero(t, summary.Errors)
	assert.NotEmpty(t, summary.CycleID)

	rec, err := store.GetRecordByRemoteID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "u-42", rec.OwnerID)
	assert.Equal(t, types.SessionStatusReady, rec.Status)
	assert.Equal(t, "5511999999999", rec.Phone)
}

func TestRunCycleMissingOnRemote(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seed(t, store, record("r-1", "s-9", types.SessionStatusReady, "5511999999999"))

	summary, err := newTestReconciler(t, sessionhosttest.NewHost(), store, testConfig()).RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Contains(t, summary.Actions, "marked r-1 disconnected (missing on host)")

	rec, err := store.GetRecord(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusDisconnected, rec.Status)
	assert.NotNil(t, rec.DisconnectedAt)
}

func TestRunCycleIdempotent(t *testing.T) {
	ctx := context.Background()
	host := sessionhosttest.NewHost(
		types.RemoteSession{ID: "s-adopt", RawStatus: "open", Phone: "5511999999999"},
		types.RemoteSession{ID: "s-dead", RawStatus: "close"},
		types.RemoteSession{ID: "s-drift", RawStatus: "open", Phone: "5511000000001"},
	)
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateContact(ctx, &types.Contact{ID: "c-1", OwnerID: "u-42", Phone: "5511999999999"}))
	seed(t, store,
		record("r-drift", "s-drift", types.SessionStatusWaitingQR, ""),
		record("r-missing", "s-gone", types.SessionStatusReady, "5511000000002"),
	)
	r := newTestReconciler(t, host, store, testConfig())

	first, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Adopted)
	assert.Equal(t, 1, first.Deleted)
	assert.Equal(t, 2, first.Updated)

	second, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Adopted)
	assert.Zero(t, second.Deleted)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Errors)
	assert.Equal(t, 1, host.CallCount(sessionhost.OpDelete))
}

func TestRunCycleFailSoft(t *testing.T) {
	ctx := context.Background()
	host := sessionhosttest.NewHost()
	for i := 1; i <= 5; i++ {
		host.Put(types.RemoteSession{ID: fmt.Sprintf("o-%d", i), RawStatus: "close"})
	}
	host.Fail(sessionhost.OpDelete, "o-3", sessionhosttest.TransportError(sessionhost.OpDelete, "o-3"))

	summary, err := newTestReconciler(t, host, storage.NewMemoryStore(), testConfig()).RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.OrphansFound)
	assert.Equal(t, 4, summary.Deleted)
	assert.Equal(t, 1, summary.Errors)

	for _, id := range []string{"o-1", "o-2", "o-4", "o-5"} {
		assert.False(t, host.Has(id), id)
	}
	assert.True(t, host.Has("o-3"))
}

func TestRunCycleDegradedModeSafety(t *testing.T) {
	ctx := context.Background()
	host := sessionhosttest.NewHost(types.RemoteSession{ID: "o-1", RawStatus: "close"})
	host.SetHealthy(false)
	store := storage.NewMemoryStore()
	seed(t, store,
		record("r-ready", "s-1", types.SessionStatusReady, "1"),
		record("r-qr", "s-2", types.SessionStatusWaitingQR, ""),
		record("r-degraded", "s-3", types.SessionStatusDegraded, ""),
		record("r-creating", "s-4", types.SessionStatusCreating, ""),
	)

	summary, err := newTestReconciler(t, host, store, testConfig()).RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, summary.HostHealthy)
	assert.Zero(t, summary.Adopted)
	assert.Zero(t, summary.Deleted)
	assert.Equal(t, 2, summary.Updated)

	for _, c := range host.Calls() {
		assert.Equal(t, sessionhost.OpListSessions, c.Op, "no host mutation in degraded mode")
	}

	expected := map[string]types.SessionStatus{
		"r-ready":    types.SessionStatusDisconnected,
		"r-qr":       types.SessionStatusDisconnected,
		"r-degraded": types.SessionStatusDegraded,
		"r-creating": types.SessionStatusCreating,
	}
	for id, status := range expected {
		rec, err := store.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, rec.Status, id)
	}
}

func TestRunCycleNeverDeletesDegradedRecords(t *testing.T) {
	ctx := context.Background()
	host := sessionhosttest.NewHost()
	store := storage.NewMemoryStore()
	seed(t, store,
		record("r-d1", "u-7-1", types.SessionStatusDegraded, ""),
		record("r-d2", "u-7-2", types.SessionStatusDegraded, ""),
	)
	r := newTestReconciler(t, host, store, testConfig())

	for i := 0; i < 3; i++ {
		host.SetHealthy(i%2 == 0)
		_, err := r.RunCycle(ctx)
		require.NoError(t, err)
	}

	for _, id := range []string{"r-d1", "r-d2"} {
		rec, err := store.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.SessionStatusDegraded, rec.Status)
	}
}

type failingListStore struct {
	storage.Store
}

func (s failingListStore) ListByType(ctx context.Context, connectionType types.ConnectionType) ([]*types.SessionRecord, error) {
	return nil, errors.New("connection refused")
}

type failingUpsertStore struct {
	storage.Store
}

func (s failingUpsertStore) UpsertStatus(ctx context.Context, id string, update types.StatusUpdate) error {
	return errors.New("disk full")
}

func TestRunCycleCountsStatusWriteErrors(t *testing.T) {
	tests := []struct {
		name    string
		healthy bool
		action  string
	}{
		{name: "missing on host", healthy: true, action: "error updating r-1"},
		{name: "host unreachable", healthy: false, action: "error marking r-1 disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storage.NewMemoryStore()
			seed(t, mem, record("r-1", "s-1", types.SessionStatusReady, "5511999999999"))
			host := sessionhosttest.NewHost()
			host.SetHealthy(tt.healthy)

			summary, err := newTestReconciler(t, host, failingUpsertStore{Store: mem}, testConfig()).RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Errors)
			assert.Zero(t, summary.Updated)
			require.NotEmpty(t, summary.Actions)
			assert.Contains(t, summary.Actions[len(summary.Actions)-1], tt.action)
		})
	}
}

func TestRunCycleStoreListFailure(t *testing.T) {
	host := sessionhosttest.NewHost(types.RemoteSession{ID: "o-1", RawStatus: "close"})
	store := failingListStore{Store: storage.NewMemoryStore()}

	summary, err := newTestReconciler(t, host, store, testConfig()).RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Incomplete)
	assert.Equal(t, 1, summary.Errors)
	assert.Zero(t, host.CallCount(sessionhost.OpDelete), "no orphan is deleted without the record list")
}

// blockingHost stalls ListSessions until release is closed
type blockingHost struct {
	*sessionhosttest.Host
	entered chan struct{}
	release chan struct{}
}

func (h *blockingHost) ListSessions(ctx context.Context) ([]types.RemoteSession, bool) {
	close(h.entered)
	<-h.release
	return h.Host.ListSessions(ctx)
}

func TestRunCycleRejectsConcurrentCycles(t *testing.T) {
	host := &blockingHost{Host: sessionhosttest.NewHost(), entered: make(chan struct{}), release: make(chan struct{})}
	r := newTestReconciler(t, host, storage.NewMemoryStore(), testConfig())

	done := make(chan error, 1)
	go func() {
		_, err := r.RunCycle(context.Background())
		done <- err
	}()

	<-host.entered
	assert.True(t, r.Running())
	summary, err := r.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Nil(t, summary)

	close(host.release)
	require.NoError(t, <-done)
	assert.False(t, r.Running())
}

// stallingProbeHost blocks probes until the cycle deadline
type stallingProbeHost struct {
	*sessionhosttest.Host
}

func (h *stallingProbeHost) SendProbe(ctx context.Context, sessionID string) (*sessionhost.SessionState, error) {
	<-ctx.Done()
	return nil, sessionhosttest.TransportError(sessionhost.OpProbe, sessionID)
}

func TestRunCycleDeadlineMarksIncomplete(t *testing.T) {
	host := &stallingProbeHost{Host: sessionhosttest.NewHost(
		types.RemoteSession{ID: "o-1", RawStatus: "close"},
		types.RemoteSession{ID: "o-2", RawStatus: "close"},
		types.RemoteSession{ID: "o-3", RawStatus: "close"},
	)}
	cfg := testConfig()
	cfg.CycleTimeout = 50 * time.Millisecond
	cfg.Workers = 1

	start := time.Now()
	summary, err := newTestReconciler(t, host, storage.NewMemoryStore(), cfg).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, summary.Incomplete)
	assert.Equal(t, 1, summary.Errors)
	assert.Zero(t, summary.Deleted)
	assert.Contains(t, summary.Actions, "abandoned orphan o-3 at cycle deadline")
}

type countingRetrier struct {
	calls int32
}

func (c *countingRetrier) RetryRemote(ctx context.Context, recordID string) (*types.CreationResult, error) {
	atomic.AddInt32(&c.calls, 1)
	return &types.CreationResult{Status: types.CreationStateDualSuccess, RecordID: recordID, RemoteSessionID: "u-7-1"}, nil
}

func TestRunCycleRetriesDegraded(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store,
		record("r-d1", "u-7-1", types.SessionStatusDegraded, ""),
		record("r-ok", "s-1", types.SessionStatusReady, "1"),
	)
	host := sessionhosttest.NewHost(types.RemoteSession{ID: "s-1", RawStatus: "open", Phone: "1"})

	cfg := testConfig()
	cfg.RetryDegraded = true
	r := newTestReconciler(t, host, store, cfg)
	retrier := &countingRetrier{}
	r.SetDegradedRetrier(retrier)

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retried)
	assert.Equal(t, int32(1), atomic.LoadInt32(&retrier.calls))
}

type failingRetrier struct{}

func (failingRetrier) RetryRemote(ctx context.Context, recordID string) (*types.CreationResult, error) {
	return nil, errors.New("record store error")
}

func TestRunCycleDegradedRetryFailureIsNotAnError(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, record("r-d1", "u-7-1", types.SessionStatusDegraded, ""))

	cfg := testConfig()
	cfg.RetryDegraded = true
	r := newTestReconciler(t, sessionhosttest.NewHost(), store, cfg)
	r.SetDegradedRetrier(failingRetrier{})

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Errors)
	assert.Zero(t, summary.Retried)
	assert.Contains(t, summary.Actions, "retry of degraded r-d1 failed: record store error")
}

func TestRunCycleSkipsDegradedMovedByDrift(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, record("r-d1", "u-7-1", types.SessionStatusDegraded, ""))
	host := sessionhosttest.NewHost(types.RemoteSession{ID: "u-7-1", RawStatus: "open", Phone: "5511977776666"})

	cfg := testConfig()
	cfg.RetryDegraded = true
	r := newTestReconciler(t, host, store, cfg)
	retrier := &countingRetrier{}
	r.SetDegradedRetrier(retrier)

	summary, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Zero(t, summary.Retried)
	assert.Zero(t, atomic.LoadInt32(&retrier.calls))
	for _, action := range summary.Actions {
		assert.NotContains(t, action, "retry of degraded")
	}

	rec, err := store.GetRecord(context.Background(), "r-d1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusReady, rec.Status)
}

// cycleOnCreateHost runs a reconciliation cycle while a creation is between
// the record insert and the host call.
type cycleOnCreateHost struct {
	*sessionhosttest.Host
	onCreate func()
}

func (h *cycleOnCreateHost) CreateSession(ctx context.Context, sessionID string, cfg sessionhost.SessionConfig) (*sessionhost.SessionState, error) {
	h.onCreate()
	return h.Host.CreateSession(ctx, sessionID, cfg)
}

func TestRunCycleDuringCreationKeepsRecordCreating(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	host := &cycleOnCreateHost{Host: sessionhosttest.NewHost()}
	r := newTestReconciler(t, host, store, testConfig())

	var summary *types.ReconciliationSummary
	host.onCreate = func() {
		var err error
		summary, err = r.RunCycle(ctx)
		require.NoError(t, err)
	}

	coord, err := provisioner.NewCoordinator(host, store, nil, provisioner.Config{})
	require.NoError(t, err)
	result, err := coord.CreateInstance(ctx, provisioner.CreateRequest{OwnerID: "u-7"})
	require.NoError(t, err)
	assert.Equal(t, types.CreationStateDualSuccess, result.Status)

	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Monitored)
	assert.Zero(t, summary.Updated)
	assert.Zero(t, summary.Errors)

	rec, err := store.GetRecord(ctx, result.RecordID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusCreating, rec.Status)
	assert.Nil(t, rec.DisconnectedAt)
}

func TestRunCycleRecordsHistoryAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	r, err := NewReconciler(sessionhosttest.NewHost(), store, broker, testConfig())
	require.NoError(t, err)

	summary, err := r.RunCycle(ctx)
	require.NoError(t, err)
	assert.Same(t, summary, r.LastSummary())

	cycles, err := store.ListCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, summary.CycleID, cycles[0].CycleID)

	select {
	case event := <-sub:
		assert.Equal(t, events.EventReconciliationCompleted, event.Type)
		assert.Equal(t, summary.CycleID, event.Metadata["cycle_id"])
	case <-time.After(time.Second):
		t.Fatal("no reconciliation event")
	}
}

func TestPlanIsDryRun(t *testing.T) {
	ctx := context.Background()
	host := sessionhosttest.NewHost(types.RemoteSession{ID: "o-1", RawStatus: "close"})
	store := storage.NewMemoryStore()
	seed(t, store, record("r-1", "s-9", types.SessionStatusReady, "1"))
	r := newTestReconciler(t, host, store, testConfig())

	plan, healthy, err := r.Plan(ctx)
	require.NoError(t, err)
	assert.True(t, healthy)
	assert.Equal(t, 1, plan.Count(DiffOrphanOnRemote))
	assert.Equal(t, 1, plan.Count(DiffMissingOnRemote))

	assert.True(t, host.Has("o-1"))
	rec, err := store.GetRecord(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusReady, rec.Status)

	host.SetHealthy(false)
	plan, healthy, err = r.Plan(ctx)
	require.NoError(t, err)
	assert.False(t, healthy)
	assert.Empty(t, plan.Entries)
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond
	r := newTestReconciler(t, sessionhosttest.NewHost(), storage.NewMemoryStore(), cfg)

	r.Start()
	assert.Eventually(t, func() bool { return r.LastSummary() != nil }, 2*time.Second, 5*time.Millisecond)

	r.SetInterval(20 * time.Millisecond)
	r.Stop()
	r.Stop()
}
