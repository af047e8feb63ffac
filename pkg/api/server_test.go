package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/sessionsync/pkg/provisioner"
	"github.com/cuemby/sessionsync/pkg/reconciler"
	"github.com/cuemby/sessionsync/pkg/sessionhost"
	"github.com/cuemby/sessionsync/pkg/sessionhost/sessionhosttest"
	"github.com/cuemby/sessionsync/pkg/storage"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server  *Server
	handler http.Handler
	store   *storage.MemoryStore
	host    *sessionhosttest.Host
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	host := sessionhosttest.NewHost()

	rcfg := reconciler.DefaultConfig()
	rcfg.ReconnectDelay = 0
	rec, err := reconciler.NewReconciler(host, store, nil, rcfg)
	require.NoError(t, err)

	prov, err := provisioner.NewCoordinator(host, store, nil, provisioner.Config{})
	require.NoError(t, err)

	srv, err := NewServer(Deps{
		Store:      store,
		Reconciler: rec,
		Instances:  prov,
		Status:     rec.StatusSynchronizer(),
	}, cfg)
	require.NoError(t, err)

	return &fixture{server: srv, handler: srv.Handler(), store: store, host: host}
}

func (f *fixture) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(Deps{}, Config{})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t, Config{Token: "s3cret"})

	tests := []struct {
		name   string
		path   string
		auth   string
		status int
	}{
		{name: "missing token", path: "/v1/instances", status: http.StatusUnauthorized},
		{name: "wrong token", path: "/v1/instances", auth: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/v1/instances", auth: "Basic s3cret", status: http.StatusUnauthorized},
		{name: "valid token", path: "/v1/instances", auth: "Bearer s3cret", status: http.StatusOK},
		{name: "health is public", path: "/health", status: http.StatusOK},
		{name: "metrics are public", path: "/metrics", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.auth != "" {
				header.Set("Authorization", tt.auth)
			}
			w := f.do(http.MethodGet, tt.path, "", header)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusUnauthorized {
				resp := decode[errorResponse](t, w)
				assert.Equal(t, "unauthorized", resp.Code)
			}
		})
	}
}

func TestCorrelationID(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/v1/instances/missing", "", http.Header{correlationHeader: {"corr-1"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "corr-1", w.Header().Get(correlationHeader))
	resp := decode[errorResponse](t, w)
	assert.Equal(t, "not_found", resp.Code)
	assert.Equal(t, "corr-1", resp.CorrelationID)

	w = f.do(http.MethodGet, "/v1/instances/missing", "", nil)
	assert.NotEmpty(t, w.Header().Get(correlationHeader), "generated when absent")
}

func TestCreateInstanceDualSuccess(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodPost, "/v1/instances", `{"owner_id":"u-1","display_name":"Sales"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	result := decode[types.CreationResult](t, w)
	assert.Equal(t, types.CreationStateDualSuccess, result.Status)
	assert.True(t, f.host.Has(result.RemoteSessionID))

	rec, err := f.store.GetRecord(context.Background(), result.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "u-1", rec.OwnerID)
	assert.Equal(t, "Sales", rec.DisplayName)
}

func TestCreateInstanceDegradedThenRetry(t *testing.T) {
	f := newFixture(t, Config{})
	f.host.Fail(sessionhost.OpCreate, "", sessionhosttest.TransportError(sessionhost.OpCreate, ""))

	w := f.do(http.MethodPost, "/v1/instances", `{"owner_id":"u-1"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	result := decode[types.CreationResult](t, w)
	assert.Equal(t, types.CreationStateDBOnlyDegraded, result.Status)
	assert.NotEmpty(t, result.Error)

	rec, err := f.store.GetRecord(context.Background(), result.RecordID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusDegraded, rec.Status)

	f.host.Fail(sessionhost.OpCreate, "", nil)
	w = f.do(http.MethodPost, "/v1/instances/"+result.RecordID+"/retry", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	retried := decode[types.CreationResult](t, w)
	assert.Equal(t, types.CreationStateDualSuccess, retried.Status)
	assert.Equal(t, result.RemoteSessionID, retried.RemoteSessionID)
}

func TestCreateInstanceValidation(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "empty object", body: `{}`, status: http.StatusBadRequest, code: "invalid_input"},
		{name: "empty owner", body: `{"owner_id":""}`, status: http.StatusBadRequest, code: "invalid_input"},
		{name: "unknown field", body: `{"owner_id":"u-1","plan":"gold"}`, status: http.StatusBadRequest, code: "invalid_input"},
		{name: "wrong type", body: `{"owner_id":42}`, status: http.StatusBadRequest, code: "invalid_input"},
		{name: "not json", body: `owner=u-1`, status: http.StatusBadRequest, code: "invalid_input"},
		{name: "name too long", body: `{"owner_id":"u-1","display_name":"` + strings.Repeat("x", 101) + `"}`, status: http.StatusBadRequest, code: "invalid_input"},
		{name: "blank owner passes schema but not provisioner", body: `{"owner_id":"   "}`, status: http.StatusBadRequest, code: "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/v1/instances", tt.body, nil)
			assert.Equal(t, tt.status, w.Code)
			resp := decode[errorResponse](t, w)
			assert.Equal(t, tt.code, resp.Code)
		})
	}

	records, err := f.store.ListRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records, "rejected requests have no side effects")
}

func TestPayloadTooLarge(t *testing.T) {
	f := newFixture(t, Config{MaxBodyBytes: 16})

	w := f.do(http.MethodPost, "/v1/instances", `{"owner_id":"a-rather-long-owner-id"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "payload_too_large", decode[errorResponse](t, w).Code)
}

func TestListGetDeleteInstances(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	now := time.Now().UTC()
	for _, rec := range []*types.SessionRecord{
		{ID: "r-1", RemoteSessionID: "s-1", OwnerID: "u-1", ConnectionType: types.ConnectionTypeWeb, Status: types.SessionStatusReady, Phone: "5511", CreatedAt: now},
		{ID: "r-2", RemoteSessionID: "s-2", OwnerID: "u-2", ConnectionType: types.ConnectionTypeWeb, Status: types.SessionStatusWaitingQR, CreatedAt: now},
	} {
		require.NoError(t, f.store.CreateRecord(ctx, rec))
	}
	f.host.Put(types.RemoteSession{ID: "s-1", RawStatus: "open", Phone: "5511"})

	w := f.do(http.MethodGet, "/v1/instances", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[instanceList](t, w).Instances, 2)

	w = f.do(http.MethodGet, "/v1/instances?owner=u-2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[instanceList](t, w)
	require.Len(t, list.Instances, 1)
	assert.Equal(t, "r-2", list.Instances[0].ID)

	w = f.do(http.MethodGet, "/v1/instances/r-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s-1", decode[types.SessionRecord](t, w).RemoteSessionID)

	w = f.do(http.MethodDelete, "/v1/instances/r-1", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, f.host.Has("s-1"))

	w = f.do(http.MethodGet, "/v1/instances/r-1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/v1/instances/r-1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryRejectsHealthyInstance(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.store.CreateRecord(context.Background(), &types.SessionRecord{
		ID: "r-1", RemoteSessionID: "s-1", OwnerID: "u-1", ConnectionType: types.ConnectionTypeWeb,
		Status: types.SessionStatusReady, Phone: "5511", CreatedAt: time.Now().UTC(),
	}))

	w := f.do(http.MethodPost, "/v1/instances/r-1/retry", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decode[errorResponse](t, w).Code)
}

func TestReconcileEndpoints(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.host.Put(types.RemoteSession{ID: "abc123", RawStatus: "open", Phone: "5511999999999"})
	require.NoError(t, f.store.CreateContact(ctx, &types.Contact{ID: "c-1", OwnerID: "u-42", Phone: "5511999999999"}))

	w := f.do(http.MethodGet, "/v1/reconcile/plan", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	plan := decode[planResponse](t, w)
	assert.True(t, plan.HostHealthy)
	require.Len(t, plan.Entries, 1)
	assert.Equal(t, reconciler.DiffOrphanOnRemote, plan.Entries[0].Kind)

	w = f.do(http.MethodPost, "/v1/reconcile", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[types.ReconciliationSummary](t, w)
	assert.Equal(t, 1, summary.Adopted)
	assert.True(t, summary.HostHealthy)

	rec, err := f.store.GetRecordByRemoteID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "u-42", rec.OwnerID)

	w = f.do(http.MethodGet, "/v1/reconcile/history?limit=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[historyResponse](t, w)
	require.Len(t, history.Cycles, 1)
	assert.Equal(t, summary.CycleID, history.Cycles[0].CycleID)
}

type busyReconciler struct{}

func (busyReconciler) RunCycle(context.Context) (*types.ReconciliationSummary, error) {
	return nil, reconciler.ErrCycleInProgress
}

func (busyReconciler) Plan(context.Context) (*reconciler.Plan, bool, error) {
	return &reconciler.Plan{}, false, nil
}

func TestReconcileConflictWhenCycleRunning(t *testing.T) {
	f := newFixture(t, Config{})
	f.server.reconciler = busyReconciler{}

	w := f.do(http.MethodPost, "/v1/reconcile", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "cycle_in_progress", decode[errorResponse](t, w).Code)

	w = f.do(http.MethodGet, "/v1/reconcile/plan", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	plan := decode[planResponse](t, w)
	assert.False(t, plan.HostHealthy)
	assert.Empty(t, plan.Entries)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/v2/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPut, "/v1/reconcile", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestParseBoundedInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 20},
		{"abc", 20},
		{"0", 20},
		{"7", 7},
		{" 9 ", 9},
		{"9999", 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseBoundedInt(tt.raw, 20, 1, 500), "raw %q", tt.raw)
	}
}

func TestCreateContact(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodPost, "/v1/contacts", `{"owner_id":"u-42","phone":"+55 (11) 99999-9999","name":"Maria"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	contact := decode[types.Contact](t, w)
	assert.Equal(t, "5511999999999", contact.Phone)
	assert.NotEmpty(t, contact.ID)

	owner, err := f.store.FindOwnerByPhone(context.Background(), "5511999999999")
	require.NoError(t, err)
	assert.Equal(t, "u-42", owner)

	w = f.do(http.MethodPost, "/v1/contacts", `{"owner_id":"u-42","phone":"no digits"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decode[errorResponse](t, w).Code)
}
