package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cuemby/sessionsync/pkg/events"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookPath = "/v1/webhooks/session-host"

func seedWaiting(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.store.CreateRecord(context.Background(), &types.SessionRecord{
		ID: "r-1", RemoteSessionID: "s-9", OwnerID: "u-1", ConnectionType: types.ConnectionTypeWeb,
		Status: types.SessionStatusWaitingQR, CreatedAt: time.Now().UTC(),
	}))
}

func TestSessionHostWebhookAppliesStatus(t *testing.T) {
	f := newFixture(t, Config{})
	seedWaiting(t, f)

	w := f.do(http.MethodPost, webhookPath, `{"session_id":"s-9","status":"open","phone":"5511988887777","profile_name":"Acme"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[webhookResponse](t, w)
	assert.True(t, resp.Applied)
	require.NotNil(t, resp.Record)
	assert.Equal(t, types.SessionStatusReady, resp.Record.Status)

	rec, err := f.store.GetRecord(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusReady, rec.Status)
	assert.Equal(t, "5511988887777", rec.Phone)
	assert.NotNil(t, rec.ConnectedAt)

	// Replaying the same report changes nothing.
	w = f.do(http.MethodPost, webhookPath, `{"session_id":"s-9","status":"open","phone":"5511988887777","profile_name":"Acme"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[webhookResponse](t, w).Applied)
}

func TestSessionHostWebhookUnknownSession(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodPost, webhookPath, `{"session_id":"ghost","status":"open"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[webhookResponse](t, w)
	assert.False(t, resp.Applied)
	assert.Equal(t, "unknown_session", resp.Reason)

	records, err := f.store.ListRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records, "orphans are only adopted by reconciliation")
}

func TestSessionHostWebhookValidation(t *testing.T) {
	f := newFixture(t, Config{})

	for _, body := range []string{`{}`, `{"session_id":"s-9"}`, `{"session_id":"","status":"open"}`, `[]`} {
		w := f.do(http.MethodPost, webhookPath, body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestSessionHostWebhookSignature(t *testing.T) {
	const secret = "hook-secret"
	f := newFixture(t, Config{Token: "api-token", WebhookSecret: secret})
	seedWaiting(t, f)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	f.server.now = func() time.Time { return now }

	body := `{"session_id":"s-9","status":"disconnected"}`
	ts := now.Format(time.RFC3339)

	tests := []struct {
		name      string
		timestamp string
		signature string
		status    int
	}{
		{name: "valid", timestamp: ts, signature: events.Sign(secret, ts, []byte(body)), status: http.StatusOK},
		{name: "missing headers", status: http.StatusUnauthorized},
		{name: "wrong secret", timestamp: ts, signature: events.Sign("other", ts, []byte(body)), status: http.StatusUnauthorized},
		{
			name:      "stale timestamp",
			timestamp: now.Add(-time.Hour).Format(time.RFC3339),
			signature: events.Sign(secret, now.Add(-time.Hour).Format(time.RFC3339), []byte(body)),
			status:    http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.timestamp != "" {
				header.Set(HostTimestampHeader, tt.timestamp)
				header.Set(HostSignatureHeader, tt.signature)
			}
			w := f.do(http.MethodPost, webhookPath, body, header)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestSessionHostWebhookBearerFallback(t *testing.T) {
	f := newFixture(t, Config{Token: "api-token"})
	seedWaiting(t, f)
	body := `{"session_id":"s-9","status":"connecting"}`

	w := f.do(http.MethodPost, webhookPath, body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, webhookPath, body, http.Header{"Authorization": {"Bearer api-token"}})
	assert.Equal(t, http.StatusOK, w.Code)
}
