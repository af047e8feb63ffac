package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/cuemby/sessionsync/pkg/metrics"
	"github.com/cuemby/sessionsync/pkg/storage"
	"github.com/stretchr/testify/assert"
)

// TestHealthEndpoint tests the /health endpoint
func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	health := decode[metrics.HealthStatus](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.NotZero(t, health.Timestamp)
}

// TestReadyEndpoint tests that readiness follows the store ping
func TestReadyEndpoint(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	ready := decode[metrics.HealthStatus](t, w)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "ready", ready.Components[metrics.ComponentStore])

	f.server.store = &failingPingStore{Store: f.store}
	w = f.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	ready = decode[metrics.HealthStatus](t, w)
	assert.Equal(t, "not_ready", ready.Status)
}

// TestHealthEndpointMethods tests that only GET is routed
func TestHealthEndpointMethods(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		method         string
		expectedStatus int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusMethodNotAllowed},
		{http.MethodPut, http.StatusMethodNotAllowed},
		{http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			w := f.do(tt.method, "/health", "", nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

type failingPingStore struct {
	storage.Store
}

func (s *failingPingStore) Ping(context.Context) error {
	return errors.New("connection refused")
}
