package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.Update(ComponentStore, true, "")
	h.Update(ComponentPersister, true, "")

	health := h.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Components[ComponentStore])
	assert.NotEmpty(t, health.Uptime)
}

func TestHealth_OneUnhealthy(t *testing.T) {
	h := NewHealthChecker()
	h.Update(ComponentStore, false, "load failed")
	h.Update(ComponentPersister, true, "")

	health := h.Health()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: load failed", health.Components[ComponentStore])
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(h *HealthChecker)
		wantStatus  string
		wantMessage string
	}{
		{
			name: "all critical ready",
			setup: func(h *HealthChecker) {
				h.Update(ComponentStore, true, "")
				h.Update(ComponentPersister, true, "")
			},
			wantStatus: "ready",
		},
		{
			name: "persister not registered",
			setup: func(h *HealthChecker) {
				h.Update(ComponentStore, true, "")
			},
			wantStatus:  "not_ready",
			wantMessage: "waiting for persister initialization",
		},
		{
			name: "store unhealthy",
			setup: func(h *HealthChecker) {
				h.Update(ComponentStore, false, "timeout")
				h.Update(ComponentPersister, true, "")
			},
			wantStatus:  "not_ready",
			wantMessage: "waiting for store",
		},
		{
			name: "non critical component ignored",
			setup: func(h *HealthChecker) {
				h.Update(ComponentStore, true, "")
				h.Update(ComponentPersister, true, "")
				h.Update("metrics", false, "down")
			},
			wantStatus: "ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker()
			tt.setup(h)
			r := h.Readiness()
			assert.Equal(t, tt.wantStatus, r.Status)
			assert.Equal(t, tt.wantMessage, r.Message)
		})
	}
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthChecker()
	h.Update(ComponentStore, false, "unreachable")

	rec := httptest.NewRecorder()
	h.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
}

func TestReadyHandler(t *testing.T) {
	h := NewHealthChecker()
	h.Update(ComponentStore, true, "")
	h.Update(ComponentPersister, true, "")

	rec := httptest.NewRecorder()
	h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
}

func TestSetIdentity(t *testing.T) {
	SetIdentity("v1.2.3", "node-1")
	UpdateComponent(ComponentStore, true, "")

	health := healthChecker.Health()
	assert.Equal(t, "v1.2.3", health.Version)
	assert.Equal(t, "node-1", health.NodeID)
}
