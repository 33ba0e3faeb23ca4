package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosspay/crosspay_service/internal/infrastructure/chains"
	"github.com/crosspay/crosspay_service/pkg/logger"
)

func healthy(context.Context) error { return nil }

func broken(context.Context) error { return errors.New("connection refused") }

func coreRouter(deps ...Dependency) *gin.Engine {
	h := NewCoreHandlers(deps, logger.NewNop())
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/live", h.Live)
	r.GET("/metrics", h.Metrics)
	return r
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		deps       []Dependency
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all healthy",
			deps:       []Dependency{{Name: "database", Critical: true, Checker: HealthCheckFunc(healthy)}},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "non critical failure degrades",
			deps: []Dependency{
				{Name: "database", Critical: true, Checker: HealthCheckFunc(healthy)},
				{Name: "attestation_api", Checker: HealthCheckFunc(broken)},
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name: "critical failure",
			deps: []Dependency{
				{Name: "database", Critical: true, Checker: HealthCheckFunc(broken)},
				{Name: "redis", Checker: HealthCheckFunc(healthy)},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name:       "no dependencies",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			coreRouter(tt.deps...).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, Version, body["version"])
			assert.Len(t, body["checks"], len(tt.deps))
		})
	}
}

func TestReady_IgnoresNonCritical(t *testing.T) {
	r := coreRouter(
		Dependency{Name: "database", Critical: true, Checker: HealthCheckFunc(healthy)},
		Dependency{Name: "attestation_api", Checker: HealthCheckFunc(broken)},
	)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ready", body["status"])
	assert.Len(t, body["checks"], 1)

	r = coreRouter(Dependency{Name: "database", Critical: true, Checker: HealthCheckFunc(broken)})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", decode(t, w)["status"])
}

func TestLiveAndMetrics(t *testing.T) {
	r := coreRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", decode(t, w)["status"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestListChains(t *testing.T) {
	h := NewChainHandlers(chains.NewRegistry(nil))
	r := gin.New()
	r.GET("/api/v1/chains", h.ListChains)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/chains", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(5), body["count"])
	first := body["chains"].([]interface{})[0].(map[string]interface{})
	assert.NotEmpty(t, first["name"])
	assert.NotContains(t, first, "RPCURL")
}
