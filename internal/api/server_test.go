package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concord-chat/beacon/internal/config"
	"github.com/concord-chat/beacon/internal/network/signaling"
	"github.com/concord-chat/beacon/internal/observability"
	"github.com/concord-chat/beacon/internal/presence"
)

// NewMetrics registers its collectors on the global Prometheus registerer,
// so every test in this package shares one instance.
var (
	testMetrics     *observability.Metrics
	testMetricsOnce sync.Once
)

func getTestMetrics() *observability.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = observability.NewMetrics()
	})
	return testMetrics
}

// testServer builds a Server wired to a fresh signaling handler over an
// in-memory presence backend, suitable for exercising the HTTP surface
// without a real WebSocket upgrade.
func testServer(t *testing.T, sec config.SecurityConfig) *Server {
	t.Helper()

	logger := zerolog.Nop()
	health := observability.NewHealthChecker(logger, "test")
	metrics := getTestMetrics()

	state := signaling.NewState()
	voice := signaling.NewVoiceState()
	tracker := signaling.NewConnectionTracker(0, 0)
	backend := presence.NewMemoryBackend(time.Minute)
	handler := signaling.NewHandler(state, voice, tracker, backend, time.Minute, 0, logger, metrics)

	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0}

	return New(cfg, sec, handler, health, metrics, logger)
}

func defaultSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		MaxBodyBytes: 1_000_000,
		CORSOrigins:  []string{"http://localhost:5173"},
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, defaultSecurity())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body map[string]interface{}
	err := json.Unmarshal(rec.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Contains(t, body, "status")
}

func TestCORSHeaders(t *testing.T) {
	s := testServer(t, defaultSecurity())

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestCORSHeaders_OriginNotAllowed(t *testing.T) {
	s := testServer(t, defaultSecurity())

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSHeaders_PermissiveWhenNoOrigins(t *testing.T) {
	sec := defaultSecurity()
	sec.CORSOrigins = nil
	s := testServer(t, sec)

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://anything.example")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://anything.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	s := testServer(t, defaultSecurity())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRateLimiting(t *testing.T) {
	sec := defaultSecurity()
	sec.RateLimitRESTPerMin = 5
	s := testServer(t, sec)

	limited := false
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("CF-Connecting-IP", "203.0.113.9")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}

	assert.True(t, limited, "expected rate limiter to reject some requests")
}

func TestRateLimiting_Disabled(t *testing.T) {
	sec := defaultSecurity()
	sec.RateLimitRESTPerMin = 0
	s := testServer(t, sec)

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, defaultSecurity())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "beacon_")
}

func TestMaxBodySize(t *testing.T) {
	sec := defaultSecurity()
	sec.MaxBodyBytes = 16
	s := testServer(t, sec)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWSSignalingRoute_BypassesRESTMiddleware(t *testing.T) {
	sec := defaultSecurity()
	sec.RateLimitRESTPerMin = 1
	s := testServer(t, sec)

	// Non-upgrade requests to the WS route still reach the handler (which
	// rejects them for lacking the Upgrade header), never the REST chain.
	// A REST request first spends the one-token REST bucket for this client.
	warm := httptest.NewRecorder()
	s.Handler().ServeHTTP(warm, httptest.NewRequest(http.MethodGet, "/health", nil))

	req := httptest.NewRequest(http.MethodGet, "/ws/signaling", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
}
