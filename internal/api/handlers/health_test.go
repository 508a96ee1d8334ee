package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestHealthCheck_AllHealthy(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupTestDB(t, ctx)
	defer cleanup()

	setMigrationState(t, ctx, pool, false)

	checker := NewHealthChecker(pool, "0.1.0", "test-commit")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	checker.Health().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response HealthCheck
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "0.1.0", response.Version)
	assert.Equal(t, "test-commit", response.GitCommit)
	_, err := time.Parse(time.RFC3339, response.Timestamp)
	assert.NoError(t, err, "timestamp should be valid RFC3339")

	dbCheck, ok := response.Checks["database"]
	require.True(t, ok, "database check should be present")
	assert.Equal(t, "pass", dbCheck.Status)
	assert.NotNil(t, dbCheck.Details)

	migCheck, ok := response.Checks["migrations"]
	require.True(t, ok, "migrations check should be present")
	assert.Equal(t, "pass", migCheck.Status)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.HealthStatus))
}

func TestHealthCheck_DirtyMigrationFails(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupTestDB(t, ctx)
	defer cleanup()

	setMigrationState(t, ctx, pool, true)
	defer setMigrationState(t, ctx, pool, false)

	checker := NewHealthChecker(pool, "0.1.0", "test-commit")
	w := httptest.NewRecorder()
	checker.Health().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response HealthCheck
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "unhealthy", response.Status)
	assert.Contains(t, response.Checks["migrations"].Message, "dirty migration state")
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("migrations")))
}

func TestHealthCheck_DatabaseFailure(t *testing.T) {
	checker := NewHealthChecker(nil, "0.1.0", "test-commit")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	checker.Health().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response HealthCheck
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "unhealthy", response.Status)

	dbCheck, ok := response.Checks["database"]
	require.True(t, ok)
	assert.Equal(t, "fail", dbCheck.Status)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.HealthStatus))
}

func TestHealthCheck_ShuttingDown(t *testing.T) {
	checker := NewHealthChecker(nil, "0.1.0", "test-commit")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/health", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	checker.Health().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "shutting_down")
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name           string
		checks         map[string]CheckResult
		expectedStatus string
		expectedCode   int
	}{
		{
			name:           "all pass",
			checks:         map[string]CheckResult{"db": {Status: "pass"}, "migrations": {Status: "pass"}},
			expectedStatus: "healthy",
			expectedCode:   http.StatusOK,
		},
		{
			name:           "one warn",
			checks:         map[string]CheckResult{"db": {Status: "pass"}, "migrations": {Status: "warn"}},
			expectedStatus: "degraded",
			expectedCode:   http.StatusOK,
		},
		{
			name:           "warn and fail",
			checks:         map[string]CheckResult{"db": {Status: "warn"}, "migrations": {Status: "fail"}},
			expectedStatus: "unhealthy",
			expectedCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := overallStatus(tt.checks)
			assert.Equal(t, tt.expectedStatus, status)
			assert.Equal(t, tt.expectedCode, code)
		})
	}
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	Healthz().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ok", response.Status)
}

func TestReadyz_NoDatabase(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthChecker(nil, "", "").Readyz().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "not_ready")
}

func TestReadyz_DatabaseUp(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupTestDB(t, ctx)
	defer cleanup()

	w := httptest.NewRecorder()
	NewHealthChecker(pool, "", "").Readyz().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")
}

func setMigrationState(t *testing.T, ctx context.Context, pool *pgxpool.Pool, dirty bool) {
	t.Helper()

	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version BIGINT PRIMARY KEY, dirty BOOLEAN NOT NULL)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (1, $1)
		ON CONFLICT (version) DO UPDATE SET dirty = EXCLUDED.dirty`, dirty)
	require.NoError(t, err)
}

// setupTestDB connects to DATABASE_URL when it is reachable and otherwise
// starts a throwaway PostgreSQL container.
func setupTestDB(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err == nil && pool.Ping(ctx) == nil {
			return pool, func() { pool.Close() }
		}
		t.Logf("DATABASE_URL set but connection failed, using testcontainer")
	}

	postgresContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("safetynow_test"),
		tcpostgres.WithUsername("safetynow"),
		tcpostgres.WithPassword("safetynow-test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")

	dbURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err, "failed to connect to test database")
	require.NoError(t, pool.Ping(ctx), "failed to ping test database")

	cleanup := func() {
		pool.Close()
		if err := testcontainers.TerminateContainer(postgresContainer); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}

	return pool, cleanup
}
