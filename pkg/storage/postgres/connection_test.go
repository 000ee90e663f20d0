package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobgate/jobgate/pkg/config"
	"github.com/jobgate/jobgate/pkg/observability"
)

func TestConnect_BadURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, config.DatabaseConfig{
		URL:          "postgres://nobody@127.0.0.1:1/does_not_exist?sslmode=disable&connect_timeout=1",
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, HealthCheck(db, time.Second))

	db.Close()
	assert.Error(t, HealthCheck(db, time.Second))
}

func TestStartPoolMetrics(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	StartPoolMetrics(ctx, db, metrics, 5*time.Millisecond)

	// Hold a connection open so InUse is nonzero at sample time
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.DBConnectionsActive) >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
}
