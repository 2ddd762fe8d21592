package store

import (
	"context"
	"testing"
	"time"

	"github.com/Clark-Hu/store-ratings/internal/logging"
	"github.com/Clark-Hu/store-ratings/internal/metrics"
	"github.com/Clark-Hu/store-ratings/internal/pgtest"
)

func TestStorePoolStatsAndHealth(t *testing.T) {
	db := pgtest.Start(t)
	ctx := context.Background()

	st, err := New(ctx, db.DSN, Options{
		MaxConns:    4,
		MinConns:    1,
		ConnTimeout: 5 * time.Second,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer st.Close()

	if err := st.HealthCheck(ctx); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if st.TxTimeout() != DefaultTxTimeout {
		t.Fatalf("tx timeout = %v, want default", st.TxTimeout())
	}

	conn, err := st.Pool().Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	stats := st.PoolStats()
	conn.Release()

	if stats.Max != 4 {
		t.Fatalf("max conns = %d, want 4", stats.Max)
	}
	if stats.Acquired != 1 {
		t.Fatalf("acquired conns = %d, want 1", stats.Acquired)
	}
	if stats.Total < stats.Acquired {
		t.Fatalf("total %d below acquired %d", stats.Total, stats.Acquired)
	}
}

func TestNilStorePoolStats(t *testing.T) {
	var st *Store
	if got := st.PoolStats(); got != (metrics.PoolStats{}) {
		t.Fatalf("nil store stats = %+v", got)
	}
	if err := st.HealthCheck(context.Background()); err == nil {
		t.Fatal("nil store must fail health check")
	}
}
