package dbpool

import (
	"context"
	"testing"
	"time"
)

func TestPool_Stats_ActiveIsTotalMinusAvailable(t *testing.T) {
	d := &fakeRawDriver{}
	pool := newTestPool(t, Config{MinSize: 0, MaxSize: 2, ConnectionTimeout: time.Second}, d)
	defer pool.Close()

	a, err := pool.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	stats := pool.Stats()
	if stats.Total != 1 || stats.Active != 1 || stats.Available != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	_ = a.Close(context.Background())

	stats = pool.Stats()
	if stats.Active != 0 || stats.Available != 1 {
		t.Fatalf("stats after release = %+v", stats)
	}
}
