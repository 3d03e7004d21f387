package dbpool

import (
	"sync"
	"testing"
)

func TestTimeDelta_FirstSampleStoredAsIs(t *testing.T) {
	var td TimeDelta
	if got := td.Update(42); got != 42 {
		t.Fatalf("Update(42) = %d, want 42", got)
	}
	if got := td.Delta(); got != 42 {
		t.Fatalf("Delta() = %d, want 42", got)
	}
}

func TestTimeDelta_SubsequentSamplesAverage(t *testing.T) {
	var td TimeDelta
	td.Update(10)
	if got := td.Update(30); got != 20 {
		t.Fatalf("Update(30) after 10 = %d, want 20", got)
	}
	if got := td.Update(0); got != 10 {
		t.Fatalf("Update(0) after 20 = %d, want 10", got)
	}
}

func TestTimeDelta_ConcurrentUpdates(t *testing.T) {
	var td TimeDelta
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(sample int64) {
			defer wg.Done()
			td.Update(sample)
		}(int64(i))
	}
	wg.Wait()
	// No assertion on the final value (order-dependent); this exercises
	// the race detector across concurrent Update calls.
	_ = td.Delta()
}
