package dbpool

import "sync"

// TimeDelta captures the running average clock skew, in milliseconds,
// between this process and the database server it connects to. Each
// successful connection open that runs a SessionController contributes
// one sample via Update.
type TimeDelta struct {
	mu    sync.Mutex
	delta int64
}

// Delta returns the current running average.
func (t *TimeDelta) Delta() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delta
}

// Update folds a new sample into the running average: the first sample is
// stored as-is, every subsequent sample replaces the average with
// (previous + sample) / 2. Returns the new value.
func (t *TimeDelta) Update(sample int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.delta == 0 {
		t.delta = sample
	} else {
		t.delta = (t.delta + sample) / 2
	}
	return t.delta
}
