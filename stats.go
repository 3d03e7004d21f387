package dbpool

import "sync/atomic"

// Stats is a point-in-time snapshot of a Pool's population counters.
type Stats struct {
	Total     int
	Available int
	Active    int
	Churn     int
}

// Stats returns a snapshot of the pool's current population counters.
func (p *Pool) Stats() Stats {
	total := int(atomic.LoadInt64(&p.totalCount))
	available := len(p.available)
	active := total - available
	if active < 0 {
		active = 0
	}
	return Stats{
		Total:     total,
		Available: available,
		Active:    active,
		Churn:     int(atomic.LoadInt64(&p.churnCount)),
	}
}
