package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle rate-limits submissions per participant.
type Throttle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

func NewThrottle(perMinute float64, burst int, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	return &Throttle{visitors: make(map[string]*visitor), limit: limit, burst: burst, now: now}
}

func (t *Throttle) Allow(participantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	v, ok := t.visitors[participantID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[participantID] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Cleanup forgets participants idle for longer than idle.
func (t *Throttle) Cleanup(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	now := t.now()
	for id, v := range t.visitors {
		if now.Sub(v.lastSeen) > idle {
			delete(t.visitors, id)
			removed++
		}
	}
	return removed
}
