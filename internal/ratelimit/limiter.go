package ratelimit

import (
	"sync"
	"time"
)

const window = 60 * time.Second

// Limiter is a single shared notification budget: at most max admissions
// per rolling 60-second window. Both tail loops admit through the same
// instance.
type Limiter struct {
	mu          sync.Mutex
	max         int
	count       int
	windowStart time.Time
	now         func() time.Time
}

func New(max int) *Limiter {
	if max <= 0 {
		max = 10
	}
	return &Limiter{max: max, now: time.Now}
}

// Admit decides whether one more notification may be sent and counts it
// toward the current window. The counter resets once 60 seconds have
// elapsed since the window started; a clock that runs backwards is treated
// as the window not yet being expired.
func (l *Limiter) Admit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.windowStart.IsZero() {
		l.windowStart = now
	}
	if now.Sub(l.windowStart) >= window {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.max {
		return false
	}
	l.count++
	return true
}
