package auth

import (
	"sync"
	"time"
)

// IPRateLimiter bounds how often a single IP can perform an action, with a
// small burst allowance. Entries for idle IPs are pruned periodically so the
// map stays bounded.
type IPRateLimiter struct {
	mu           sync.Mutex
	usage        map[string]*bucketState
	interval     time.Duration
	burst        int
	pruneCounter uint8
}

type bucketState struct {
	until     time.Time
	burstUsed int
}

// NewIPRateLimiter allows one action per interval per IP, with the given
// burst on top.
func NewIPRateLimiter(interval time.Duration, burst int) *IPRateLimiter {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &IPRateLimiter{
		usage:    make(map[string]*bucketState),
		interval: interval,
		burst:    burst,
	}
}

// ShouldLimit marks the action as performed by ip and reports whether it
// should be blocked.
func (l *IPRateLimiter) ShouldLimit(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	st, ok := l.usage[ip]
	if !ok {
		st = &bucketState{until: now}
		l.usage[ip] = st
	}

	limited := false
	if st.until.Before(now) || st.until.Equal(now) {
		st.until = now.Add(l.interval)
		st.burstUsed = 0
	} else if st.burstUsed < l.burst {
		st.burstUsed++
		st.until = st.until.Add(l.interval)
	} else {
		limited = true
	}

	l.pruneCounter++
	if l.pruneCounter == 0 {
		l.pruneLocked(now)
	}
	return limited
}

// Prune drops entries whose allowance has fully recovered.
func (l *IPRateLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())
}

func (l *IPRateLimiter) pruneLocked(now time.Time) {
	for ip, st := range l.usage {
		if !st.until.After(now) {
			delete(l.usage, ip)
		}
	}
}

// Len returns the number of tracked IPs.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.usage)
}
