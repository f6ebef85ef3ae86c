package middleware

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Tier names a token bucket. Each client IP gets one bucket per tier.
type Tier string

const (
	// TierNormal is spent by every ordinary request.
	TierNormal Tier = "normal"
	// TierSession is spent when a client opens a sync session.
	TierSession Tier = "session"
)

type quota struct {
	rate  rate.Limit
	burst int
}

// Decision is the outcome of spending one token.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
}

type client struct {
	buckets  map[Tier]*rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out per-IP token buckets for each tier.
type IPRateLimiter struct {
	mu      sync.Mutex
	quotas  map[Tier]quota
	clients map[string]*client
	now     func() time.Time
}

func NewIPRateLimiter(normalRate rate.Limit, normalBurst int, sessionRate rate.Limit, sessionBurst int) *IPRateLimiter {
	return &IPRateLimiter{
		quotas: map[Tier]quota{
			TierNormal:  {rate: normalRate, burst: normalBurst},
			TierSession: {rate: sessionRate, burst: sessionBurst},
		},
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// bucket returns the limiter for ip and tier, creating the client on first sight.
func (l *IPRateLimiter) bucket(ip string, tier Tier) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		c = &client{buckets: make(map[Tier]*rate.Limiter, len(l.quotas))}
		for t, q := range l.quotas {
			c.buckets[t] = rate.NewLimiter(q.rate, q.burst)
		}
		l.clients[ip] = c
	}
	c.lastSeen = l.now()
	return c.buckets[tier]
}

// Take spends one token of tier for ip.
func (l *IPRateLimiter) Take(ip string, tier Tier) Decision {
	b := l.bucket(ip, tier)
	if b == nil {
		return Decision{}
	}
	d := Decision{Allowed: b.Allow(), Limit: b.Burst()}
	if d.Allowed {
		d.Remaining = max(0, int(math.Floor(b.Tokens())))
	}
	return d
}

// Limit reports the burst size of tier.
func (l *IPRateLimiter) Limit(tier Tier) int {
	return l.quotas[tier].burst
}

// Prune forgets clients idle for longer than idle. A forgotten client starts
// again with full buckets.
func (l *IPRateLimiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

// Clients reports how many IPs currently hold buckets.
func (l *IPRateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
