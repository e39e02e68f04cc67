package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// Fallbacks when the config leaves rate limiting unset.
const (
	defaultRPS   = 5
	defaultBurst = 10
)

// limiterPool hands out one token bucket per caller key (api key or
// remote ip). Buckets are created lazily and live for the process;
// the key space is bounded by the configured keys plus client ips.
type limiterPool struct {
	mu   sync.Mutex
	pool map[string]*rate.Limiter
	cfg  SecConfig
}

func (p *limiterPool) limiter(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool == nil {
		p.pool = make(map[string]*rate.Limiter)
	}
	if l, ok := p.pool[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.pool[key] = l
	return l
}

// Allow reports whether the caller identified by key may proceed.
func (p *limiterPool) Allow(key string) bool {
	return p.limiter(key).Allow()
}
