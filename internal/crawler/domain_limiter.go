package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterSettings configures token-bucket style rate limiting per host.
type RateLimiterSettings struct {
	Requests int
	Window   time.Duration
}

// DomainLimiter enforces per-host politeness: a minimum delay between request
// starts plus an optional token bucket.
type DomainLimiter struct {
	delay time.Duration
	rate  RateLimiterSettings

	mu    sync.Mutex
	hosts map[string]*hostSlot
}

type hostSlot struct {
	mu      sync.Mutex
	next    time.Time
	limiter *rate.Limiter
}

// NewDomainLimiter creates a limiter with per-domain delay and optional rate limiting.
func NewDomainLimiter(delay time.Duration, rateCfg RateLimiterSettings) *DomainLimiter {
	return &DomainLimiter{
		delay: delay,
		rate:  rateCfg,
		hosts: make(map[string]*hostSlot),
	}
}

func (d *DomainLimiter) enabled() bool {
	return d.delay > 0 || (d.rate.Requests > 0 && d.rate.Window > 0)
}

// Wait blocks until politeness constraints for the host are satisfied.
// Concurrent callers for one host are spaced by the delay in arrival order.
func (d *DomainLimiter) Wait(ctx context.Context, host string) error {
	if d == nil || host == "" || !d.enabled() {
		return nil
	}
	slot := d.slot(strings.ToLower(host))

	var sleep time.Duration
	if d.delay > 0 {
		now := time.Now()
		slot.mu.Lock()
		start := now
		if slot.next.After(now) {
			start = slot.next
		}
		slot.next = start.Add(d.delay)
		slot.mu.Unlock()
		sleep = start.Sub(now)
	}

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if slot.limiter != nil {
		return slot.limiter.Wait(ctx)
	}
	return nil
}

func (d *DomainLimiter) slot(host string) *hostSlot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.hosts[host]; ok {
		return s
	}
	s := &hostSlot{}
	if d.rate.Requests > 0 && d.rate.Window > 0 {
		interval := d.rate.Window / time.Duration(d.rate.Requests)
		if interval <= 0 {
			interval = time.Millisecond
		}
		s.limiter = rate.NewLimiter(rate.Every(interval), d.rate.Requests)
	}
	d.hosts[host] = s
	return s
}
