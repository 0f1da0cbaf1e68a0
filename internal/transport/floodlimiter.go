package transport

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FloodLimiterConfig configures per-source-address inbound datagram
// limiting on the I/O driver.
type FloodLimiterConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

// DefaultFloodLimiterConfig allows a generous steady rate while still
// bounding a single misbehaving or malicious source: 50 datagrams/second
// with a burst of 100.
func DefaultFloodLimiterConfig() FloodLimiterConfig {
	return FloodLimiterConfig{
		Rate:            rate.Limit(50),
		Burst:           100,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// FloodLimiter tracks one token-bucket limiter per source address,
// guarding the I/O driver's demux from a single flooding peer starving
// the single event-loop goroutine.
type FloodLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	cfg     FloodLimiterConfig
	stop    chan struct{}
}

// NewFloodLimiter starts a limiter with a background cleanup goroutine
// that evicts idle entries.
func NewFloodLimiter(cfg FloodLimiterConfig) *FloodLimiter {
	fl := &FloodLimiter{
		entries: make(map[string]*limiterEntry),
		cfg:     cfg,
		stop:    make(chan struct{}),
	}
	go fl.cleanupLoop()
	return fl
}

// Allow reports whether a datagram from addr may be processed.
func (fl *FloodLimiter) Allow(addr string) bool {
	fl.mu.Lock()
	entry, ok := fl.entries[addr]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(fl.cfg.Rate, fl.cfg.Burst)}
		fl.entries[addr] = entry
	}
	entry.lastSeen = time.Now()
	fl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop terminates the background cleanup goroutine.
func (fl *FloodLimiter) Stop() {
	close(fl.stop)
}

func (fl *FloodLimiter) cleanupLoop() {
	ticker := time.NewTicker(fl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fl.cleanup()
		case <-fl.stop:
			return
		}
	}
}

func (fl *FloodLimiter) cleanup() {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	cutoff := time.Now().Add(-fl.cfg.MaxAge)
	for addr, entry := range fl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(fl.entries, addr)
		}
	}
}
