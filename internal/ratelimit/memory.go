package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor pairs a token bucket with its last activity time so idle
// entries can be evicted.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps one token bucket per key in process memory.
// Buckets refill at requests-per-minute converted to a per-second
// rate, with the configured burst capacity.
type MemoryStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rpm      int
	burst    int
	done     chan struct{}
	once     sync.Once
}

// NewMemoryStore builds an in-memory store and starts a background
// sweep that drops keys idle for more than three minutes.
func NewMemoryStore(requestsPerMinute, burst int) *MemoryStore {
	if burst <= 0 {
		burst = requestsPerMinute
	}
	s := &MemoryStore{
		visitors: make(map[string]*visitor),
		rpm:      requestsPerMinute,
		burst:    burst,
		done:     make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Allow consumes one token from key's bucket.
func (s *MemoryStore) Allow(key string, now time.Time) (bool, error) {
	s.mu.Lock()
	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{
			limiter: rate.NewLimiter(rate.Limit(float64(s.rpm)/60.0), s.burst),
		}
		s.visitors[key] = v
	}
	v.lastSeen = now
	s.mu.Unlock()
	return v.limiter.AllowN(now, 1), nil
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-3 * time.Minute)
			s.mu.Lock()
			for key, v := range s.visitors {
				if v.lastSeen.Before(cutoff) {
					delete(s.visitors, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the background sweep.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
