// Package ratelimit throttles the command endpoint. Budgets are
// enforced per source address (or globally when per-IP accounting is
// off). The limiter fails closed: if the backing store cannot answer,
// the request is rejected as a security failure, never waved through.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/factgate/factgate/internal/model"
)

// Store answers whether one more request fits the caller's budget.
// Implementations must be safe for concurrent use.
type Store interface {
	// Allow consumes one request from key's budget. A store error
	// means the decision could not be made; callers must deny.
	Allow(key string, now time.Time) (bool, error)
	Close() error
}

// Config sets the request budget.
type Config struct {
	RequestsPerMinute int
	Burst             int
	PerIP             bool
}

// Limiter applies a Config against a Store.
type Limiter struct {
	cfg   Config
	store Store
}

// New builds a Limiter. Burst defaults to RequestsPerMinute when
// unset so a fresh bucket holds one minute of budget.
func New(cfg Config, store Store) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute
	}
	return &Limiter{cfg: cfg, store: store}
}

// Check consumes one request from the budget for addr. Returns
// model.ErrThrottled when the budget is exhausted and
// model.ErrSecurityUnavailable when the store cannot decide.
func (l *Limiter) Check(addr string, now time.Time) error {
	key := "global"
	if l.cfg.PerIP {
		key = addr
	}
	ok, err := l.store.Allow(key, now)
	if err != nil {
		return fmt.Errorf("ratelimit: store failure: %w", model.ErrSecurityUnavailable)
	}
	if !ok {
		return model.ErrThrottled
	}
	return nil
}

// Close releases the backing store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
